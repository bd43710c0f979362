package config

// Config holds the settings agentsdkctl reads from opencode.json/opencode.jsonc
// files and environment variables. It was adapted off pkg/types.Config, trimmed
// to the fields this rewrite's components actually consume (model selection,
// provider credentials, per-agent overrides, permission defaults) — the
// teacher's MCP/LSP/formatter/watcher surfaces belonged to packages this
// rewrite doesn't carry (see DESIGN.md's Dropped teacher dependencies).
type Config struct {
	Model      string `json:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty"`

	Tools           map[string]bool   `json:"tools,omitempty"`
	Instructions    []string          `json:"instructions,omitempty"`
	PromptVariables map[string]string `json:"promptVariables,omitempty"`

	Provider map[string]ProviderConfig `json:"provider,omitempty"`
	Agent    map[string]AgentConfig    `json:"agent,omitempty"`

	Permission *PermissionConfig `json:"permission,omitempty"`
}

// ProviderConfig holds configuration for a specific LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
	Disable bool   `json:"disable,omitempty"`
}

// AgentConfig holds per-agent overrides of model and generation parameters.
type AgentConfig struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`

	Tools      map[string]bool   `json:"tools,omitempty"`
	Permission *PermissionConfig `json:"permission,omitempty"`

	Description string `json:"description,omitempty"`
	Mode        string `json:"mode,omitempty"` // "subagent"|"primary"|"all"
	Disable     bool   `json:"disable,omitempty"`
}

// PermissionConfig mirrors internal/permission's PermissionAction values as
// raw strings (or, for Bash, a pattern map) the way the config file spells
// them, so Load never has to import internal/permission.
type PermissionConfig struct {
	Edit        string      `json:"edit,omitempty"`
	Bash        interface{} `json:"bash,omitempty"` // string or map[string]string
	WebFetch    string      `json:"webfetch,omitempty"`
	ExternalDir string      `json:"external_directory,omitempty"`
	DoomLoop    string      `json:"doom_loop,omitempty"`
}
