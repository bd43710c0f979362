package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/eino-ext/components/model/claude"

	"github.com/jimwhite/agent-sdk-sub003/internal/logging"
)

// Retry tuning reused verbatim from the teacher's agentic loop
// (internal/session/loop.go's MaxRetries/RetryInitialInterval/...).
const (
	maxRetries            = 3
	retryInitialInterval  = time.Second
	retryMaxInterval      = 30 * time.Second
	retryMaxElapsedTime   = 2 * time.Minute
)

// AnthropicConfig configures the Claude-backed LLM implementation.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Anthropic is the concrete LLM backed by Claude via Eino's chat-model
// adapter, grounded on internal/provider/anthropic.go's CreateCompletion.
// Unlike the teacher, retry-with-backoff lives here rather than in the
// caller, per the engine/LLM split in spec §9 Design Notes.
type Anthropic struct {
	chatModel model.ToolCallingChatModel
	maxTokens int
}

// NewAnthropic constructs the adapter, defaulting the API key from
// ANTHROPIC_API_KEY and the model to claude-sonnet-4-20250514 exactly as
// the teacher's NewAnthropicProvider does.
func NewAnthropic(ctx context.Context, cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	claudeCfg := &claude.Config{APIKey: apiKey, Model: modelID, MaxTokens: maxTokens}
	if cfg.BaseURL != "" {
		claudeCfg.BaseURL = &cfg.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("llm: create claude chat model: %w", err)
	}

	return &Anthropic{chatModel: chatModel, maxTokens: maxTokens}, nil
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Complete implements the LLM interface, retrying transient failures
// internally and surfacing only a typed LlmFailure once retries are
// exhausted (§6, §9).
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	chatModel := a.chatModel
	if len(req.Tools) > 0 {
		toolInfos := toEinoTools(req.Tools)
		var err error
		chatModel, err = chatModel.WithTools(toolInfos)
		if err != nil {
			return nil, &LlmFailure{Kind: "bind_tools", Err: err}
		}
	}
	einoMessages := toEinoMessages(req.Messages)

	var result *schema.Message
	operation := func() error {
		msg, err := chatModel.Generate(ctx, einoMessages,
			model.WithMaxTokens(req.MaxTokens),
			model.WithTemperature(float32(req.Temperature)),
		)
		if err != nil {
			logging.Warn().Err(err).Msg("llm completion attempt failed")
			return err
		}
		result = msg
		return nil
	}

	if err := backoff.Retry(operation, newRetryBackoff(ctx)); err != nil {
		return nil, &LlmFailure{Kind: "completion", Err: err}
	}

	return fromEinoMessage(result), nil
}

func toEinoTools(tools []ToolSchema) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.InputSchema)),
		}
	}
	return out
}

func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var js struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if len(schemaJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(schemaJSON, &js); err != nil {
		return nil
	}
	required := make(map[string]bool, len(js.Required))
	for _, r := range js.Required {
		required[r] = true
	}
	params := make(map[string]*schema.ParameterInfo, len(js.Properties))
	for name, prop := range js.Properties {
		t := schema.String
		switch prop.Type {
		case "integer":
			t = schema.Integer
		case "number":
			t = schema.Number
		case "boolean":
			t = schema.Boolean
		case "array":
			t = schema.Array
		case "object":
			t = schema.Object
		}
		params[name] = &schema.ParameterInfo{Type: t, Desc: prop.Description, Required: required[name]}
	}
	return params
}

func toEinoMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		role := schema.Assistant
		switch m.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		case "tool":
			role = schema.Tool
		}
		content := ""
		for _, p := range m.Content {
			if p.Type == "text" {
				content += p.Text
			}
		}
		em := &schema.Message{Role: role, Content: content}
		if m.Role == "tool" {
			em.ToolCallID = m.ToolCallID
		}
		out = append(out, em)
	}
	return out
}

func fromEinoMessage(msg *schema.Message) *CompletionResult {
	res := &CompletionResult{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(res.ToolCalls) == 0 && res.Text != "" {
		res.FinishReason = "stop"
	} else if len(res.ToolCalls) > 0 {
		res.FinishReason = "tool_calls"
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		res.Metrics.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
		res.Metrics.CompletionTokens = msg.ResponseMeta.Usage.CompletionTokens
	}
	return res
}
