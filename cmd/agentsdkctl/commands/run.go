package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jimwhite/agent-sdk-sub003/internal/config"
	"github.com/jimwhite/agent-sdk-sub003/internal/conversation"
	"github.com/jimwhite/agent-sdk-sub003/internal/delegation"
	"github.com/jimwhite/agent-sdk-sub003/internal/llm"
	"github.com/jimwhite/agent-sdk-sub003/internal/logging"
	"github.com/jimwhite/agent-sdk-sub003/internal/permission"
	"github.com/jimwhite/agent-sdk-sub003/internal/storage"
	"github.com/jimwhite/agent-sdk-sub003/internal/tool"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var (
	runDir      string
	runModel    string
	runMaxSteps int
	runSystem   string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Drive one conversation to completion",
	Long: `Drive a single conversation to completion: build a Step over the
default tool registry and a Claude-backed LLM, run the conversation engine
loop until it finishes, pauses, or errors, and print the resulting event
log.

Examples:
  agentsdkctl run "list the files in this repo"
  agentsdkctl run --dir /path/to/project "fix the failing test"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConversation,
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", "", "Working directory (defaults to cwd)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Anthropic model id (defaults to claude-sonnet-4-20250514)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "Override the engine's max step count (0 keeps the default)")
	runCmd.Flags().StringVar(&runSystem, "system", "You are a careful, concise coding agent. Call finish once the task is done.", "System prompt")
}

func runConversation(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	workDir := runDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("agentsdkctl: getwd: %w", err)
		}
	}

	store := storage.New(workDir + "/.agentsdk")
	toolReg := tool.DefaultRegistry(workDir, store)

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("agentsdkctl: load config: %w", err)
	}

	modelID := runModel
	if modelID == "" {
		modelID = cfg.Model
	}
	anthropicCfg := llm.AnthropicConfig{Model: modelID}
	if p, ok := cfg.Provider["anthropic"]; ok {
		anthropicCfg.APIKey = p.APIKey
		anthropicCfg.BaseURL = p.BaseURL
	}

	model, err := llm.NewAnthropic(ctx, anthropicCfg)
	if err != nil {
		return fmt.Errorf("agentsdkctl: %w", err)
	}

	convDir := workDir + "/.agentsdk/conversations"
	convID := ulid.Make().String()
	log := conversation.NewLog(convDir, convID, true)

	agent := &conversation.Agent{
		SystemPrompt: runSystem,
		Tools:        toolSchemas(toolReg),
		Model:        model,
		Temperature:  0.2,
		MaxTokens:    4096,
	}

	coord := delegation.New()
	coord.RegisterParent(convID, log)
	coord.NewChild = func(ctx context.Context, parentID, task string) (string, *conversation.Engine, *conversation.Log, error) {
		return spawnChild(convDir, workDir, model, toolReg, task)
	}

	step := &conversation.Step{
		Log:   log,
		Agent: agent,
		Dispatcher: &conversation.Dispatcher{
			Registry:   toolReg,
			Permission: permission.NewChecker(),
		},
		Condenser: conversation.NoOpCondenser{},
		WorkDir:   workDir,
		DelegateFn: func(ctx context.Context, action *conversation.Action) *conversation.Observation {
			return delegateAction(ctx, coord, convID, action)
		},
	}

	engineCfg := conversation.DefaultEngineConfig()
	if runMaxSteps > 0 {
		engineCfg.MaxStepCount = runMaxSteps
	}
	engineCfg.Observers = []conversation.EventObserver{printObserver{}}

	eng := conversation.NewEngine(log, step, engineCfg)
	coord.RegisterParentEngine(convID, eng)

	userMsg := &conversation.Message{
		Base:    conversation.Base{ID: ulid.Make().String(), From: conversation.SourceUser},
		Role:    "user",
		Content: []conversation.ContentPart{{Type: "text", Text: strings.Join(args, " ")}},
	}
	if _, err := log.Append(ctx, userMsg); err != nil {
		return fmt.Errorf("agentsdkctl: append user message: %w", err)
	}

	if err := eng.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("conversation run ended with error")
		return err
	}

	fmt.Fprintf(os.Stdout, "status: %s\n", eng.Status())
	return nil
}

// delegateAction spawns a child conversation for a "delegate" action and
// returns a placeholder Observation immediately; the real result arrives
// later as a Message the coordinator appends to the parent log (§4.7.1),
// which wakes this engine via Resume when it is paused or idle.
func delegateAction(ctx context.Context, coord *delegation.Coordinator, parentID string, action *conversation.Action) *conversation.Observation {
	var params struct {
		Task string `json:"task"`
	}
	_ = json.Unmarshal(action.Arguments, &params)

	childID, err := coord.Spawn(ctx, parentID, params.Task)
	if err != nil {
		return &conversation.Observation{
			Base:     conversation.Base{ID: ulid.Make().String(), From: conversation.SourceEnvironment},
			ActionID: action.ToolCallID,
			ToolName: action.ToolName,
			Error:    err.Error(),
		}
	}
	return &conversation.Observation{
		Base:     conversation.Base{ID: ulid.Make().String(), From: conversation.SourceEnvironment},
		ActionID: action.ToolCallID,
		ToolName: action.ToolName,
		Output:   fmt.Sprintf("delegated to child %s", childID),
	}
}

// spawnChild builds a fresh Log+Step+Engine triple for one delegated child
// conversation, sharing the parent's tool registry and model (§4.7.1:
// children inherit the parent's workspace). It never registers a DelegateFn
// of its own, so a child cannot itself delegate further.
func spawnChild(convDir, workDir string, model llm.LLM, toolReg *tool.Registry, task string) (string, *conversation.Engine, *conversation.Log, error) {
	childID := ulid.Make().String()
	childLog := conversation.NewLog(convDir, childID, true)

	agent := &conversation.Agent{
		SystemPrompt: "You are a subagent. Complete the delegated task, then call finish with a summary.",
		Tools:        toolSchemas(toolReg),
		Model:        model,
		Temperature:  0.2,
		MaxTokens:    4096,
	}

	step := &conversation.Step{
		Log:   childLog,
		Agent: agent,
		Dispatcher: &conversation.Dispatcher{
			Registry:   toolReg,
			Permission: permission.NewChecker(),
		},
		Condenser: conversation.NoOpCondenser{},
		WorkDir:   workDir,
	}

	eng := conversation.NewEngine(childLog, step, conversation.DefaultEngineConfig())

	taskMsg := &conversation.Message{
		Base:    conversation.Base{ID: ulid.Make().String(), From: conversation.SourceUser},
		Role:    "user",
		Content: []conversation.ContentPart{{Type: "text", Text: task}},
	}
	if _, err := childLog.Append(context.Background(), taskMsg); err != nil {
		return "", nil, nil, err
	}

	return childID, eng, childLog, nil
}

func toolSchemas(reg *tool.Registry) []conversation.ToolSchema {
	tools := reg.List()
	schemas := make([]conversation.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, conversation.ToolSchema{
			Name:        t.ID(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return schemas
}

// printObserver writes a one-line summary of every event to stdout, the
// CLI's stand-in for the richer event stream a real front-end would render.
type printObserver struct{}

func (printObserver) OnEvent(e conversation.Event) {
	fmt.Fprintf(os.Stdout, "[%s] %s\n", e.EventSource(), e.Kind())
}
