package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/jimwhite/agent-sdk-sub003/internal/bashsession"
)

const persistentBashDescription = `Runs a command in a persistent bash shell session scoped to this
conversation's workspace.

Usage:
- The shell persists across calls: working directory, environment
  variables, and background processes carry over between commands.
- Optional timeout in milliseconds (default 120000, max 600000); a
  command that exceeds it is reported with status timed_out and the shell
  is resynced; its partial output is not returned.
- Use restart=true to kill and respawn the underlying shell process if it
  becomes unresponsive.`

// BashSessionTool adapts a bashsession.Session to the Tool interface,
// superseding BashTool's one-shot exec.CommandContext-per-call model with a
// real persistent shell (§4.4). Registered under the same "bash" id so it
// is a drop-in replacement in DefaultRegistry.
type BashSessionTool struct {
	session *bashsession.Session
}

// NewBashSessionTool wraps session as a Tool.
func NewBashSessionTool(session *bashsession.Session) *BashSessionTool {
	return &BashSessionTool{session: session}
}

type bashSessionInput struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
	Restart bool   `json:"restart,omitempty"`
}

func (t *BashSessionTool) ID() string          { return "bash" }
func (t *BashSessionTool) Description() string { return persistentBashDescription }

func (t *BashSessionTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to run in the persistent shell"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"restart": {
				"type": "boolean",
				"description": "If true, kill and respawn the shell before running command"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashSessionTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params bashSessionInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if params.Restart {
		if err := t.session.Close(); err != nil {
			return nil, fmt.Errorf("restart bash session: %w", err)
		}
	}

	timeout := bashsession.DefaultTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > 600*time.Second {
			timeout = 600 * time.Second
		}
	}

	result, err := t.session.Run(ctx, params.Command, timeout)
	if err != nil {
		return nil, err
	}

	return &Result{
		Title:  params.Command,
		Output: result.Output,
		Metadata: map[string]any{
			"exit_code": result.ExitCode,
			"status":    string(result.Status),
		},
	}, nil
}

func (t *BashSessionTool) EinoTool() einotool.InvokableTool {
	return (&BaseTool{
		id:          t.ID(),
		description: t.Description(),
		parameters:  t.Parameters(),
		execute:     t.Execute,
	}).EinoTool()
}
