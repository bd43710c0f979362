package tool

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
)

// finishDescription and thinkDescription describe the two special tools the
// conversation engine intercepts before dispatch (§4.3 "Special tools").
// They are still registered here so their schemas reach the LLM through
// the normal tool-listing path; FinishTool.Execute/ThinkTool.Execute are
// never actually called in the conversation engine's path since Step
// special-cases both before reaching the Dispatcher, but are implemented
// so the tool remains usable outside that path (e.g. direct Dispatch calls
// in tests).
const finishDescription = `Signals that the task is complete. Call this once you have finished the
requested work, with a brief summary of what was done as the result.`

const thinkDescription = `Records a private reasoning note without taking any action. Use this to
plan before calling other tools; it has no side effects.`

// FinishTool is the canonical "finish" tool (§4.3, §9).
type FinishTool struct{}

func NewFinishTool() *FinishTool { return &FinishTool{} }

func (t *FinishTool) ID() string          { return "finish" }
func (t *FinishTool) Description() string { return finishDescription }

func (t *FinishTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"result": {"type": "string", "description": "summary of the completed task"}
		},
		"required": ["result"]
	}`)
}

func (t *FinishTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Result string `json:"result"`
	}
	_ = json.Unmarshal(input, &params)
	return &Result{Title: "finish", Output: params.Result}, nil
}

func (t *FinishTool) EinoTool() einotool.InvokableTool {
	return (&BaseTool{id: t.ID(), description: t.Description(), parameters: t.Parameters(), execute: t.Execute}).EinoTool()
}

// ThinkTool is the canonical no-op "think" tool (§4.3, §9).
type ThinkTool struct{}

func NewThinkTool() *ThinkTool { return &ThinkTool{} }

func (t *ThinkTool) ID() string          { return "think" }
func (t *ThinkTool) Description() string { return thinkDescription }

func (t *ThinkTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "the reasoning note"}
		},
		"required": ["thought"]
	}`)
}

func (t *ThinkTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return &Result{Title: "think", Output: "acknowledged"}, nil
}

func (t *ThinkTool) EinoTool() einotool.InvokableTool {
	return (&BaseTool{id: t.ID(), description: t.Description(), parameters: t.Parameters(), execute: t.Execute}).EinoTool()
}
