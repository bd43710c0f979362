// Package llm defines the contract the conversation engine calls against the
// LLM transport, which is explicitly out of scope as a component (spec §1)
// but is specified at the boundary the engine depends on (§6).
package llm

import (
	"context"
	"encoding/json"
)

// Message is one entry of the prompt sent to the model.
type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content []ContentPart
	// ToolCallID ties a "tool" role message back to the Action it answers.
	ToolCallID string
}

// ContentPart mirrors conversation.ContentPart without importing that
// package, keeping this contract free of engine-internal types.
type ContentPart struct {
	Type string // "text" | "image" | "reasoning"
	Text string
	URL  string
}

// ToolSchema is the JSON-Schema-described tool surface offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is one invocation the model asked for in its reply.
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON json.RawMessage
}

// Metrics is the accounting snapshot returned alongside a completion, per
// §6 — opaque to the engine beyond being attached to the right Action.
type Metrics struct {
	PromptTokens     int
	CompletionTokens int
	CacheReadTokens  int
	CacheWriteTokens int
	ReasoningTokens  int
	AccumulatedCost  float64
}

// CompletionRequest is the full input to one LLM call.
type CompletionRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the model's reply: text content, optional reasoning,
// and zero or more tool calls, plus the call's metrics snapshot.
type CompletionResult struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
	Metrics   Metrics
	// FinishReason is the provider's stop reason, kept opaque to callers
	// beyond the no-tool-calls branch the agent step checks (§4.6 step 3).
	FinishReason string
}

// LLM is the abstraction the engine calls. Retry/backoff for transient
// transport failures is this abstraction's concern, not the engine's (§9
// Design Notes — "Retry/backoff for LLM"): a concrete implementation should
// retry internally and only return LlmFailure once retries are exhausted.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// LlmFailure is returned once retries inside an LLM implementation are
// exhausted (§6 error conditions).
type LlmFailure struct {
	Kind string
	Err  error
}

func (e *LlmFailure) Error() string {
	if e.Err != nil {
		return "llm: " + e.Kind + ": " + e.Err.Error()
	}
	return "llm: " + e.Kind
}

func (e *LlmFailure) Unwrap() error { return e.Err }
