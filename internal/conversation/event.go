// Package conversation implements the event-sourced conversation engine: the
// append-only event log, the read-only view and condenser built over it, and
// the agent-step/run-loop machinery that drives an LLM + tool set to
// completion.
package conversation

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the Event tagged union.
type Kind string

const (
	KindSystemPrompt         Kind = "system_prompt"
	KindMessage              Kind = "message"
	KindAction               Kind = "action"
	KindObservation          Kind = "observation"
	KindAgentError           Kind = "agent_error"
	KindUserRejectObs        Kind = "user_reject_observation"
	KindPause                Kind = "pause"
	KindCondensationRequest  Kind = "condensation_request"
	KindCondensation         Kind = "condensation"
)

// Source identifies who originated an event.
type Source string

const (
	SourceAgent       Source = "agent"
	SourceUser        Source = "user"
	SourceEnvironment Source = "environment"
)

// Event is the tagged-union interface every event kind implements. Events are
// immutable once appended to a Log; mutating a struct obtained from the log
// does not affect the persisted record.
type Event interface {
	Kind() Kind
	EventID() string
	EventTime() int64
	EventSource() Source
}

// Base carries the fields common to every event variant.
type Base struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	From      Source `json:"source"`
}

func (b Base) EventID() string     { return b.ID }
func (b Base) EventTime() int64    { return b.Timestamp }
func (b Base) EventSource() Source { return b.From }

// ContentPart is one piece of a Message's ordered content.
type ContentPart struct {
	Type string `json:"type"` // "text" | "image" | "reasoning"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"` // for "image"
}

// ToolSchema is the JSON-Schema-described shape of a tool as seen by the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// SystemPrompt carries the system prompt text and the tool schemas visible to
// the LLM at the point it was appended. Step.Run appends one at the start of
// every step, per the agent step contract (§4.6 step 1).
type SystemPrompt struct {
	Base
	Text  string       `json:"text"`
	Tools []ToolSchema `json:"tools"`
}

func (SystemPrompt) Kind() Kind { return KindSystemPrompt }

// Message is a user- or agent-origin chat message with ordered content parts.
type Message struct {
	Base
	Role    string        `json:"role"` // "user" | "assistant"
	Content []ContentPart `json:"content"`
	// ChildConvID tags a message injected by the delegation coordinator on
	// behalf of a child conversation's FinishAction (§4.7.1).
	ChildConvID string `json:"child_conv_id,omitempty"`
}

func (Message) Kind() Kind { return KindMessage }

// Action is an agent-originated tool invocation.
type Action struct {
	Base
	ToolCallID    string          `json:"tool_call_id"`
	ToolName      string          `json:"tool_name"`
	Arguments     json.RawMessage `json:"arguments"`
	Thought       string          `json:"thought,omitempty"`
	LLMResponseID string          `json:"llm_response_id"`
	// Metrics is non-nil only on the last action of a shared LLMResponseID
	// group (§4.6 step 3).
	Metrics *Metrics `json:"metrics,omitempty"`
}

func (Action) Kind() Kind { return KindAction }

// IsFinish reports whether this action is the canonical finish action. The
// wire-level tool name is "finish"; FinishAction is the canonical kind tag
// per the Open Question in §9 — the engine special-cases on ToolName here
// rather than a separate event kind.
func (a Action) IsFinish() bool { return a.ToolName == "finish" }

// IsThink reports whether this action is the no-op "think" tool.
func (a Action) IsThink() bool { return a.ToolName == "think" }

// IsDelegate reports whether this action must route to the delegation
// coordinator instead of the tool registry.
func (a Action) IsDelegate() bool { return a.ToolName == "delegate" }

// Observation is the environment's reply to a specific Action.
type Observation struct {
	Base
	ActionID string          `json:"action_id"`
	ToolName string          `json:"tool_name"`
	Output   string          `json:"output"`
	Error    string          `json:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (Observation) Kind() Kind { return KindObservation }

// AgentError is a non-fatal scaffold-level error surfaced to the LLM.
type AgentError struct {
	Base
	Message string `json:"message"`
	// StuckReason is set when this AgentError was produced by the stuck
	// detector rather than a tool/executor failure.
	StuckReason string `json:"stuck_reason,omitempty"`
}

func (AgentError) Kind() Kind { return KindAgentError }

// UserRejectObservation replies to an Action rejected in confirmation mode.
type UserRejectObservation struct {
	Base
	ActionID        string `json:"action_id"`
	RejectionReason string `json:"rejection_reason"`
}

func (UserRejectObservation) Kind() Kind { return KindUserRejectObs }

// Pause is a user-originated pause marker.
type Pause struct {
	Base
}

func (Pause) Kind() Kind { return KindPause }

// CondensationRequest records that a condenser run was triggered.
type CondensationRequest struct {
	Base
	Reason string `json:"reason"`
}

func (CondensationRequest) Kind() Kind { return KindCondensationRequest }

// Condensation is the result of a condenser run: the ids of events now
// forgotten for view purposes, and an optional summary spliced in at
// SummaryOffset. At most one Condensation is active at a time (the most
// recent one in the log).
type Condensation struct {
	Base
	ForgottenEventIDs []string `json:"forgotten_event_ids"`
	Summary           string   `json:"summary,omitempty"`
	SummaryOffset     int      `json:"summary_offset"`
}

func (Condensation) Kind() Kind { return KindCondensation }

// Metrics is the LLM call's accounting snapshot, attached opaquely to the
// last Action of an LLMResponseID group (§4.6).
type Metrics struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	ReasoningTokens  int     `json:"reasoning_tokens"`
	AccumulatedCost  float64 `json:"accumulated_cost"`
}

// envelope is the wire shape used to recover the discriminator before
// unmarshaling into the concrete variant, mirroring the RawPart dispatch
// idiom used for message parts elsewhere in this codebase.
type envelope struct {
	KindField Kind `json:"kind"`
}

// Marshal serializes an Event with its kind envelope field set.
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	kindJSON, _ := json.Marshal(e.Kind())
	raw["kind"] = kindJSON
	return json.Marshal(raw)
}

// Unmarshal recovers the concrete Event variant from its kind envelope.
// Unknown kinds and unknown extra fields are tolerated at the call site by
// returning an error the caller may choose to skip, per the forward
// compatibility requirement in §6 — callers that must not fail fast (e.g. a
// CLI tailing the log) should treat ErrUnknownKind as non-fatal; replay()
// treats it as fatal (§4.1).
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("conversation: decode event envelope: %w", err)
	}
	switch env.KindField {
	case KindSystemPrompt:
		var e SystemPrompt
		return &e, json.Unmarshal(data, &e)
	case KindMessage:
		var e Message
		return &e, json.Unmarshal(data, &e)
	case KindAction:
		var e Action
		return &e, json.Unmarshal(data, &e)
	case KindObservation:
		var e Observation
		return &e, json.Unmarshal(data, &e)
	case KindAgentError:
		var e AgentError
		return &e, json.Unmarshal(data, &e)
	case KindUserRejectObs:
		var e UserRejectObservation
		return &e, json.Unmarshal(data, &e)
	case KindPause:
		var e Pause
		return &e, json.Unmarshal(data, &e)
	case KindCondensationRequest:
		var e CondensationRequest
		return &e, json.Unmarshal(data, &e)
	case KindCondensation:
		var e Condensation
		return &e, json.Unmarshal(data, &e)
	default:
		return nil, &ErrUnknownKind{Kind: string(env.KindField)}
	}
}

// ErrUnknownKind is returned by Unmarshal for an event kind this build does
// not recognize.
type ErrUnknownKind struct {
	Kind string
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("conversation: unknown event kind %q", e.Kind)
}
