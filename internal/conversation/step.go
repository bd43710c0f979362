package conversation

import (
	"context"
	"fmt"

	"github.com/jimwhite/agent-sdk-sub003/internal/llm"
)

// Agent is the LLM + tool set + system prompt bound to a conversation.
// Grounded on internal/agent.Agent, narrowed to what a step needs.
type Agent struct {
	SystemPrompt string
	Tools        []ToolSchema
	Model        llm.LLM
	Temperature  float64
	MaxTokens    int
}

// Step runs one unit of agent-step progress (§4.6): it builds the LLM
// input from the current View, calls the LLM, appends Action or Message
// events, dispatches any Actions, and runs the condenser check.
//
// DelegateFn intercepts actions whose ToolName is "delegate", routing to
// the Delegation Coordinator instead of the tool dispatcher (§4.3's
// "Special tools"); it is nil-able for conversations that never delegate.
type Step struct {
	Log        *Log
	Agent      *Agent
	Dispatcher *Dispatcher
	Condenser  Condenser
	WorkDir    string

	DelegateFn func(ctx context.Context, action *Action) *Observation

	// ConfirmFn, when non-nil, is consulted before dispatch for every
	// Action produced this step; returning false rejects with reason.
	ConfirmFn func(action *Action) (accept bool, reason string)
}

// Run executes one step and returns whether the conversation finished.
func (s *Step) Run(ctx context.Context) (finished bool, err error) {
	view := BuildView(s.Log, s.Log.Len())

	sysPrompt := &SystemPrompt{
		Base:  Base{ID: newID(), From: SourceAgent},
		Text:  s.Agent.SystemPrompt,
		Tools: s.Agent.Tools,
	}
	if _, err := s.Log.Append(ctx, sysPrompt); err != nil {
		return false, fmt.Errorf("conversation: append system prompt: %w", err)
	}

	req := llm.CompletionRequest{
		Messages:    toLLMMessages(s.Agent.SystemPrompt, view.Events()),
		Tools:       toLLMTools(s.Agent.Tools),
		Temperature: s.Agent.Temperature,
		MaxTokens:   s.Agent.MaxTokens,
	}

	result, err := s.Agent.Model.Complete(ctx, req)
	if err != nil {
		return false, err
	}

	if len(result.ToolCalls) == 0 {
		msg := &Message{
			Base:    Base{ID: newID(), From: SourceAgent},
			Role:    "assistant",
			Content: []ContentPart{{Type: "text", Text: result.Text}},
		}
		if _, err := s.Log.Append(ctx, msg); err != nil {
			return false, fmt.Errorf("conversation: append message: %w", err)
		}
		return false, s.maybeCondense(ctx)
	}

	llmResponseID := newID()
	actions := make([]*Action, 0, len(result.ToolCalls))
	for i, tc := range result.ToolCalls {
		a := &Action{
			Base:          Base{ID: newID(), From: SourceAgent},
			ToolCallID:    tc.ID,
			ToolName:      tc.Name,
			Arguments:     tc.ArgumentsJSON,
			LLMResponseID: llmResponseID,
		}
		if i == len(result.ToolCalls)-1 {
			a.Metrics = &Metrics{
				PromptTokens:     result.Metrics.PromptTokens,
				CompletionTokens: result.Metrics.CompletionTokens,
				CacheReadTokens:  result.Metrics.CacheReadTokens,
				CacheWriteTokens: result.Metrics.CacheWriteTokens,
				ReasoningTokens:  result.Metrics.ReasoningTokens,
				AccumulatedCost:  result.Metrics.AccumulatedCost,
			}
		}
		if _, err := s.Log.Append(ctx, a); err != nil {
			return false, fmt.Errorf("conversation: append action: %w", err)
		}
		actions = append(actions, a)
	}

	for _, a := range actions {
		if s.ConfirmFn != nil {
			if accept, reason := s.ConfirmFn(a); !accept {
				rej := &UserRejectObservation{
					Base:            Base{ID: newID(), From: SourceUser},
					ActionID:        a.ToolCallID,
					RejectionReason: reason,
				}
				if _, err := s.Log.Append(ctx, rej); err != nil {
					return false, fmt.Errorf("conversation: append reject: %w", err)
				}
				continue
			}
		}

		var obs Event
		switch {
		case a.IsFinish():
			obs = &Observation{
				Base:     Base{ID: newID(), From: SourceEnvironment},
				ActionID: a.ToolCallID,
				ToolName: a.ToolName,
				Output:   "finished",
			}
		case a.IsThink():
			obs = &Observation{
				Base:     Base{ID: newID(), From: SourceEnvironment},
				ActionID: a.ToolCallID,
				ToolName: a.ToolName,
				Output:   "acknowledged",
			}
		case a.IsDelegate() && s.DelegateFn != nil:
			obs = s.DelegateFn(ctx, a)
		default:
			obs = s.Dispatcher.Dispatch(ctx, a, s.WorkDir)
		}
		if _, err := s.Log.Append(ctx, obs); err != nil {
			return false, fmt.Errorf("conversation: append observation: %w", err)
		}

		if a.IsFinish() {
			finished = true
		}
	}

	if finished {
		return true, nil
	}
	return false, s.maybeCondense(ctx)
}

func (s *Step) maybeCondense(ctx context.Context) error {
	if s.Condenser == nil {
		return nil
	}
	view := BuildView(s.Log, s.Log.Len())
	c, err := s.Condenser.Condense(ctx, view)
	if err != nil {
		return fmt.Errorf("conversation: condense: %w", err)
	}
	if c == nil {
		return nil
	}
	_, err = s.Log.Append(ctx, c)
	return err
}

func toLLMMessages(systemPrompt string, events []Event) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: []llm.ContentPart{{Type: "text", Text: systemPrompt}}}}
	for _, e := range events {
		switch ev := e.(type) {
		case *Message:
			parts := make([]llm.ContentPart, len(ev.Content))
			for i, p := range ev.Content {
				parts[i] = llm.ContentPart{Type: p.Type, Text: p.Text, URL: p.URL}
			}
			msgs = append(msgs, llm.Message{Role: ev.Role, Content: parts})
		case *Observation:
			text := ev.Output
			if ev.Error != "" {
				text = "error: " + ev.Error
			}
			msgs = append(msgs, llm.Message{
				Role:       "tool",
				ToolCallID: ev.ActionID,
				Content:    []llm.ContentPart{{Type: "text", Text: text}},
			})
		case *UserRejectObservation:
			msgs = append(msgs, llm.Message{
				Role:       "tool",
				ToolCallID: ev.ActionID,
				Content:    []llm.ContentPart{{Type: "text", Text: "rejected: " + ev.RejectionReason}},
			})
		case *AgentError:
			msgs = append(msgs, llm.Message{Role: "user", Content: []llm.ContentPart{{Type: "text", Text: "error: " + ev.Message}}})
		}
	}
	return msgs
}

func toLLMTools(tools []ToolSchema) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(tools))
	for i, t := range tools {
		out[i] = llm.ToolSchema{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out
}
