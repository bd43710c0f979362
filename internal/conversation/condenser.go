package conversation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// compactionSystemPrompt mirrors the teacher's fixed compaction prompt
// wording (internal/session/compact.go's compactionSystemPrompt) used to
// steer the summarizing LLM call toward a terse, information-preserving
// digest rather than a conversational reply.
const compactionSystemPrompt = `You are compacting the earlier portion of a coding-agent conversation into a
short summary. Preserve file paths touched, commands run, decisions made,
and any unresolved task state. Do not add commentary about the compaction
itself. Respond with the summary text only.`

// Condenser is the polymorphic strategy that decides whether a View should
// be compacted (§4.2). A Condenser never mutates the log directly; it
// returns either nil (no-op) or a new Condensation event for the engine to
// append.
type Condenser interface {
	Condense(ctx context.Context, v View) (*Condensation, error)
}

// NoOpCondenser never compacts.
type NoOpCondenser struct{}

func (NoOpCondenser) Condense(ctx context.Context, v View) (*Condensation, error) {
	return nil, nil
}

// estimateTokens is the teacher's 4-characters-per-token heuristic
// (internal/session/compact.go's estimateTokens), reused unchanged since no
// tokenizer dependency is otherwise wired into this module.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Summarizer calls out to the LLM to produce a summary of a suffix of
// events. It is a narrow seam so LlmSummarizingCondenser does not depend on
// internal/llm directly (avoids an import cycle with the engine's LLM
// wiring) — a thin adapter closure is supplied by whatever constructs the
// condenser.
type Summarizer func(ctx context.Context, systemPrompt string, events []Event) (string, error)

// LlmSummarizingCondenser fires a separate LLM call to summarize the oldest
// suffix of the view once the running token estimate crosses
// ContextThreshold * MaxContextTokens, mirroring the teacher's
// shouldCompact/buildSummaryPrompt/processCompaction flow in
// internal/session/compact.go and internal/session/loop.go, but returning a
// Condensation event instead of mutating stored messages.
type LlmSummarizingCondenser struct {
	Summarize         Summarizer
	MaxContextTokens  int     // teacher's MaxContextTokens, default 150000
	ContextThreshold  float64 // teacher's DefaultCompactionConfig.ContextThreshold, default 0.75
	MinEventsToKeep   int     // teacher's MinMessagesToKeep, default 4
	KeepSuffixEvents  int     // how many of the newest events stay out of the summarized suffix
}

// NewLlmSummarizingCondenser returns a condenser configured with the
// teacher's defaults.
func NewLlmSummarizingCondenser(summarize Summarizer) *LlmSummarizingCondenser {
	return &LlmSummarizingCondenser{
		Summarize:        summarize,
		MaxContextTokens: 150000,
		ContextThreshold: 0.75,
		MinEventsToKeep:  4,
		KeepSuffixEvents: 20,
	}
}

func (c *LlmSummarizingCondenser) Condense(ctx context.Context, v View) (*Condensation, error) {
	events := v.Events()
	if len(events) <= c.MinEventsToKeep+c.KeepSuffixEvents {
		return nil, nil
	}

	total := 0
	for _, e := range events {
		if m, ok := e.(*Message); ok {
			for _, part := range m.Content {
				total += estimateTokens(part.Text)
			}
		}
	}
	threshold := int(float64(c.MaxContextTokens) * c.ContextThreshold)
	if total < threshold {
		return nil, nil
	}

	cut := len(events) - c.KeepSuffixEvents
	if cut <= 0 {
		return nil, nil
	}
	suffix := events[:cut]

	summary, err := c.Summarize(ctx, compactionSystemPrompt, suffix)
	if err != nil {
		return nil, err
	}

	forgotten := make([]string, 0, len(suffix))
	for _, e := range suffix {
		forgotten = append(forgotten, e.EventID())
	}

	return &Condensation{
		Base:              Base{ID: ulid.Make().String(), From: SourceEnvironment},
		ForgottenEventIDs: forgotten,
		Summary:           strings.TrimSpace(summary),
		SummaryOffset:     0,
	}, nil
}

// PipelineCondenser chains condensers in order; the first one to return a
// non-nil Condensation wins and the rest are skipped for that step, since
// at most one Condensation may be appended per condense check (§4.2).
type PipelineCondenser struct {
	Stages []Condenser
}

func (p *PipelineCondenser) Condense(ctx context.Context, v View) (*Condensation, error) {
	for _, stage := range p.Stages {
		c, err := stage.Condense(ctx, v)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}
