package delegation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimwhite/agent-sdk-sub003/internal/conversation"
	"github.com/jimwhite/agent-sdk-sub003/internal/llm"
)

type oneShotFinishLLM struct {
	report string
}

func (m *oneShotFinishLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	args, _ := json.Marshal(map[string]string{"result": m.report})
	return &llm.CompletionResult{
		ToolCalls: []llm.ToolCall{{ID: "c1", Name: "finish", ArgumentsJSON: args}},
	}, nil
}

func newChildFactory(t *testing.T, report string) func(ctx context.Context, parentID, task string) (string, *conversation.Engine, *conversation.Log, error) {
	t.Helper()
	return func(ctx context.Context, parentID, task string) (string, *conversation.Engine, *conversation.Log, error) {
		log := conversation.NewLog(t.TempDir(), "child-1", false)
		step := &conversation.Step{
			Log:        log,
			Agent:      &conversation.Agent{SystemPrompt: "worker", Model: &oneShotFinishLLM{report: report}},
			Dispatcher: &conversation.Dispatcher{},
			Condenser:  conversation.NoOpCondenser{},
		}
		cfg := conversation.DefaultEngineConfig()
		cfg.MaxStepCount = 3
		eng := conversation.NewEngine(log, step, cfg)
		return "child-1", eng, log, nil
	}
}

func TestSpawnRoutesFinishReportToParent(t *testing.T) {
	parentLog := conversation.NewLog(t.TempDir(), "parent-1", false)
	coord := New()
	coord.RegisterParent("parent-1", parentLog)
	coord.NewChild = newChildFactory(t, "analysis complete")

	childID, err := coord.Spawn(context.Background(), "parent-1", "analyze")
	require.NoError(t, err)
	require.NoError(t, coord.Wait(childID))

	var found bool
	for _, e := range parentLog.Iter(0, parentLog.Len()) {
		if m, ok := e.(*conversation.Message); ok && m.ChildConvID == childID {
			assert.Equal(t, "analysis complete", m.Content[0].Text)
			found = true
		}
	}
	assert.True(t, found, "expected a child-tagged message in the parent log")
}

func TestStatusReturnsChildEngineStatus(t *testing.T) {
	parentLog := conversation.NewLog(t.TempDir(), "parent-1", false)
	coord := New()
	coord.RegisterParent("parent-1", parentLog)
	coord.NewChild = newChildFactory(t, "done")

	childID, err := coord.Spawn(context.Background(), "parent-1", "task")
	require.NoError(t, err)
	require.NoError(t, coord.Wait(childID))

	status, err := coord.Status(childID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusFinished, status)
}

func TestCloseRemovesEdgeAndStopsChild(t *testing.T) {
	parentLog := conversation.NewLog(t.TempDir(), "parent-1", false)
	coord := New()
	coord.RegisterParent("parent-1", parentLog)

	blockedLog := conversation.NewLog(t.TempDir(), "child-2", false)
	coord.NewChild = func(ctx context.Context, parentID, task string) (string, *conversation.Engine, *conversation.Log, error) {
		step := &conversation.Step{
			Log:        blockedLog,
			Agent:      &conversation.Agent{SystemPrompt: "worker", Model: &blockingLLM{}},
			Dispatcher: &conversation.Dispatcher{},
			Condenser:  conversation.NoOpCondenser{},
		}
		cfg := conversation.DefaultEngineConfig()
		eng := conversation.NewEngine(blockedLog, step, cfg)
		return "child-2", eng, blockedLog, nil
	}

	childID, err := coord.Spawn(context.Background(), "parent-1", "task")
	require.NoError(t, err)

	require.NoError(t, coord.Close(childID))

	_, statusErr := coord.Status(childID)
	assert.Error(t, statusErr)

	var notFound *ChildNotFound
	assert.ErrorAs(t, statusErr, &notFound)
}

// blockingLLM never returns, simulating an in-flight step so Close has
// something to cancel.
type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return &llm.CompletionResult{Text: "too slow"}, nil
	}
}
