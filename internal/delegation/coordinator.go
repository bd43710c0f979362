// Package delegation implements the delegation coordinator (C11): parent
// conversations spawning child conversations for subtasks, message routing
// from child back to parent, and cooperative shutdown.
//
// Grounded on internal/executor/subagent.go's SubagentExecutor, which
// spawns a child session and runs it to completion synchronously on the
// calling goroutine. This package generalizes that into the fully async
// registry §4.7.1 requires — spawn returns immediately, the child runs on
// its own goroutine, and its FinishAction is routed back as a message
// rather than returned as a function result — while keeping the same
// child-session-creation shape (new id, inherited work dir, worker agent
// preset) and the single-mutex-around-two-maps pattern called for in §5
// ("a single mutex around the two maps; operations are O(1) and the lock
// is never held across I/O").
package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/jimwhite/agent-sdk-sub003/internal/conversation"
	"github.com/jimwhite/agent-sdk-sub003/internal/logging"
)

// ChildNotFound is returned by Send/Status/Close for an unknown child id.
type ChildNotFound struct {
	ID string
}

func (e *ChildNotFound) Error() string { return fmt.Sprintf("delegation: child not found: %s", e.ID) }

// child tracks one live sub-conversation.
type child struct {
	id     string
	engine *conversation.Engine
	log    *conversation.Log
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator is conversation-scoped: one instance is constructed per
// top-level conversation and passed down to every descendant, rather than
// referenced as a process-wide singleton (§9 Design Notes: "Model it as a
// conversation-scoped coordinator passed into child conversations
// explicitly; use a concurrent map with a single mutex. Never rely on
// process globals.").
type Coordinator struct {
	mu            sync.Mutex
	children      map[string]*child // child id -> child
	parent        map[string]string // child id -> parent id
	byParent      map[string][]string
	parentEngines map[string]*conversation.Engine

	// NewChild constructs the engine/log pair for a spawned child
	// conversation. Supplied by whatever wires the conversation package
	// together, since the coordinator itself has no opinion on LLM/tool
	// configuration — it only owns the parent/child bookkeeping and the
	// FinishAction-to-Message routing.
	NewChild func(ctx context.Context, parentID, task string) (id string, eng *conversation.Engine, log *conversation.Log, err error)

	// ParentLog resolves a conversation id to its Log, so routed messages
	// can be appended. Conversations register themselves via RegisterParent.
	parentLogs map[string]*conversation.Log
}

// New constructs an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{
		children:   make(map[string]*child),
		parent:     make(map[string]string),
		byParent:   make(map[string][]string),
		parentLogs: make(map[string]*conversation.Log),
	}
}

// RegisterParent makes id's log reachable for child-to-parent message
// routing. Top-level conversations call this once at construction; it is a
// no-op for ids that never receive delegated children.
func (c *Coordinator) RegisterParent(id string, log *conversation.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parentLogs[id] = log
}

// Spawn creates a new child conversation for parentID running task,
// registers the parent→child edge, and starts it on its own goroutine
// (§4.7.1 "spawn(task)"). It returns the new conversation id immediately;
// the child runs independently (§5 "independent conversations ... run on
// independent tasks and make progress in parallel").
func (c *Coordinator) Spawn(ctx context.Context, parentID, task string) (string, error) {
	if c.NewChild == nil {
		return "", fmt.Errorf("delegation: Coordinator.NewChild is not configured")
	}

	id, eng, log, err := c.NewChild(ctx, parentID, task)
	if err != nil {
		return "", fmt.Errorf("delegation: spawn child: %w", err)
	}

	childCtx, cancel := context.WithCancel(ctx)
	ch := &child{id: id, engine: eng, log: log, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.children[id] = ch
	c.parent[id] = parentID
	c.byParent[parentID] = append(c.byParent[parentID], id)
	c.mu.Unlock()

	go c.run(childCtx, ch, parentID)

	return id, nil
}

// run drives the child engine to completion and, if it reached
// StatusFinished, routes its final Message back to the parent as a
// user-role Message tagged with the child's id (§4.7.1 "Message routing
// from child to parent").
func (c *Coordinator) run(ctx context.Context, ch *child, parentID string) {
	defer close(ch.done)

	if err := ch.engine.Run(ctx); err != nil {
		logging.Error().Str("child_id", ch.id).Err(err).Msg("delegation: child conversation errored")
		return
	}

	if ch.engine.Status() != conversation.StatusFinished {
		return
	}

	report := extractFinishReport(ch.log)

	c.mu.Lock()
	parentLog := c.parentLogs[parentID]
	c.mu.Unlock()
	if parentLog == nil {
		logging.Warn().Str("child_id", ch.id).Str("parent_id", parentID).
			Msg("delegation: parent log not registered, dropping child report")
		return
	}

	msg := &conversation.Message{
		Base:        conversation.Base{ID: ulid.Make().String(), From: conversation.SourceEnvironment},
		Role:        "user",
		Content:     []conversation.ContentPart{{Type: "text", Text: report}},
		ChildConvID: ch.id,
	}
	if _, err := parentLog.Append(ctx, msg); err != nil {
		logging.Error().Str("child_id", ch.id).Err(err).Msg("delegation: failed to append child report to parent log")
		return
	}

	c.mu.Lock()
	parentEngine, ok := c.parentEngineFor(parentID)
	c.mu.Unlock()
	if ok && (parentEngine.Status() == conversation.StatusPaused || parentEngine.Status() == conversation.StatusIdle) {
		parentEngine.Resume()
	}
}

// parentEngineFor looks up a registered parent Engine so a finishing child
// can wake it (§4.7.1: "if the parent is currently paused or idle, it is
// woken to resume"). Must be called with c.mu held.
func (c *Coordinator) parentEngineFor(parentID string) (*conversation.Engine, bool) {
	eng, ok := c.parentEngines[parentID]
	return eng, ok
}

// RegisterParentEngine makes parentID's Engine reachable so a finishing
// child can resume it.
func (c *Coordinator) RegisterParentEngine(id string, eng *conversation.Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parentEngines == nil {
		c.parentEngines = make(map[string]*conversation.Engine)
	}
	c.parentEngines[id] = eng
}

// extractFinishReport returns the "result" argument of the last
// FinishAction, or falls back to that action's Observation output when the
// argument is missing or empty.
func extractFinishReport(log *conversation.Log) string {
	events := log.Iter(0, log.Len())
	var last *conversation.Action
	for _, e := range events {
		if a, ok := e.(*conversation.Action); ok && a.IsFinish() {
			last = a
		}
	}
	if last == nil {
		return "finished"
	}
	var args struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(last.Arguments, &args); err == nil && args.Result != "" {
		return args.Result
	}
	for i := len(events) - 1; i >= 0; i-- {
		if o, ok := events[i].(*conversation.Observation); ok && o.ActionID == last.ToolCallID {
			return o.Output
		}
	}
	return "finished"
}

// Send enqueues a user-role message on the child; the child's engine picks
// it up as a regular event on its next step (§4.7.1 "send(child_id,
// message)").
func (c *Coordinator) Send(ctx context.Context, childID, message string) error {
	c.mu.Lock()
	ch, ok := c.children[childID]
	c.mu.Unlock()
	if !ok {
		return &ChildNotFound{ID: childID}
	}

	msg := &conversation.Message{
		Base:    conversation.Base{ID: ulid.Make().String(), From: conversation.SourceUser},
		Role:    "user",
		Content: []conversation.ContentPart{{Type: "text", Text: message}},
	}
	_, err := ch.log.Append(ctx, msg)
	if err == nil && ch.engine.Status() == conversation.StatusPaused {
		ch.engine.Resume()
	}
	return err
}

// Status returns the child's current engine status (§4.7.1
// "status(child_id)").
func (c *Coordinator) Status(childID string) (conversation.Status, error) {
	c.mu.Lock()
	ch, ok := c.children[childID]
	c.mu.Unlock()
	if !ok {
		return "", &ChildNotFound{ID: childID}
	}
	return ch.engine.Status(), nil
}

// Close requests the child to stop and removes the parent→child edge
// (§4.7.1 "close(child_id)"). It does not block waiting for the child's
// goroutine to exit, and since the child is removed from the registry,
// Wait returns ChildNotFound for it afterwards.
func (c *Coordinator) Close(childID string) error {
	c.mu.Lock()
	ch, ok := c.children[childID]
	if ok {
		parentID := c.parent[childID]
		delete(c.children, childID)
		delete(c.parent, childID)
		c.removeFromParentLocked(parentID, childID)
	}
	c.mu.Unlock()
	if !ok {
		return &ChildNotFound{ID: childID}
	}
	ch.engine.Close()
	ch.cancel()
	return nil
}

// CloseConversation cascades a close to every child of parentID, closing
// each child's own descendants transitively before the child itself.
// Closing a child does not affect its siblings or parent (§4.7.1 "Close
// semantics").
func (c *Coordinator) CloseConversation(parentID string) {
	c.mu.Lock()
	kids := append([]string(nil), c.byParent[parentID]...)
	c.mu.Unlock()

	for _, kid := range kids {
		c.CloseConversation(kid)
		_ = c.Close(kid)
	}
}

// Wait blocks until childID's goroutine has exited.
func (c *Coordinator) Wait(childID string) error {
	c.mu.Lock()
	ch, ok := c.children[childID]
	c.mu.Unlock()
	if !ok {
		return &ChildNotFound{ID: childID}
	}
	<-ch.done
	return nil
}

func (c *Coordinator) removeFromParentLocked(parentID, childID string) {
	sibs := c.byParent[parentID]
	for i, id := range sibs {
		if id == childID {
			c.byParent[parentID] = append(sibs[:i], sibs[i+1:]...)
			return
		}
	}
}
