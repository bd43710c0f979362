package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/jimwhite/agent-sdk-sub003/internal/logging"
)

// ConversationClosed is the error kind for a closed conversation (§6). No
// Engine method returns it: Run returns nil once it observes Close.
type ConversationClosed struct{}

func (ConversationClosed) Error() string { return "conversation: closed" }

// EventObserver receives every appended event synchronously before the
// next step begins (§4.7 "Callbacks"). Per §9 Design Notes, this is a
// narrow single-method interface; no unregistration is supported.
type EventObserver interface {
	OnEvent(e Event)
}

// StuckConfig configures the stuck detector (§4.7).
type StuckConfig struct {
	Window           int           // K: sliding window of recent events
	RepeatThreshold  int           // N: identical Action payload repeats
	IdleTimeout      time.Duration // T: elapsed time with no Observation
}

// DefaultStuckConfig mirrors the teacher's doom-loop defaults
// (internal/permission/doom_loop.go's threshold=3), extended with window
// and idle parameters this rewrite's three-way detector adds.
func DefaultStuckConfig() StuckConfig {
	return StuckConfig{Window: 10, RepeatThreshold: 3, IdleTimeout: 5 * time.Minute}
}

// EngineConfig configures one Engine instance (§6 "Configuration").
type EngineConfig struct {
	MaxStepCount     int
	ConfirmationMode bool
	Stuck            StuckConfig
	Observers        []EventObserver
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxStepCount: 50, Stuck: DefaultStuckConfig()}
}

// Engine is the per-conversation cooperative run loop (C10). One Engine
// drives one conversation on one goroutine; independent conversations
// (including delegation parent/child pairs) run on independent Engines in
// parallel (§5). Grounded on internal/session/processor.go's Processor —
// generalized from "one goroutine per session ID, keyed in a shared map"
// to "one engine per Conversation value" since this spec's scheduling unit
// is the conversation object, not a session-id string — plus
// internal/permission/doom_loop.go's repeat-hash window for the stuck
// detector's repeated-action leg.
type Engine struct {
	Log    *Log
	Step   *Step
	Config EngineConfig

	mu              sync.Mutex
	status          Status
	pauseFlag       bool
	closed          bool
	lastObsAt       time.Time
	notifiedOffset  int

	closeCh chan struct{}
}

// NewEngine constructs an Engine bound to log and step, ready to Run.
func NewEngine(log *Log, step *Step, cfg EngineConfig) *Engine {
	return &Engine{
		Log:       log,
		Step:      step,
		Config:    cfg,
		status:    StatusIdle,
		lastObsAt: time.Now(),
		closeCh:   make(chan struct{}),
	}
}

// Status returns the engine's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Pause is non-blocking; the loop observes it at the next suspension point
// (§4.7, §9).
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseFlag = true
}

// Resume clears a pause request so Run can proceed past its suspension
// point (accept/reject for confirmation mode is handled separately via
// Step.ConfirmFn).
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseFlag = false
	if e.status == StatusPaused {
		e.status = StatusIdle
	}
}

// Close marks the engine closed and signals Run to exit at its next check;
// it returns at once and does not wait for a step already in progress.
// Tearing down tool executors (bash shells)
// and cascading to delegation children is the caller's responsibility,
// since the Engine itself does not own those resources directly (§4.7,
// §5).
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.closeCh)
}

// Run drives the conversation to completion, error, pause, or the step
// budget, per the loop in §4.7:
//
//	while state ∈ {idle, running} and step_count < max_steps:
//	  if pause_requested: state ← paused; append Pause; break
//	  run one agent step
//	  if stuck_detector.fires(): state ← errored; append AgentError; break
func (e *Engine) Run(ctx context.Context) error {
	steps := 0
	for {
		e.mu.Lock()
		status := e.status
		paused := e.pauseFlag
		e.mu.Unlock()

		if status != StatusIdle && status != StatusRunning {
			return nil
		}
		if steps >= e.Config.MaxStepCount {
			return nil
		}

		select {
		case <-e.closeCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if paused {
			p := &Pause{Base: Base{ID: newID(), From: SourceUser}}
			e.Log.Append(ctx, p)
			e.notifyNewEvents()
			e.setStatus(StatusPaused)
			return nil
		}

		e.setStatus(StatusRunning)
		finished, err := e.Step.Run(ctx)
		steps++
		e.notifyNewEvents()

		if err != nil {
			ae := &AgentError{Base: Base{ID: newID(), From: SourceEnvironment}, Message: err.Error()}
			e.Log.Append(ctx, ae)
			e.notifyNewEvents()
			e.setStatus(StatusErrored)
			return err
		}

		if finished {
			e.setStatus(StatusFinished)
			return nil
		}

		if e.stuckDetectorFires() {
			ae := &AgentError{
				Base:        Base{ID: newID(), From: SourceEnvironment},
				Message:     "conversation appears stuck",
				StuckReason: "repeat_or_silence",
			}
			e.Log.Append(ctx, ae)
			e.notifyNewEvents()
			e.setStatus(StatusErrored)
			return nil
		}
	}
}

// notifyNewEvents delivers every event appended to the log since the last
// call to registered observers, in offset order. Tracking an explicit
// watermark (rather than guessing how many events one Step.Run call
// appended) keeps delivery exact regardless of how many Actions/
// Observations a step produces.
func (e *Engine) notifyNewEvents() {
	e.mu.Lock()
	from := e.notifiedOffset
	to := e.Log.Len()
	e.notifiedOffset = to
	e.mu.Unlock()

	for _, ev := range e.Log.Iter(from, to) {
		e.notify(ev)
	}
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) notify(ev Event) {
	if _, ok := ev.(*Observation); ok {
		e.mu.Lock()
		e.lastObsAt = time.Now()
		e.mu.Unlock()
	}
	for _, obs := range e.Config.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error().Interface("panic", r).Msg("conversation observer callback panicked")
				}
			}()
			obs.OnEvent(ev)
		}()
	}
}

// stuckDetectorFires implements the three-way detector in §4.7: all-errors
// window, repeated-action-payload window, or no-Observation idle timeout.
// The repeat-hash approach is grounded on
// internal/permission/doom_loop.go's DoomLoopDetector.
func (e *Engine) stuckDetectorFires() bool {
	cfg := e.Config.Stuck
	if cfg.Window <= 0 {
		return false
	}

	n := e.Log.Len()
	start := n - cfg.Window
	if start < 0 {
		start = 0
	}
	window := e.Log.Iter(start, n)

	if len(window) == cfg.Window {
		allErrors := true
		for _, ev := range window {
			if _, ok := ev.(*AgentError); !ok {
				allErrors = false
				break
			}
		}
		if allErrors {
			return true
		}
	}

	if cfg.RepeatThreshold > 0 {
		var hashes []string
		for _, ev := range window {
			if a, ok := ev.(*Action); ok {
				hashes = append(hashes, hashAction(a))
			}
		}
		if len(hashes) >= cfg.RepeatThreshold {
			last := hashes[len(hashes)-1]
			count := 0
			for i := len(hashes) - 1; i >= 0 && hashes[i] == last; i-- {
				count++
			}
			if count >= cfg.RepeatThreshold {
				return true
			}
		}
	}

	if cfg.IdleTimeout > 0 {
		e.mu.Lock()
		idle := time.Since(e.lastObsAt)
		e.mu.Unlock()
		if idle >= cfg.IdleTimeout {
			return true
		}
	}

	return false
}

func hashAction(a *Action) string {
	h := sha256.New()
	h.Write([]byte(a.ToolName))
	args, _ := json.Marshal(a.Arguments)
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil))
}
