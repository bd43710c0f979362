package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jimwhite/agent-sdk-sub003/internal/storage"
)

// LogCorruption is returned by Log.Replay when an event file cannot be
// decoded. Replay fails fast; there are no silent skips (§4.1).
type LogCorruption struct {
	Offset int
	Reason string
}

func (e *LogCorruption) Error() string {
	return fmt.Sprintf("conversation: log corruption at offset %d: %s", e.Offset, e.Reason)
}

// Snapshot is the compact state persisted to state.json and returned by
// Replay on reopen. Replay does not use LastOffset to skip events; it always
// re-reads the entire log.
type Snapshot struct {
	ID               string `json:"id"`
	AgentSpec        string `json:"agent_spec"`
	ConfirmationMode bool   `json:"confirmation_mode"`
	LastOffset       int    `json:"last_offset"`
}

// Log is the append-only, persisted sequence of events for one conversation.
// It is single-writer by construction: only the owning conversation's run
// loop ever appends (§5). Persistence layout matches §6: a directory holding
// one JSON document per event, named by zero-padded offset, plus state.json.
//
// Grounded on internal/storage's path-keyed JSON store, which already
// provides the atomic write-temp-then-rename semantics and per-file flock
// locking this component requires; Log only adds offset-keyed naming and the
// in-memory append-order cache for O(1) random access.
type Log struct {
	mu      sync.RWMutex
	store   *storage.Storage
	convID  string
	events  []Event // in-memory cache, index == offset
	persist bool
}

// NewLog opens (or creates) the event log for conversation id rooted at
// dir. If persist is false, the log is purely in-memory (§5 backpressure
// note: "if persistence is disabled the log is in-memory").
func NewLog(dir string, convID string, persist bool) *Log {
	var st *storage.Storage
	if persist {
		st = storage.New(dir)
	}
	return &Log{store: st, convID: convID, persist: persist}
}

func (l *Log) eventPath(offset int) []string {
	return []string{"events", fmt.Sprintf("%08d", offset)}
}

// Append adds event to the end of the log, persisting it durably before
// returning when persistence is enabled.
func (l *Log) Append(ctx context.Context, e Event) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset := len(l.events)
	if l.persist {
		if err := l.store.Put(ctx, l.eventPath(offset), e); err != nil {
			return 0, fmt.Errorf("conversation: append event at offset %d: %w", offset, err)
		}
	}
	l.events = append(l.events, e)
	return offset, nil
}

// Get returns the event at offset.
func (l *Log) Get(offset int) (Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if offset < 0 || offset >= len(l.events) {
		return nil, fmt.Errorf("conversation: offset %d out of range [0,%d)", offset, len(l.events))
	}
	return l.events[offset], nil
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Iter returns a copy of the events in [start, end).
func (l *Log) Iter(start, end int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if start < 0 {
		start = 0
	}
	if end > len(l.events) {
		end = len(l.events)
	}
	if start >= end {
		return nil
	}
	out := make([]Event, end-start)
	copy(out, l.events[start:end])
	return out
}

// WriteSnapshot atomically persists the compact state snapshot.
func (l *Log) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if !l.persist {
		return nil
	}
	snap.LastOffset = l.Len() - 1
	return l.store.Put(ctx, []string{"state"}, snap)
}

// Replay reconstructs events from disk for an existing conversation
// directory: it loads state.json (if present) then scans every event file
// in order starting from offset 0; the snapshot is returned as read and does
// not shorten the scan. A decode failure on any event file aborts
// immediately with LogCorruption — replay never silently skips a bad record.
func (l *Log) Replay(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var snap Snapshot
	if l.persist {
		if err := l.store.Get(ctx, []string{"state"}, &snap); err != nil && err != storage.ErrNotFound {
			return snap, fmt.Errorf("conversation: read state snapshot: %w", err)
		}
	}

	l.events = l.events[:0]
	if l.persist {
		for offset := 0; ; offset++ {
			var raw json.RawMessage
			err := l.store.Get(ctx, l.eventPath(offset), &raw)
			if err == storage.ErrNotFound {
				break
			}
			if err != nil {
				return snap, &LogCorruption{Offset: offset, Reason: err.Error()}
			}
			ev, err := Unmarshal(raw)
			if err != nil {
				return snap, &LogCorruption{Offset: offset, Reason: err.Error()}
			}
			l.events = append(l.events, ev)
		}
	}
	return snap, nil
}
