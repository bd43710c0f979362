package conversation

// Status is the ConversationState's status enum (§3).
type Status string

const (
	StatusIdle                 Status = "idle"
	StatusRunning              Status = "running"
	StatusWaitingForConfirm    Status = "waiting_for_confirmation"
	StatusPaused               Status = "paused"
	StatusFinished             Status = "finished"
	StatusErrored              Status = "errored"
)

// State is derived from the log by folding over its events; it is never
// mutated directly outside of Fold (§3 ConversationState).
type State struct {
	ID               string
	Status           Status
	ConfirmationMode bool
	CurrentOffset    int
	// PendingActions holds actions dispatched in the current step that have
	// not yet received an Observation/UserRejectObservation/AgentError.
	PendingActions map[string]*Action
}

// Fold replays events from offset 0 to derive a State, satisfying the
// replay invariant in §8.1: "replaying the log produces a ConversationState
// equal to the state at the moment of the last append."
func Fold(events []Event) State {
	s := State{Status: StatusIdle, PendingActions: make(map[string]*Action)}

	for i, e := range events {
		s.CurrentOffset = i
		switch ev := e.(type) {
		case *Action:
			s.PendingActions[ev.ToolCallID] = ev
			s.Status = StatusRunning
			if ev.IsFinish() {
				s.Status = StatusFinished
			}
		case *Observation:
			delete(s.PendingActions, ev.ActionID)
		case *UserRejectObservation:
			delete(s.PendingActions, ev.ActionID)
		case *AgentError:
			if ev.StuckReason != "" {
				s.Status = StatusErrored
			}
		case *Pause:
			s.Status = StatusPaused
		}
	}
	return s
}
