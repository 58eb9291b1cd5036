package core

// Job states tracked by the durable queue.
//
// pending means the job is gated behind its parent: it becomes available
// only when the parent job completes. scheduled means a future due time is
// set (initial delay or retry backoff).
const (
	StatePending   = "pending"
	StateScheduled = "scheduled"
	StateAvailable = "available"
	StateActive    = "active"
	StateRetryable = "retryable"
	StateCompleted = "completed"
	StateDiscarded = "discarded"
)

// validTransitions defines the allowed state transitions.
var validTransitions = map[string][]string{
	StatePending:   {StateAvailable, StateDiscarded},
	StateScheduled: {StateAvailable},
	StateAvailable: {StateActive},
	StateActive:    {StateCompleted, StateRetryable, StateDiscarded},
	StateRetryable: {StateAvailable},
	StateCompleted: {},
	StateDiscarded: {},
}

// IsValidTransition checks if a state transition is allowed.
func IsValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminalState returns true if the state is terminal.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateDiscarded
}
