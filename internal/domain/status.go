package domain

import "strings"

// State enumerates the lifecycle states a task can be observed in.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
)

// Terminal reports whether no further transition can occur from s. Callers
// treat the first terminal observation as final; providers are assumed to
// never regress a task out of a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateExpired:
		return true
	}
	return false
}

// DefaultFailureMessage is reported when a provider signals failure without
// an error message.
const DefaultFailureMessage = "Generation failed"

// ClassifyStatus maps a provider's status string onto the shared state set.
// The vocabulary spans both providers: "complete"/"SUCCEEDED" succeed,
// "error"/"abort"/"FAILED" fail, "EXPIRED" expires, and every other value is
// non-terminal. Unrecognized non-terminal values classify as pending.
func ClassifyStatus(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETE", "SUCCEEDED":
		return StateSucceeded
	case "ERROR", "ABORT", "FAILED":
		return StateFailed
	case "EXPIRED":
		return StateExpired
	case "IN_PROGRESS", "PROCESSING", "DISPATCHED":
		return StateInProgress
	default:
		return StatePending
	}
}
