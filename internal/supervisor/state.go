package supervisor

import (
	"fmt"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateTerminated State = "terminated"
)

// Transition describes one state change of a child handle.
type Transition struct {
	RunID string
	From  State
	To    State
	PID   int
	At    time.Time
}

// TransitionError reports a state change the machine does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid child transition: %s -> %s", e.From, e.To)
}

// Running -> Terminated covers a child that exits on its own.
func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle, StateTerminated:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateTerminated
	case StateRunning:
		return to == StateStopping || to == StateTerminated
	case StateStopping:
		return to == StateTerminated
	default:
		return false
	}
}

// IsActive reports whether a child in this state may still produce output.
func IsActive(state State) bool {
	switch state {
	case StateStarting, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}
