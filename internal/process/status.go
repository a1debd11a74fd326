package process

import "time"

// State is the supervisor-facing lifecycle state of a managed process.
type State int

const (
	StatePending State = iota
	StateStarting
	StateRunning
	StateExited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot. The supervisor owns the authoritative
// state table; everything else sees copies of this.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	Restarts  int       `json:"restarts"`
	LastErr   string    `json:"last_error,omitempty"`
}

// ExitEvent is delivered on the supervisor's event channel when a monitor
// goroutine reaps its child.
type ExitEvent struct {
	Name     string
	ExitCode int
	Err      error
	At       time.Time
}
