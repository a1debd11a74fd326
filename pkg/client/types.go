package client

import "time"

// HealthReport mirrors the daemon's /healthz payload.
type HealthReport struct {
	Component        string    `json:"component"`
	State            string    `json:"state"`
	LastChecked      time.Time `json:"last_checked"`
	ConsecutiveFails int       `json:"consecutive_failures"`
}

// ProcessStatus mirrors one entry of the daemon's /status payload.
type ProcessStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	Restarts  int       `json:"restarts"`
	LastErr   string    `json:"last_error,omitempty"`
}

// StatusResponse mirrors the daemon's /status payload.
type StatusResponse struct {
	Health    HealthReport    `json:"health"`
	Processes []ProcessStatus `json:"processes"`
}
