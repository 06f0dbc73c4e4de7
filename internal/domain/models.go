package domain

import "time"

type RunID string

// Run is one finished probe run in watch mode.
type Run struct {
	ID         RunID     `json:"id"`
	Probe      string    `json:"probe"`
	Target     string    `json:"target,omitempty"`
	State      string    `json:"state"`
	Ready      bool      `json:"ready"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the run took.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// AlertRecord holds the last readiness seen for a probe and when we last
// sent a notification about it.
type AlertRecord struct {
	Probe      string     `json:"probe"`
	LastReady  bool       `json:"last_ready"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}
