package dlq

import (
	"time"
)

// Entry represents a job that has exhausted its retry budget and been
// copied to the dead letter queue for inspection or replay.
type Entry struct {
	ID               string         `json:"id"`
	JobID            string         `json:"job_id"`
	JobName          string         `json:"job_name"`
	Queue            string         `json:"queue"`
	Args             []any          `json:"args"`
	Kwargs           map[string]any `json:"kwargs"`
	Error            string         `json:"error"`
	Retries          int            `json:"retries"`
	MaxRetries       int            `json:"max_retries"`
	FirstExecutionOn *time.Time     `json:"first_execution_on,omitempty"`
	FailedAt         time.Time      `json:"failed_at"`
	ReplayedAt       *time.Time     `json:"replayed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
