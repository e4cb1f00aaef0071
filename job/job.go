package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/sqjobs/id"
)

// Job is a unit of work as seen by a worker for one delivery attempt.
type Job struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`

	// Transport-derived fields, populated at decode time only.
	QueueName        string     `json:"queue_name,omitempty"`
	BrokerID         string     `json:"broker_id,omitempty"`
	Retries          int        `json:"retries"`
	CreatedOn        time.Time  `json:"created_on"`
	FirstExecutionOn *time.Time `json:"first_execution_on,omitempty"`
}

// New builds a producer-side job with a fresh ID.
func New(name string, args []any, kwargs map[string]any) *Job {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Job{
		ID:     id.NewJobID(),
		Name:   name,
		Args:   args,
		Kwargs: kwargs,
	}
}

// Envelope returns the wire portion of the job.
func (j *Job) Envelope() *Envelope {
	return &Envelope{
		ID:     j.ID,
		Name:   j.Name,
		Args:   j.Args,
		Kwargs: j.Kwargs,
	}
}

// Metadata returns the transport-derived portion of the job.
func (j *Job) Metadata() Metadata {
	return Metadata{
		BrokerID:         j.BrokerID,
		Retries:          j.Retries,
		CreatedOn:        j.CreatedOn,
		FirstExecutionOn: j.FirstExecutionOn,
	}
}

// Bind decodes the job's kwargs into v, which must be a pointer.
func (j *Job) Bind(v any) error {
	raw, err := json.Marshal(j.Kwargs)
	if err != nil {
		return fmt.Errorf("sqjobs/job: marshal kwargs for %q: %w", j.Name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("sqjobs/job: bind kwargs for %q: %w", j.Name, err)
	}
	return nil
}
