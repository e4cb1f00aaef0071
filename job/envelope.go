package job

import (
	"errors"
	"time"
)

// Envelope is the serialized message body.
type Envelope struct {
	ID     string         `json:"id" msgpack:"id"`
	Name   string         `json:"name" msgpack:"name"`
	Args   []any          `json:"args" msgpack:"args"`
	Kwargs map[string]any `json:"kwargs" msgpack:"kwargs"`
}

// Validate checks the invariants a decoded envelope must satisfy before it
// can become a Job.
func (e *Envelope) Validate() error {
	if e.Name == "" {
		return errors.New("envelope has no job name")
	}
	return nil
}

// Metadata is what the transport knows about one delivery of a message.
type Metadata struct {
	// BrokerID is the delivery handle used to acknowledge or retry.
	BrokerID string
	// Retries is the number of times the message has been received,
	// including this delivery.
	Retries int
	// CreatedOn is when the message was first sent.
	CreatedOn time.Time
	// FirstExecutionOn is when the message was first received, if known.
	FirstExecutionOn *time.Time
}

// FromEnvelope merges a decoded envelope with delivery metadata.
func FromEnvelope(env *Envelope, queue string, md Metadata) *Job {
	args := env.Args
	if args == nil {
		args = []any{}
	}
	kwargs := env.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Job{
		ID:               env.ID,
		Name:             env.Name,
		Args:             args,
		Kwargs:           kwargs,
		QueueName:        queue,
		BrokerID:         md.BrokerID,
		Retries:          md.Retries,
		CreatedOn:        md.CreatedOn,
		FirstExecutionOn: md.FirstExecutionOn,
	}
}
