package sqjobs

import (
	"errors"
	"fmt"
)

var (
	// Transport errors.
	ErrQueueNotFound   = errors.New("sqjobs: queue not found")
	ErrInvalidHandle   = errors.New("sqjobs: invalid or expired delivery handle")
	ErrConnectorClosed = errors.New("sqjobs: connector closed")
	ErrNoConnector     = errors.New("sqjobs: no connector configured")

	// Payload errors.
	ErrDecode = errors.New("sqjobs: malformed job envelope")

	// Registry errors.
	ErrUnknownJob     = errors.New("sqjobs: unknown job name")
	ErrDuplicateJob   = errors.New("sqjobs: duplicate job name")
	ErrRegistrySealed = errors.New("sqjobs: registry sealed")

	// Dead letter errors.
	ErrDLQNotFound        = errors.New("sqjobs: dlq entry not found")
	ErrMaxRetriesExceeded = errors.New("sqjobs: max retries exceeded")
)

// DecodeError reports a message body that could not be turned into a job.
// Handle is the delivery handle of the offending message so callers can
// delete or leave it.
type DecodeError struct {
	Queue  string
	Handle string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sqjobs: decode message from queue %q: %v", e.Queue, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports ErrDecode as a match so callers can test with errors.Is.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
