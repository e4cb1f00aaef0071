// Package connector defines the capability set every queue transport
// provides: enqueue, long-poll dequeue, delete, change-visibility retry and
// payload (de)serialization.
//
// Transports live in subpackages (sqs, redis, amqp, memory). They share the
// [Serializer] for body handling and [Poll] for the dequeue wait semantics,
// so the only transport-specific pieces are the receive, delete and
// visibility primitives.
package connector

import (
	"context"
	"time"

	"github.com/xraph/sqjobs/job"
)

// MaxWaitTime is the longest single receive wait a transport is asked for.
// It matches the SQS long-poll ceiling.
const MaxWaitTime = 20 * time.Second

// MaxRetryDelay is the longest visibility extension Retry accepts (12h).
const MaxRetryDelay = 12 * time.Hour

// Connector is the transport abstraction the broker and worker drive.
type Connector interface {
	// Enqueue serializes j and sends it to queue.
	// A missing queue yields sqjobs.ErrQueueNotFound.
	Enqueue(ctx context.Context, queue string, j *job.Job) error

	// Dequeue receives at most one job from queue. With wait == 0 it makes a
	// single non-blocking attempt and returns (nil, nil) when the queue is
	// empty. With wait > 0 it keeps long-polling in windows of wait until a
	// message arrives or ctx is done, and never returns an empty result.
	// Undecodable bodies yield a *sqjobs.DecodeError.
	Dequeue(ctx context.Context, queue string, wait time.Duration) (*job.Job, error)

	// Delete acknowledges the delivery identified by handle. Unknown or
	// already deleted handles are not an error.
	Delete(ctx context.Context, queue, handle string) error

	// Retry makes the delivery visible again after delay without deleting
	// it. Unknown handles yield sqjobs.ErrInvalidHandle.
	Retry(ctx context.Context, queue, handle string, delay time.Duration) error

	// Serialize turns a job into a message body.
	Serialize(j *job.Job) ([]byte, error)

	// Deserialize turns a message body plus delivery metadata into a job.
	Deserialize(body []byte, queue string, md job.Metadata) (*job.Job, error)

	// Close releases the transport's resources.
	Close() error
}

// ClampWait bounds a requested wait to [0, MaxWaitTime].
func ClampWait(wait time.Duration) time.Duration {
	switch {
	case wait < 0:
		return 0
	case wait > MaxWaitTime:
		return MaxWaitTime
	default:
		return wait
	}
}

// ClampDelay bounds a retry delay to [0, MaxRetryDelay].
func ClampDelay(delay time.Duration) time.Duration {
	switch {
	case delay < 0:
		return 0
	case delay > MaxRetryDelay:
		return MaxRetryDelay
	default:
		return delay
	}
}
