package ext

import (
	"context"
	"time"

	"github.com/xraph/sqjobs/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Producer hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job has been handed to the transport.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, queue string, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Consumer hooks
// ──────────────────────────────────────────────────

// JobStarted is called when a worker begins executing a delivery.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully and its
// delivery has been deleted.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails and its delivery is made visible
// again after delay.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, delay time.Duration, err error) error
}

// JobFailed is called when a job fails with its retry budget exhausted.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDLQ is called after a job has been copied to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// JobUnknown is called when a delivery names a job with no registered
// definition.
type JobUnknown interface {
	OnJobUnknown(ctx context.Context, j *job.Job) error
}

// JobThrottled is called when a delivery is handed back to the queue
// because a rate or concurrency limit denied it.
type JobThrottled interface {
	OnJobThrottled(ctx context.Context, j *job.Job, delay time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
