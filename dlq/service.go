package dlq

import (
	"context"
	"time"

	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/job"
)

// Enqueuer sends a job to a queue. broker.Broker satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, j *job.Job) error
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	enqueuer Enqueuer
}

// NewService creates a DLQ service. enqueuer is used by Replay and may be
// nil for a worker that only pushes entries.
func NewService(store Store, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// Push builds a DLQ Entry from a failed job and persists it.
// The error string is captured from the final handler error.
func (s *Service) Push(ctx context.Context, j *job.Job, maxRetries int, jobErr error) error {
	now := time.Now().UTC()
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	entry := &Entry{
		ID:               id.NewDLQID(),
		JobID:            j.ID,
		JobName:          j.Name,
		Queue:            j.QueueName,
		Args:             j.Args,
		Kwargs:           j.Kwargs,
		Error:            msg,
		Retries:          j.Retries,
		MaxRetries:       maxRetries,
		FirstExecutionOn: j.FirstExecutionOn,
		FailedAt:         now,
		CreatedAt:        now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// List returns entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// DLQStore returns the underlying DLQ store for direct access
// to Get and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
