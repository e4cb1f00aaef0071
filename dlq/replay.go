package dlq

import (
	"context"
	"fmt"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/job"
)

// Replay sends a DLQ entry back to its original queue as a new job and
// marks the entry as replayed. The new job has a fresh ID and the
// original name, args and kwargs; the transport starts its receive count
// from scratch.
func (s *Service) Replay(ctx context.Context, entryID string) (*job.Job, error) {
	if s.enqueuer == nil {
		return nil, fmt.Errorf("sqjobs/dlq: replay %s: %w", entryID, sqjobs.ErrNoConnector)
	}

	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := job.New(entry.JobName, entry.Args, entry.Kwargs)
	if err := s.enqueuer.Enqueue(ctx, entry.Queue, j); err != nil {
		return nil, fmt.Errorf("sqjobs/dlq: replay %s: %w", entryID, err)
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued; report the bookkeeping failure
		// alongside it.
		return j, err
	}

	return j, nil
}
