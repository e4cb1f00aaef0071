package dlq

import (
	"context"
	"time"
)

// ListOpts selects a page of entries. The zero value lists everything.
type ListOpts struct {
	Limit  int
	Offset int
	Queue  string
}

// Store persists entries. Unknown IDs yield sqjobs.ErrDLQNotFound.
type Store interface {
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ orders by FailedAt, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	GetDLQ(ctx context.Context, entryID string) (*Entry, error)

	// ReplayDLQ only stamps ReplayedAt; Service.Replay does the enqueue.
	ReplayDLQ(ctx context.Context, entryID string) error

	// PurgeDLQ deletes entries with FailedAt before before and reports
	// how many went.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	CountDLQ(ctx context.Context) (int64, error)
}
