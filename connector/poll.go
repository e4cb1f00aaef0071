package connector

import (
	"context"
	"time"

	"github.com/xraph/sqjobs/job"
)

// ReceiveFunc makes one receive attempt that waits up to wait for a message.
// It returns (nil, nil) when the window passes without one.
type ReceiveFunc func(ctx context.Context, wait time.Duration) (*job.Job, error)

// Poll implements the Dequeue wait semantics on top of a single-attempt
// receive. wait is clamped with ClampWait. A zero wait makes exactly one
// attempt; a positive wait repeats attempts until a job arrives, an error
// occurs or ctx is done.
func Poll(ctx context.Context, wait time.Duration, receive ReceiveFunc) (*job.Job, error) {
	wait = ClampWait(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j, err := receive(ctx, wait)
		if err != nil {
			if ctxErr := ContextErr(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if j != nil || wait == 0 {
			return j, nil
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ContextErr is ctx.Err(), except that a context whose deadline has already
// passed reports context.DeadlineExceeded even if its timer has not fired
// yet. Transports use it to classify I/O errors caused by the deadline.
func ContextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}
