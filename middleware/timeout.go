package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/sqjobs/job"
)

// TimeoutError reports a job cut off by the Timeout ceiling. It matches
// context.DeadlineExceeded.
type TimeoutError struct {
	Job   string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded %s", e.Job, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Timeout caps every execution at limit. Zero or negative disables it.
// A definition's own timeout still applies below this one.
func Timeout(logger *slog.Logger, limit time.Duration) Middleware {
	if limit <= 0 {
		return func(ctx context.Context, _ *job.Job, next Handler) error { return next(ctx) }
	}
	return func(ctx context.Context, j *job.Job, next Handler) error {
		tctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		err := next(tctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) &&
			errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logger.LogAttrs(ctx, slog.LevelWarn, "job hit execution ceiling",
				append(deliveryLogAttrs(j), slog.Duration("limit", limit))...)
			return &TimeoutError{Job: j.Name, Limit: limit}
		}
		return err
	}
}
