package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/sqjobs/job"
)

// Logging records the start of every delivery at debug level and its end at
// info (success) or warn (failure). The failure record carries the error;
// whether the job is retried or dead-lettered is logged by the worker.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := deliveryLogAttrs(j)
		if j.FirstExecutionOn != nil && j.Retries > 1 {
			attrs = append(attrs, slog.Duration("since_first_receive", time.Since(*j.FirstExecutionOn)))
		}
		logger.LogAttrs(ctx, slog.LevelDebug, "job started", attrs...)

		began := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(began)))

		if err != nil {
			logger.LogAttrs(ctx, slog.LevelWarn, "job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
		return nil
	}
}
