package broker

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/job"
)

// Standard sends jobs through a connector and streams them back out.
// It is safe for concurrent use; each call to Jobs is an independent
// consumer.
type Standard struct {
	conn connector.Connector
	opts options
}

// NewStandard creates a broker over conn. The caller keeps ownership of
// conn and closes it.
func NewStandard(conn connector.Connector, opts ...Option) *Standard {
	o := defaultOptions()
	o.apply(opts)
	return &Standard{conn: conn, opts: o}
}

// Connector returns the underlying connector, which the worker uses to
// acknowledge deliveries.
func (b *Standard) Connector() connector.Connector { return b.conn }

// WaitTime returns the long-poll window used by Jobs.
func (b *Standard) WaitTime() time.Duration { return b.opts.wait }

// Enqueue sends j to queue. A job without an ID is given a fresh one.
func (b *Standard) Enqueue(ctx context.Context, queue string, j *job.Job) error {
	if j.ID == "" {
		j.ID = id.NewJobID()
	}
	if err := b.conn.Enqueue(ctx, queue, j); err != nil {
		return fmt.Errorf("sqjobs/broker: enqueue %s to %q: %w", j.Name, queue, err)
	}

	b.opts.logger.Debug("job enqueued",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.String("queue", queue),
	)
	b.opts.extensions.EmitJobEnqueued(ctx, queue, j)
	return nil
}

// Jobs returns a stream of jobs received from queue. The stream never ends
// on an empty poll. Transport errors are yielded with a nil job, after
// which the stream pauses briefly and resumes polling. The stream ends
// when the caller stops iterating or ctx is done; cancellation interrupts
// a poll in progress.
func (b *Standard) Jobs(ctx context.Context, queue string) iter.Seq2[*job.Job, error] {
	return func(yield func(*job.Job, error) bool) {
		for ctx.Err() == nil {
			j, err := b.conn.Dequeue(ctx, queue, b.opts.wait)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(nil, err) {
					return
				}
				if connector.Sleep(ctx, b.opts.errorPause) != nil {
					return
				}
				continue
			}
			if j == nil {
				continue
			}
			if !yield(j, nil) {
				return
			}
		}
	}
}
