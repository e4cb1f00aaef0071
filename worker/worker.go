package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/broker"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/job"
)

// Worker consumes one queue and executes the jobs it receives, one at a
// time.
type Worker struct {
	broker   *broker.Standard
	conn     connector.Connector
	queue    string
	registry *job.Registry
	executor *Executor
	opts     options

	// jobBase, when set, is the parent of every job context in place of
	// the poll context. The Pool uses it to cancel in-flight jobs
	// separately from polling.
	jobBase context.Context
}

// New creates a worker for queue. The registry is sealed when Execute
// starts.
func New(b *broker.Standard, queue string, reg *job.Registry, opts ...Option) *Worker {
	o := options{
		logger:        slog.Default(),
		throttleDelay: DefaultThrottleDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = id.NewWorkerID()
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
	conn := b.Connector()
	return &Worker{
		broker:   b,
		conn:     conn,
		queue:    queue,
		registry: reg,
		executor: NewExecutor(conn, o.extensions, o.dlq, o.backoff, o.logger, o.middleware...),
		opts:     o,
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.opts.id }

// Queue returns the queue the worker consumes.
func (w *Worker) Queue() string { return w.queue }

// Execute polls the queue and runs jobs until ctx is cancelled, then
// returns nil once the in-flight job has been acknowledged. Cancelling
// ctx stops polling but does not cancel a running job. It returns early
// with an error wrapping sqjobs.ErrQueueNotFound when the queue does not
// exist, or sqjobs.ErrUnknownJob under UnknownFailFast.
func (w *Worker) Execute(ctx context.Context) error {
	w.registry.Seal()

	w.opts.logger.Info("worker started",
		slog.String("worker_id", w.opts.id),
		slog.String("queue", w.queue),
		slog.Any("jobs", w.registry.Names()),
	)
	defer w.opts.logger.Info("worker stopped",
		slog.String("worker_id", w.opts.id),
		slog.String("queue", w.queue),
	)

	for j, err := range w.broker.Jobs(ctx, w.queue) {
		if err != nil {
			if errors.Is(err, sqjobs.ErrQueueNotFound) {
				return fmt.Errorf("sqjobs/worker: poll %q: %w", w.queue, err)
			}
			w.handlePollError(ctx, err)
			continue
		}
		if err := w.process(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// process runs one received job. It returns an error only when the
// worker must stop.
func (w *Worker) process(ctx context.Context, j *job.Job) error {
	ackCtx := context.WithoutCancel(ctx)

	def, ok := w.registry.Get(j.Name)
	if !ok {
		return w.handleUnknown(ackCtx, j)
	}

	if qm := w.opts.queueManager; qm != nil {
		if !qm.Acquire(w.queue, j.Name) {
			w.throttle(ackCtx, j)
			return nil
		}
		defer qm.Release(w.queue, j.Name)
	}

	jobCtx := w.jobBase
	if jobCtx == nil {
		jobCtx = ackCtx
	}
	if err := w.executor.Execute(jobCtx, def, j); err != nil {
		w.opts.logger.Debug("job execution failed",
			slog.String("worker_id", w.opts.id),
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (w *Worker) handleUnknown(ctx context.Context, j *job.Job) error {
	w.opts.extensions.EmitJobUnknown(ctx, j)

	attrs := []any{
		slog.String("worker_id", w.opts.id),
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.String("queue", w.queue),
		slog.String("policy", w.opts.unknown.String()),
	}

	switch w.opts.unknown {
	case UnknownDiscard:
		w.opts.logger.Warn("discarding job with unknown name", attrs...)
		if err := w.conn.Delete(ctx, j.QueueName, j.BrokerID); err != nil {
			w.opts.logger.Error("failed to discard unknown job",
				append(attrs, slog.String("error", err.Error()))...)
		}
		return nil
	case UnknownFailFast:
		w.opts.logger.Error("stopping on job with unknown name", attrs...)
		return fmt.Errorf("sqjobs/worker: job %q: %w", j.Name, sqjobs.ErrUnknownJob)
	default:
		w.opts.logger.Warn("skipping job with unknown name", attrs...)
		return nil
	}
}

func (w *Worker) throttle(ctx context.Context, j *job.Job) {
	if err := w.conn.Retry(ctx, j.QueueName, j.BrokerID, w.opts.throttleDelay); err != nil {
		w.opts.logger.Error("failed to hand back throttled job",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	w.opts.extensions.EmitJobThrottled(ctx, j, w.opts.throttleDelay)
	w.opts.logger.Debug("job throttled",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Duration("delay", w.opts.throttleDelay),
	)
}

func (w *Worker) handlePollError(ctx context.Context, err error) {
	var decodeErr *sqjobs.DecodeError
	if !errors.As(err, &decodeErr) {
		w.opts.logger.Warn("poll failed",
			slog.String("worker_id", w.opts.id),
			slog.String("queue", w.queue),
			slog.String("error", err.Error()),
		)
		return
	}

	w.opts.logger.Error("received malformed message",
		slog.String("worker_id", w.opts.id),
		slog.String("queue", decodeErr.Queue),
		slog.Bool("discarded", w.opts.discardMalformed),
		slog.String("error", decodeErr.Err.Error()),
	)
	if !w.opts.discardMalformed || decodeErr.Handle == "" {
		return
	}
	if delErr := w.conn.Delete(context.WithoutCancel(ctx), decodeErr.Queue, decodeErr.Handle); delErr != nil {
		w.opts.logger.Error("failed to discard malformed message",
			slog.String("queue", decodeErr.Queue),
			slog.String("error", delErr.Error()),
		)
	}
}
