package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/backoff"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
	"github.com/xraph/sqjobs/middleware"
)

// Executor runs a single job through middleware and its definition's
// handler, then acknowledges the delivery: delete on success, retry with
// backoff while the receive count is within the definition's MaxRetries,
// dead-letter and delete once it is not.
type Executor struct {
	conn       connector.Connector
	extensions *ext.Registry
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. dlqService
// may be nil, in which case exhausted jobs are logged and dropped.
func NewExecutor(
	conn connector.Connector,
	extensions *ext.Registry,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Executor{
		conn:       conn,
		extensions: extensions,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j with def and acknowledges it. It returns nil on success
// and the handler error otherwise, joined with any acknowledgement error.
// Acknowledgement runs on a context detached from ctx's cancellation so a
// finished job is always settled.
func (e *Executor) Execute(ctx context.Context, def *job.Definition, j *job.Job) error {
	e.extensions.EmitJobStarted(ctx, j)
	start := time.Now()

	terminal := func(ctx context.Context) error {
		if def.Opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, def.Opts.Timeout)
			defer cancel()
		}
		return def.Handler.Run(ctx, j)
	}

	err := e.run(ctx, j, terminal)
	elapsed := time.Since(start)

	ackCtx := context.WithoutCancel(ctx)
	if err != nil {
		return e.handleFailure(ackCtx, def, j, err)
	}
	return e.handleSuccess(ackCtx, j, elapsed)
}

// run calls the chain. A panic that escapes it becomes a
// *middleware.PanicError, so the delivery is settled like any failure.
func (e *Executor) run(ctx context.Context, j *job.Job, terminal middleware.Handler) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		pe := &middleware.PanicError{Job: j.Name, Value: v, Stack: debug.Stack()}
		e.logger.Error("job handler panicked",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.Any("panic", v),
			slog.String("stack", string(pe.Stack)),
		)
		err = pe
	}()
	return e.mw(ctx, j, terminal)
}

// handleSuccess deletes the delivery and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if err := e.conn.Delete(ctx, j.QueueName, j.BrokerID); err != nil {
		e.logger.Error("failed to delete completed job",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("sqjobs/worker: ack %s: %w", j.Name, err)
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure either retries the delivery or sends it to the DLQ.
// Retries is the receive count, so a job with MaxRetries n runs at most
// n+1 times.
func (e *Executor) handleFailure(ctx context.Context, def *job.Definition, j *job.Job, handlerErr error) error {
	if j.Retries <= def.Opts.MaxRetries {
		return e.scheduleRetry(ctx, def, j, handlerErr)
	}
	return e.sendToDLQ(ctx, def, j, handlerErr)
}

// scheduleRetry hides the delivery for the backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, def *job.Definition, j *job.Job, handlerErr error) error {
	delay := e.backoff.Delay(j.Retries)

	if err := e.conn.Retry(ctx, j.QueueName, j.BrokerID, delay); err != nil {
		level := slog.LevelError
		if errors.Is(err, sqjobs.ErrInvalidHandle) {
			// The visibility timeout lapsed mid-run; the transport has
			// already made the message visible again.
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "failed to schedule job retry",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return errors.Join(handlerErr, fmt.Errorf("sqjobs/worker: retry %s: %w", j.Name, err))
	}

	e.extensions.EmitJobRetrying(ctx, j, delay, handlerErr)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Retries),
		slog.Int("max_retries", def.Opts.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, j.Retries, def.Opts.MaxRetries+1, handlerErr)
}

// sendToDLQ copies the job into the DLQ, deletes the delivery and emits
// events. If the DLQ push fails the delivery is left in place so the
// transport redelivers it and the push is attempted again.
func (e *Executor) sendToDLQ(ctx context.Context, def *job.Definition, j *job.Job, handlerErr error) error {
	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, def.Opts.MaxRetries, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID),
				slog.String("error", dlqErr.Error()),
			)
			return errors.Join(handlerErr, fmt.Errorf("sqjobs/worker: dead-letter %s: %w", j.Name, dlqErr))
		}
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	if err := e.conn.Delete(ctx, j.QueueName, j.BrokerID); err != nil {
		e.logger.Error("failed to delete exhausted job",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return errors.Join(handlerErr, fmt.Errorf("sqjobs/worker: ack %s: %w", j.Name, err))
	}

	if e.dlqService != nil {
		e.extensions.EmitJobDLQ(ctx, j, handlerErr)
	}

	e.logger.Warn("job dropped after exhausting retries",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("retries", j.Retries),
		slog.Bool("dead_lettered", e.dlqService != nil),
		slog.String("error", handlerErr.Error()),
	)

	return fmt.Errorf("job %s: %w: %w", j.Name, sqjobs.ErrMaxRetriesExceeded, handlerErr)
}
