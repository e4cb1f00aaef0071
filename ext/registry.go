package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/sqjobs/job"
)

type named[H any] struct {
	ext  string
	hook H
}

// hooks is the subset of registered extensions implementing H.
type hooks[H any] []named[H]

func (hs *hooks[H]) offer(name string, e Extension) {
	if h, ok := e.(H); ok {
		*hs = append(*hs, named[H]{name, h})
	}
}

// Registry fans lifecycle events out to extensions in registration order.
// A hook's error or panic is logged and never reaches the caller.
//
// Register everything before workers start; Register is not safe to call
// concurrently with the Emit methods.
type Registry struct {
	logger *slog.Logger
	all    []Extension

	enqueued  hooks[JobEnqueued]
	started   hooks[JobStarted]
	completed hooks[JobCompleted]
	retrying  hooks[JobRetrying]
	failed    hooks[JobFailed]
	dlq       hooks[JobDLQ]
	unknown   hooks[JobUnknown]
	throttled hooks[JobThrottled]
	shutdown  hooks[Shutdown]
}

// NewRegistry returns an empty Registry. A nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e for every hook interface it implements.
func (r *Registry) Register(e Extension) {
	name := e.Name()
	r.all = append(r.all, e)
	r.enqueued.offer(name, e)
	r.started.offer(name, e)
	r.completed.offer(name, e)
	r.retrying.offer(name, e)
	r.failed.offer(name, e)
	r.dlq.offer(name, e)
	r.unknown.offer(name, e)
	r.throttled.offer(name, e)
	r.shutdown.offer(name, e)
}

// Extensions returns the registered extensions in order.
func (r *Registry) Extensions() []Extension { return r.all }

func emit[H any](r *Registry, event string, hs hooks[H], call func(H) error) {
	for _, n := range hs {
		r.invoke(event, n.ext, func() error { return call(n.hook) })
	}
}

func (r *Registry) invoke(event, ext string, fn func() error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("extension hook panicked",
				slog.String("hook", event),
				slog.String("extension", ext),
				slog.Any("panic", v),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("extension hook error",
			slog.String("hook", event),
			slog.String("extension", ext),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Producer events
// ──────────────────────────────────────────────────

func (r *Registry) EmitJobEnqueued(ctx context.Context, queue string, j *job.Job) {
	emit(r, "OnJobEnqueued", r.enqueued, func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, queue, j) })
}

// ──────────────────────────────────────────────────
// Consumer events
// ──────────────────────────────────────────────────

func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, "OnJobStarted", r.started, func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, "OnJobCompleted", r.completed, func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, delay time.Duration, cause error) {
	emit(r, "OnJobRetrying", r.retrying, func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, delay, cause) })
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, cause error) {
	emit(r, "OnJobFailed", r.failed, func(h JobFailed) error { return h.OnJobFailed(ctx, j, cause) })
}

func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, cause error) {
	emit(r, "OnJobDLQ", r.dlq, func(h JobDLQ) error { return h.OnJobDLQ(ctx, j, cause) })
}

func (r *Registry) EmitJobUnknown(ctx context.Context, j *job.Job) {
	emit(r, "OnJobUnknown", r.unknown, func(h JobUnknown) error { return h.OnJobUnknown(ctx, j) })
}

func (r *Registry) EmitJobThrottled(ctx context.Context, j *job.Job, delay time.Duration) {
	emit(r, "OnJobThrottled", r.throttled, func(h JobThrottled) error { return h.OnJobThrottled(ctx, j, delay) })
}

// EmitShutdown runs once when a pool stops.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}
