package job

import (
	"context"
	"time"
)

// Handler executes a job. A nil error means the message may be deleted.
type Handler interface {
	Run(ctx context.Context, j *Job) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, j *Job) error

// Run calls f(ctx, j).
func (f HandlerFunc) Run(ctx context.Context, j *Job) error { return f(ctx, j) }

// Definition binds a stable name to a handler and its execution options.
type Definition struct {
	// Name is matched against the envelope name at dispatch time.
	Name string

	Handler Handler

	// Opts configures retries and timeout.
	Opts Options
}

// NewDefinition creates a definition from a handler function.
func NewDefinition(name string, fn HandlerFunc, opts ...Option) *Definition {
	def := &Definition{
		Name:    name,
		Handler: fn,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Typed creates a definition whose handler receives the job's kwargs bound
// into T. A kwargs shape that does not fit T fails the attempt like any other
// handler error.
func Typed[T any](name string, fn func(ctx context.Context, j *Job, in T) error, opts ...Option) *Definition {
	return NewDefinition(name, func(ctx context.Context, j *Job) error {
		var in T
		if err := j.Bind(&in); err != nil {
			return err
		}
		return fn(ctx, j, in)
	}, opts...)
}

// Options configures per-definition execution.
type Options struct {
	// MaxRetries is how many redeliveries a failing job gets before it is
	// dead-lettered. A job is therefore received at most MaxRetries+1 times.
	MaxRetries int

	// Timeout bounds a single execution. Zero means no per-job deadline.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a definition.
type Option func(*Options)

// WithMaxRetries sets the redelivery budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
