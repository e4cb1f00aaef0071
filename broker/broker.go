package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
)

const (
	// DefaultWaitTime is the long-poll window Standard asks the connector for.
	DefaultWaitTime = 20 * time.Second

	// MinWaitTime is the shortest window WithWaitTime accepts. Shorter
	// windows turn long polling into busy polling.
	MinWaitTime = time.Second

	// DefaultErrorPause is how long the stream rests after yielding a
	// transport error.
	DefaultErrorPause = time.Second
)

// Broker accepts jobs for a queue. Both Standard and Eager implement it,
// as does anything else dlq.Service can replay through.
type Broker interface {
	Enqueue(ctx context.Context, queue string, j *job.Job) error
}

var (
	_ Broker = (*Standard)(nil)
	_ Broker = (*Eager)(nil)
)

type options struct {
	wait       time.Duration
	errorPause time.Duration
	logger     *slog.Logger
	extensions *ext.Registry
	codec      codec.Codec
}

func defaultOptions() options {
	return options{
		wait:       DefaultWaitTime,
		errorPause: DefaultErrorPause,
		logger:     slog.Default(),
	}
}

func (o *options) apply(opts []Option) {
	for _, opt := range opts {
		opt(o)
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
}

// Option configures a broker.
type Option func(*options)

// WithWaitTime sets the long-poll window used by Jobs. Values below
// MinWaitTime are raised to it.
func WithWaitTime(d time.Duration) Option {
	return func(o *options) { o.wait = max(d, MinWaitTime) }
}

// WithErrorPause sets how long Jobs waits after yielding an error.
func WithErrorPause(d time.Duration) Option {
	return func(o *options) { o.errorPause = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtensions sets the extension registry notified of enqueues.
func WithExtensions(r *ext.Registry) Option {
	return func(o *options) { o.extensions = r }
}

// WithCodec sets the codec Eager round-trips envelopes through. Standard
// uses its connector's codec and ignores this option.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}
