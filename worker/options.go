package worker

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/sqjobs/backoff"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/middleware"
)

// UnknownJobPolicy decides what a Worker does with a job whose name has no
// registered definition.
type UnknownJobPolicy int

const (
	// UnknownSkip logs the job and leaves it for visibility-timeout
	// redelivery, so another worker that knows the name can take it.
	UnknownSkip UnknownJobPolicy = iota
	// UnknownDiscard deletes the message.
	UnknownDiscard
	// UnknownFailFast stops the worker with sqjobs.ErrUnknownJob.
	UnknownFailFast
)

// String returns the policy's configuration name.
func (p UnknownJobPolicy) String() string {
	switch p {
	case UnknownSkip:
		return "skip"
	case UnknownDiscard:
		return "discard"
	case UnknownFailFast:
		return "fail"
	default:
		return fmt.Sprintf("UnknownJobPolicy(%d)", int(p))
	}
}

// ParseUnknownJobPolicy parses "skip", "discard" or "fail".
func ParseUnknownJobPolicy(s string) (UnknownJobPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return UnknownSkip, nil
	case "discard":
		return UnknownDiscard, nil
	case "fail", "failfast", "fail-fast":
		return UnknownFailFast, nil
	default:
		return UnknownSkip, fmt.Errorf("sqjobs/worker: unknown job policy %q", s)
	}
}

// DefaultThrottleDelay is how long a job refused by the queue manager is
// hidden before it is offered again.
const DefaultThrottleDelay = time.Second

// QueueManager gates job starts by queue and job name. queue.Manager
// implements it.
type QueueManager interface {
	// Acquire reports whether the job may start now and, if so, reserves
	// a slot the caller must Release.
	Acquire(queue, jobName string) bool
	// Release frees the slot taken by Acquire.
	Release(queue, jobName string)
}

type options struct {
	id               string
	logger           *slog.Logger
	extensions       *ext.Registry
	dlq              *dlq.Service
	backoff          backoff.Strategy
	middleware       []middleware.Middleware
	unknown          UnknownJobPolicy
	discardMalformed bool
	queueManager     QueueManager
	throttleDelay    time.Duration
}

// Option configures a Worker.
type Option func(*options)

// WithID sets the worker's identifier, used in logs. Defaults to a fresh
// "wkr_" ID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtensions sets the extension registry notified of job lifecycle
// events.
func WithExtensions(r *ext.Registry) Option {
	return func(o *options) { o.extensions = r }
}

// WithDLQ sets the dead-letter service exhausted jobs are copied to.
func WithDLQ(s *dlq.Service) Option {
	return func(o *options) { o.dlq = s }
}

// WithBackoff sets the retry delay strategy. Defaults to
// backoff.DefaultStrategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.backoff = s }
}

// WithMiddleware appends execution middleware. The first one added is the
// outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mws...) }
}

// WithUnknownJobPolicy sets how unregistered job names are handled.
func WithUnknownJobPolicy(p UnknownJobPolicy) Option {
	return func(o *options) { o.unknown = p }
}

// WithDiscardMalformed deletes messages whose body cannot be decoded
// instead of leaving them for redelivery.
func WithDiscardMalformed(discard bool) Option {
	return func(o *options) { o.discardMalformed = discard }
}

// WithQueueManager gates job starts through m. Refused jobs are handed
// back to the transport and reappear after delay. Each hand-back counts
// as a receive on transports that count receives.
func WithQueueManager(m QueueManager, delay time.Duration) Option {
	return func(o *options) {
		o.queueManager = m
		o.throttleDelay = delay
	}
}
