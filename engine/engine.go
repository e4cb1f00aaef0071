package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/backoff"
	"github.com/xraph/sqjobs/broker"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
	mw "github.com/xraph/sqjobs/middleware"
	"github.com/xraph/sqjobs/observability"
	"github.com/xraph/sqjobs/queue"
	"github.com/xraph/sqjobs/worker"
)

const instrumentationName = "github.com/xraph/sqjobs"

// Engine bundles a broker, the job registry and a worker pool over one
// connector.
type Engine struct {
	conn       connector.Connector
	broker     *broker.Standard
	registry   *job.Registry
	extensions *ext.Registry
	exts       []ext.Extension
	dlqStore   dlq.Store
	dlqService *dlq.Service
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger

	queue            string
	concurrency      int
	waitTime         time.Duration
	maxRetries       int
	jobTimeout       time.Duration
	maxJobTimeout    time.Duration
	unknown          worker.UnknownJobPolicy
	discardMalformed bool
	throttleDelay    time.Duration

	// Queue subsystem.
	queueConfigs []queue.Config
	jobConfigs   []queue.JobConfig
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// closers are released by Close in reverse order.
	closers []func() error

	mu   sync.Mutex
	pool *worker.Pool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine and everything it builds.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithQueue sets the queue the worker pool consumes. Defaults to "default".
func WithQueue(name string) Option {
	return func(eng *Engine) { eng.queue = name }
}

// WithConcurrency sets the number of independent workers.
func WithConcurrency(n int) Option {
	return func(eng *Engine) { eng.concurrency = n }
}

// WithWaitTime sets the long-poll wait of each receive.
func WithWaitTime(d time.Duration) Option {
	return func(eng *Engine) { eng.waitTime = d }
}

// WithDefaultJobOptions sets the retry budget and timeout that
// Engine.Register applies before the definition's own options.
func WithDefaultJobOptions(maxRetries int, timeout time.Duration) Option {
	return func(eng *Engine) {
		eng.maxRetries = maxRetries
		eng.jobTimeout = timeout
	}
}

// WithMaxJobTimeout caps every execution, whatever its definition says.
// Zero disables the cap.
func WithMaxJobTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.maxJobTimeout = d }
}

// WithUnknownJobPolicy sets what workers do with unregistered job names.
func WithUnknownJobPolicy(p worker.UnknownJobPolicy) Option {
	return func(eng *Engine) { eng.unknown = p }
}

// WithDiscardMalformed makes workers delete bodies that cannot be decoded.
func WithDiscardMalformed(discard bool) Option {
	return func(eng *Engine) { eng.discardMalformed = discard }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.exts = append(eng.exts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the defaults.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithDLQStore enables dead-lettering into s. Without it, jobs past their
// retry budget are deleted and dropped.
func WithDLQStore(s dlq.Store) Option {
	return func(eng *Engine) { eng.dlqStore = s }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithJobConfig registers per-job-name limits within a queue.
func WithJobConfig(configs ...queue.JobConfig) Option {
	return func(eng *Engine) {
		eng.jobConfigs = append(eng.jobConfigs, configs...)
	}
}

// WithThrottleDelay sets how long a job refused by the queue manager is
// hidden before it is offered again.
func WithThrottleDelay(d time.Duration) Option {
	return func(eng *Engine) { eng.throttleDelay = d }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// validateConfig rejects the settings WithConfig would otherwise ignore.
func validateConfig(cfg *sqjobs.Config) error {
	if _, err := backoff.Parse(cfg.Backoff, cfg.BackoffInitial, cfg.BackoffMax); err != nil {
		return fmt.Errorf("sqjobs/engine: %w", err)
	}
	if _, err := worker.ParseUnknownJobPolicy(cfg.UnknownJobPolicy); err != nil {
		return fmt.Errorf("sqjobs/engine: %w", err)
	}
	return nil
}

// WithConfig applies the worker settings of cfg. Invalid backoff or
// unknown-job settings are left at their defaults; FromConfig rejects them.
func WithConfig(cfg *sqjobs.Config) Option {
	return func(eng *Engine) {
		eng.queue = cfg.Queue
		eng.concurrency = cfg.Concurrency
		eng.waitTime = cfg.WaitTime
		eng.maxRetries = cfg.MaxRetries
		eng.jobTimeout = cfg.JobTimeout
		if cfg.BackoffInitial > 0 {
			if bo, err := backoff.Parse(cfg.Backoff, cfg.BackoffInitial, cfg.BackoffMax); err == nil {
				eng.bo = bo
			}
		}
		if p, err := worker.ParseUnknownJobPolicy(cfg.UnknownJobPolicy); err == nil {
			eng.unknown = p
		}
	}
}

// New creates an Engine over conn. The caller keeps ownership of conn
// unless the engine was built by FromConfig.
func New(conn connector.Connector, opts ...Option) (*Engine, error) {
	if conn == nil {
		return nil, sqjobs.ErrNoConnector
	}

	registry, err := job.NewRegistry()
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		conn:          conn,
		registry:      registry,
		logger:        slog.Default(),
		queue:         "default",
		concurrency:   1,
		waitTime:      broker.DefaultWaitTime,
		maxRetries:    job.DefaultOptions().MaxRetries,
		jobTimeout:    job.DefaultOptions().Timeout,
		throttleDelay: worker.DefaultThrottleDelay,
	}

	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Register the observability metrics extension.
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName + "/observability")
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(meter))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	eng.broker = broker.NewStandard(conn,
		broker.WithWaitTime(eng.waitTime),
		broker.WithLogger(eng.logger),
		broker.WithExtensions(eng.extensions),
	)

	if eng.dlqStore != nil {
		eng.dlqService = dlq.NewService(eng.dlqStore, eng.broker)
	}

	if len(eng.queueConfigs) > 0 || len(eng.jobConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, jc := range eng.jobConfigs {
			eng.queueManager.SetJobConfig(jc)
		}
	}

	return eng, nil
}

// FromConfig opens the connector and dead letter store named in cfg and
// builds an Engine that closes both on Close. opts are applied after cfg.
func FromConfig(ctx context.Context, cfg *sqjobs.Config, opts ...Option) (*Engine, error) {
	// Resolve the logger before the engine exists so the store logs through it.
	probe := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	conn, err := OpenConnector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := OpenDLQStore(ctx, cfg, probe.logger)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // already failing
		return nil, err
	}

	all := []Option{WithConfig(cfg)}
	if s != nil {
		all = append(all, WithDLQStore(s))
	}
	all = append(all, opts...)

	eng, err := New(conn, all...)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // already failing
		return nil, err
	}
	eng.closers = append(eng.closers, conn.Close)
	if s != nil {
		eng.closers = append(eng.closers, s.Close)
	}

	eng.logger.Info("engine configured",
		slog.String("transport", cfg.Transport),
		slog.String("codec", cfg.Codec),
		slog.String("queue", eng.queue),
		slog.String("dlq_backend", cfg.DLQBackend),
	)
	return eng, nil
}

// Register adds a job definition. The engine's default retry budget and
// timeout are applied first, so opts override them.
func (eng *Engine) Register(name string, fn job.HandlerFunc, opts ...job.Option) error {
	all := make([]job.Option, 0, len(opts)+2)
	all = append(all, job.WithMaxRetries(eng.maxRetries), job.WithTimeout(eng.jobTimeout))
	all = append(all, opts...)
	return eng.registry.Register(job.NewDefinition(name, fn, all...))
}

// RegisterDefinition adds a prebuilt definition as is.
func (eng *Engine) RegisterDefinition(def *job.Definition) error {
	return eng.registry.Register(def)
}

// Enqueue creates a job and sends it to queue.
func (eng *Engine) Enqueue(ctx context.Context, queueName, name string, args []any, kwargs map[string]any) (*job.Job, error) {
	j := job.New(name, args, kwargs)
	if err := eng.broker.Enqueue(ctx, queueName, j); err != nil {
		return nil, err
	}
	return j, nil
}

// EnqueueJob sends a producer-built job. An empty ID is filled in.
func (eng *Engine) EnqueueJob(ctx context.Context, queueName string, j *job.Job) error {
	return eng.broker.Enqueue(ctx, queueName, j)
}

// middleware builds the default stack followed by user middleware:
// recover → tracing → metrics → logging → timeout → user.
func (eng *Engine) middleware() []mw.Middleware {
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	defaults := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger, eng.maxJobTimeout),
	}
	all := make([]mw.Middleware, 0, len(defaults)+len(eng.mws))
	all = append(all, defaults...)
	return append(all, eng.mws...)
}

func (eng *Engine) workerOptions() []worker.Option {
	opts := []worker.Option{
		worker.WithBackoff(eng.bo),
		worker.WithMiddleware(eng.middleware()...),
		worker.WithUnknownJobPolicy(eng.unknown),
		worker.WithDiscardMalformed(eng.discardMalformed),
	}
	if eng.dlqService != nil {
		opts = append(opts, worker.WithDLQ(eng.dlqService))
	}
	if eng.queueManager != nil {
		opts = append(opts, worker.WithQueueManager(eng.queueManager, eng.throttleDelay))
	}
	return opts
}

// Start builds the worker pool on first use and starts it. Registration
// is closed once workers start polling.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.pool == nil {
		eng.pool = worker.NewPool(eng.broker, eng.queue, eng.registry,
			worker.WithPoolConcurrency(eng.concurrency),
			worker.WithPoolLogger(eng.logger),
			worker.WithPoolExtensions(eng.extensions),
			worker.WithWorkerOptions(eng.workerOptions()...),
		)
	}
	pool := eng.pool
	eng.mu.Unlock()

	return pool.Start(ctx)
}

// Stop gracefully shuts down the worker pool; see worker.Pool.Stop.
func (eng *Engine) Stop(ctx context.Context) error {
	pool := eng.Pool()
	if pool == nil {
		return nil
	}
	return pool.Stop(ctx)
}

// Done is closed once every worker has exited. It is nil before Start.
func (eng *Engine) Done() <-chan struct{} {
	pool := eng.Pool()
	if pool == nil {
		return nil
	}
	return pool.Done()
}

// Err returns the errors workers exited with.
func (eng *Engine) Err() error {
	pool := eng.Pool()
	if pool == nil {
		return nil
	}
	return pool.Err()
}

// Close releases the connector and store opened by FromConfig. Stop the
// engine first.
func (eng *Engine) Close() error {
	var errs []error
	for i := len(eng.closers) - 1; i >= 0; i-- {
		if err := eng.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	eng.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sqjobs/engine: close: %w", err)
	}
	return nil
}

// Ping checks the dead letter store, when there is one.
func (eng *Engine) Ping(ctx context.Context) error {
	if p, ok := eng.dlqStore.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Queue returns the queue the pool consumes.
func (eng *Engine) Queue() string { return eng.queue }

// Broker returns the engine's broker.
func (eng *Engine) Broker() *broker.Standard { return eng.broker }

// Connector returns the underlying connector.
func (eng *Engine) Connector() connector.Connector { return eng.conn }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// DLQService returns the DLQ service, or nil when no store was configured.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the queue manager, or nil if no queue or job
// configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Pool returns the worker pool, or nil before Start.
func (eng *Engine) Pool() *worker.Pool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.pool
}
