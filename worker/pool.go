package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/xraph/sqjobs/broker"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
)

// Pool runs several independent Workers on one queue. Each worker is its
// own consumer with its own stream.
type Pool struct {
	workers     []*Worker
	extensions  *ext.Registry
	concurrency int
	queue       string
	logger      *slog.Logger

	mu         sync.Mutex
	running    bool
	stopPoll   context.CancelFunc
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}
	errs       []error
}

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	concurrency int
	logger      *slog.Logger
	extensions  *ext.Registry
	workerOpts  []Option
}

// WithPoolConcurrency sets the number of workers.
func WithPoolConcurrency(n int) PoolOption {
	return func(c *poolConfig) { c.concurrency = n }
}

// WithPoolLogger sets the logger for the pool and its workers.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(c *poolConfig) { c.logger = l }
}

// WithPoolExtensions sets the extension registry shared by the workers.
// OnShutdown hooks fire when the pool stops.
func WithPoolExtensions(r *ext.Registry) PoolOption {
	return func(c *poolConfig) { c.extensions = r }
}

// WithWorkerOptions sets options applied to every worker.
func WithWorkerOptions(opts ...Option) PoolOption {
	return func(c *poolConfig) { c.workerOpts = append(c.workerOpts, opts...) }
}

// NewPool creates a pool of workers consuming queue.
func NewPool(b *broker.Standard, queue string, reg *job.Registry, opts ...PoolOption) *Pool {
	cfg := poolConfig{concurrency: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}
	if cfg.extensions == nil {
		cfg.extensions = ext.NewRegistry(cfg.logger)
	}

	shared := []Option{WithLogger(cfg.logger), WithExtensions(cfg.extensions)}
	workerOpts := append(shared, cfg.workerOpts...)

	p := &Pool{
		extensions:  cfg.extensions,
		concurrency: cfg.concurrency,
		queue:       queue,
		logger:      cfg.logger,
	}
	for range cfg.concurrency {
		p.workers = append(p.workers, New(b, queue, reg, workerOpts...))
	}
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker { return p.workers }

// Start launches the workers. It returns immediately; starting a running
// pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.errs = nil
	p.done = make(chan struct{})

	pollCtx, stopPoll := context.WithCancel(context.WithoutCancel(ctx))
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	p.stopPoll = stopPoll
	p.cancelJobs = cancelJobs

	p.logger.Info("worker pool starting",
		slog.String("queue", p.queue),
		slog.Int("concurrency", p.concurrency),
	)

	for _, w := range p.workers {
		w.jobBase = jobCtx
		p.wg.Add(1)
		go p.run(pollCtx, w)
	}

	done := p.done
	go func() {
		p.wg.Wait()
		close(done)
	}()
	return nil
}

func (p *Pool) run(ctx context.Context, w *Worker) {
	defer p.wg.Done()

	if err := w.Execute(ctx); err != nil {
		p.logger.Error("worker exited",
			slog.String("worker_id", w.ID()),
			slog.String("error", err.Error()),
		)
		p.mu.Lock()
		p.errs = append(p.errs, err)
		p.mu.Unlock()
	}
}

// Done is closed once every worker has exited, either because the pool
// was stopped or because the workers failed. It is nil before Start.
func (p *Pool) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err returns the errors workers exited with, joined.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Stop stops polling and waits for in-flight jobs to finish. If ctx ends
// first, in-flight jobs are cancelled and Stop waits for them to be
// acknowledged. Stopping a stopped pool is a no-op.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	done := p.done
	stopPoll, cancelJobs := p.stopPoll, p.cancelJobs
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("queue", p.queue))
	stopPoll()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		cancelJobs()
		<-done
	}
	cancelJobs()

	p.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return nil
}
