package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config limits how jobs start from one queue.
type Config struct {
	Name string

	// MaxConcurrency caps jobs from this queue running at once in this
	// process. Zero leaves only the pool size as a bound.
	MaxConcurrency int

	// RateLimit is the sustained starts per second. Zero disables it.
	RateLimit float64

	// RateBurst defaults to 1 when RateLimit is set.
	RateBurst int
}

// gate is the runtime state behind one Config or JobConfig.
type gate struct {
	limiter *rate.Limiter
	max     int
	active  int
}

func newGate(max int, perSecond float64, burst int, prev *gate) *gate {
	g := &gate{max: max}
	if perSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), max1(burst))
	}
	if prev != nil {
		g.active = prev.active
	}
	return g
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (g *gate) full() bool { return g.max > 0 && g.active >= g.max }

// Manager decides whether a received job may start now. It is safe for
// concurrent use. Queues and jobs without a config are never refused.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*gate
	jobs   map[jobKey]*gate
}

// NewManager returns a Manager enforcing configs.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*gate, len(configs)),
		jobs:   make(map[jobKey]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst, nil)
	}
	return m
}

// SetQueueConfig replaces the limits for cfg.Name. Jobs already running
// keep counting against the new concurrency cap.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[cfg.Name] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst, m.queues[cfg.Name])
}

// Acquire reports whether jobName may start on queue now. On true the
// caller owns one slot of every matching limit and must call Release.
// A refusal consumes neither concurrency slots nor rate tokens.
func (m *Manager) Acquire(queue, jobName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	gates := m.gatesFor(queue, jobName)
	for _, g := range gates {
		if g.full() {
			return false
		}
	}

	now := time.Now()
	taken := make([]*rate.Reservation, 0, len(gates))
	for _, g := range gates {
		if g.limiter == nil {
			continue
		}
		r := g.limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range taken {
				prev.CancelAt(now)
			}
			return false
		}
		taken = append(taken, r)
	}

	for _, g := range gates {
		g.active++
	}
	return true
}

// Release returns the slots taken by a successful Acquire.
func (m *Manager) Release(queue, jobName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.gatesFor(queue, jobName) {
		if g.active > 0 {
			g.active--
		}
	}
}

// ActiveCount returns the jobs currently holding a slot on queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.queues[queue]; g != nil {
		return g.active
	}
	return 0
}

func (m *Manager) gatesFor(queue, jobName string) []*gate {
	gates := make([]*gate, 0, 2)
	if g := m.queues[queue]; g != nil {
		gates = append(gates, g)
	}
	if g := m.jobs[jobKey{queue, jobName}]; g != nil && jobName != "" {
		gates = append(gates, g)
	}
	return gates
}
