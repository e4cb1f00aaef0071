package queue

// JobConfig limits one job name within one queue, so a noisy job cannot
// use up a queue it shares with others.
type JobConfig struct {
	QueueName string
	JobName   string

	MaxConcurrency int
	RateLimit      float64
	RateBurst      int
}

type jobKey struct{ queue, name string }

// SetJobConfig replaces the limits for cfg's queue and job name.
func (m *Manager) SetJobConfig(cfg JobConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobKey{cfg.QueueName, cfg.JobName}
	m.jobs[key] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst, m.jobs[key])
}

// JobActiveCount returns the running executions of jobName on queue.
func (m *Manager) JobActiveCount(queue, jobName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.jobs[jobKey{queue, jobName}]; g != nil {
		return g.active
	}
	return 0
}
