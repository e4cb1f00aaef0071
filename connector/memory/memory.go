// Package memory implements connector.Connector in process memory with the
// same visibility-timeout semantics as a hosted queue: a received message
// stays invisible for the visibility timeout, reappears with a fresh handle
// and a higher receive count if it is not deleted, and can be made visible
// earlier or later with Retry.
//
// It is intended for tests and local development. Nothing survives the
// process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/job"
)

var _ connector.Connector = (*Connector)(nil)

// DefaultVisibilityTimeout matches the SQS default.
const DefaultVisibilityTimeout = 30 * time.Second

// Option configures the Connector.
type Option func(*Connector)

// WithCodec sets the body codec. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(m *Connector) { m.Serializer = connector.NewSerializer(c) }
}

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(m *Connector) { m.visibility = d }
}

// WithClock replaces the time source used for visibility and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Connector) { m.now = now }
}

// WithQueues declares queues at construction time.
func WithQueues(names ...string) Option {
	return func(m *Connector) {
		for _, name := range names {
			m.queues[name] = newQueue()
		}
	}
}

type message struct {
	body         []byte
	sentAt       time.Time
	visibleAt    time.Time
	receives     int
	firstReceive *time.Time
	handle       string
}

type queue struct {
	messages []*message
	handles  map[string]*message
}

func newQueue() *queue {
	return &queue{handles: make(map[string]*message)}
}

// take claims the first visible message. When none is visible it returns
// the earliest time one will become visible, or the zero time.
func (q *queue) take(now time.Time, visibility time.Duration) (*message, time.Time) {
	var next time.Time
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			if next.IsZero() || m.visibleAt.Before(next) {
				next = m.visibleAt
			}
			continue
		}
		if m.handle != "" {
			delete(q.handles, m.handle)
		}
		m.receives++
		if m.firstReceive == nil {
			first := now
			m.firstReceive = &first
		}
		m.handle = uuid.NewString()
		m.visibleAt = now.Add(visibility)
		q.handles[m.handle] = m
		return m, time.Time{}
	}
	return nil, next
}

func (q *queue) remove(m *message) {
	delete(q.handles, m.handle)
	for i, cur := range q.messages {
		if cur == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return
		}
	}
}

// Connector is an in-memory connector.Connector. Safe for concurrent use.
type Connector struct {
	connector.Serializer

	mu         sync.Mutex
	queues     map[string]*queue
	visibility time.Duration
	now        func() time.Time
	wake       chan struct{}
	closed     bool
}

// New returns an empty Connector.
func New(opts ...Option) *Connector {
	m := &Connector{
		Serializer: connector.NewSerializer(nil),
		queues:     make(map[string]*queue),
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
		wake:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateQueue declares a queue. Declaring an existing queue is a no-op.
func (m *Connector) CreateQueue(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		m.queues[name] = newQueue()
	}
}

// DeleteQueue drops a queue and everything in it.
func (m *Connector) DeleteQueue(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, name)
	m.signal()
}

// Len returns the number of messages in a queue, in flight or not.
func (m *Connector) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return len(q.messages)
	}
	return 0
}

// Enqueue serializes j and sends it.
func (m *Connector) Enqueue(ctx context.Context, name string, j *job.Job) error {
	body, err := m.Serialize(j)
	if err != nil {
		return err
	}
	return m.Publish(ctx, name, body)
}

// Publish sends a raw body.
func (m *Connector) Publish(_ context.Context, name string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.queueLocked(name)
	if err != nil {
		return err
	}
	now := m.now()
	q.messages = append(q.messages, &message{
		body:      append([]byte(nil), body...),
		sentAt:    now,
		visibleAt: now,
	})
	m.signal()
	return nil
}

// Dequeue receives one job; see connector.Connector.
func (m *Connector) Dequeue(ctx context.Context, name string, wait time.Duration) (*job.Job, error) {
	return connector.Poll(ctx, wait, func(ctx context.Context, wait time.Duration) (*job.Job, error) {
		return m.receive(ctx, name, wait)
	})
}

func (m *Connector) receive(ctx context.Context, name string, wait time.Duration) (*job.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		q, err := m.queueLocked(name)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		now := m.now()
		msg, next := q.take(now, m.visibility)
		var (
			body []byte
			md   job.Metadata
		)
		if msg != nil {
			body = msg.body
			first := *msg.firstReceive
			md = job.Metadata{
				BrokerID:         msg.handle,
				Retries:          msg.receives,
				CreatedOn:        msg.sentAt,
				FirstExecutionOn: &first,
			}
		}
		wake := m.wake
		m.mu.Unlock()

		if msg != nil {
			return m.Deserialize(body, name, md)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if !next.IsZero() {
			if until := next.Sub(now); until < remaining {
				remaining = until
			}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Delete removes the delivery identified by handle.
func (m *Connector) Delete(_ context.Context, name, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.queueLocked(name)
	if err != nil {
		return err
	}
	if msg, ok := q.handles[handle]; ok {
		q.remove(msg)
	}
	return nil
}

// Retry makes the delivery visible again after delay.
func (m *Connector) Retry(_ context.Context, name, handle string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.queueLocked(name)
	if err != nil {
		return err
	}
	msg, ok := q.handles[handle]
	if !ok {
		return fmt.Errorf("sqjobs/memory: retry %q: %w", handle, sqjobs.ErrInvalidHandle)
	}
	msg.visibleAt = m.now().Add(connector.ClampDelay(delay))
	m.signal()
	return nil
}

// Close rejects further operations and wakes blocked receivers.
func (m *Connector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.signal()
	return nil
}

func (m *Connector) queueLocked(name string) (*queue, error) {
	if m.closed {
		return nil, sqjobs.ErrConnectorClosed
	}
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("sqjobs/memory: queue %q: %w", name, sqjobs.ErrQueueNotFound)
	}
	return q, nil
}

// signal wakes every goroutine blocked in receive. Callers hold m.mu.
func (m *Connector) signal() {
	close(m.wake)
	m.wake = make(chan struct{})
}
