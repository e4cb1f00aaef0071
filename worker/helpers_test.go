package worker_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/sqjobs/broker"
	"github.com/xraph/sqjobs/connector/memory"
	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
)

// recorder is an extension that records which hooks fired.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(event string) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnJobStarted(context.Context, *job.Job) error { return r.add("started") }
func (r *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return r.add("completed")
}
func (r *recorder) OnJobRetrying(context.Context, *job.Job, time.Duration, error) error {
	return r.add("retrying")
}
func (r *recorder) OnJobFailed(context.Context, *job.Job, error) error { return r.add("failed") }
func (r *recorder) OnJobDLQ(context.Context, *job.Job, error) error    { return r.add("dlq") }
func (r *recorder) OnJobUnknown(context.Context, *job.Job) error       { return r.add("unknown") }
func (r *recorder) OnJobThrottled(context.Context, *job.Job, time.Duration) error {
	return r.add("throttled")
}
func (r *recorder) OnShutdown(context.Context) error { return r.add("shutdown") }

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) registry() *ext.Registry {
	reg := ext.NewRegistry(slog.Default())
	reg.Register(r)
	return reg
}

// harness bundles an in-memory queue and a broker over it.
type harness struct {
	conn   *memory.Connector
	broker *broker.Standard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := memory.New(memory.WithQueues("default"))
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{conn: conn, broker: broker.NewStandard(conn, broker.WithWaitTime(time.Second))}
}

func (h *harness) enqueue(t *testing.T, name string, kwargs map[string]any) *job.Job {
	t.Helper()
	j := job.New(name, nil, kwargs)
	if err := h.broker.Enqueue(context.Background(), "default", j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return j
}

func mustRegistry(t *testing.T, defs ...*job.Definition) *job.Registry {
	t.Helper()
	reg, err := job.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// runAsync runs fn in a goroutine and returns a channel with its result.
func runAsync(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker to return")
		return nil
	}
}
