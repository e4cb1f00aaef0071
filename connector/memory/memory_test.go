package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/connector/connectortest"
	"github.com/xraph/sqjobs/connector/memory"
	"github.com/xraph/sqjobs/job"
)

func TestConnectorSuite(t *testing.T) {
	connectortest.Run(t, func(t *testing.T) (connector.Connector, string) {
		c := memory.New(memory.WithQueues("default"))
		t.Cleanup(func() { _ = c.Close() })
		return c, "default"
	})
}

func TestConnectorSuite_Msgpack(t *testing.T) {
	connectortest.Run(t, func(t *testing.T) (connector.Connector, string) {
		c := memory.New(memory.WithQueues("default"), memory.WithCodec(codec.Get(codec.NameMsgpack)))
		t.Cleanup(func() { _ = c.Close() })
		return c, "default"
	})
}

func TestConnectorSuite_Expiry(t *testing.T) {
	connectortest.RunExpiry(t, func(t *testing.T) (connector.Connector, string) {
		c := memory.New(memory.WithQueues("default"), memory.WithVisibilityTimeout(500*time.Millisecond))
		t.Cleanup(func() { _ = c.Close() })
		return c, "default"
	}, 500*time.Millisecond)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRetry_ThirtySecondDelay(t *testing.T) {
	clock := newFakeClock()
	c := memory.New(memory.WithQueues("q"), memory.WithClock(clock.Now))
	ctx := context.Background()

	if err := c.Enqueue(ctx, "q", job.New("slow", nil, nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := c.Dequeue(ctx, "q", 0)
	if err != nil || got == nil {
		t.Fatalf("Dequeue = %v, %v", got, err)
	}

	if err := c.Retry(ctx, "q", got.BrokerID, 30*time.Second); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	clock.Advance(29 * time.Second)
	if early, _ := c.Dequeue(ctx, "q", 0); early != nil {
		t.Fatal("message visible after 29s, want hidden until 30s")
	}

	clock.Advance(time.Second)
	again, err := c.Dequeue(ctx, "q", 0)
	if err != nil || again == nil {
		t.Fatalf("Dequeue after 30s = %v, %v", again, err)
	}
	if again.Retries != 2 {
		t.Errorf("Retries = %d, want 2", again.Retries)
	}
	if !again.FirstExecutionOn.Equal(*got.FirstExecutionOn) {
		t.Errorf("FirstExecutionOn = %v, want %v", again.FirstExecutionOn, got.FirstExecutionOn)
	}
}

func TestVisibilityTimeout_Redelivers(t *testing.T) {
	clock := newFakeClock()
	c := memory.New(
		memory.WithQueues("q"),
		memory.WithClock(clock.Now),
		memory.WithVisibilityTimeout(10*time.Second),
	)
	ctx := context.Background()

	_ = c.Enqueue(ctx, "q", job.New("abandoned", nil, nil))
	first, _ := c.Dequeue(ctx, "q", 0)
	if first == nil {
		t.Fatal("expected first delivery")
	}

	clock.Advance(5 * time.Second)
	if hidden, _ := c.Dequeue(ctx, "q", 0); hidden != nil {
		t.Fatal("message redelivered inside visibility timeout")
	}

	clock.Advance(5 * time.Second)
	second, _ := c.Dequeue(ctx, "q", 0)
	if second == nil {
		t.Fatal("message not redelivered after visibility timeout")
	}
	if second.Retries != 2 {
		t.Errorf("Retries = %d, want 2", second.Retries)
	}

	// The first handle is stale now; deleting with it is a no-op.
	if err := c.Delete(ctx, "q", first.BrokerID); err != nil {
		t.Fatalf("stale Delete: %v", err)
	}
	if c.Len("q") != 1 {
		t.Errorf("Len = %d, want 1 (stale delete must not remove)", c.Len("q"))
	}
	if err := c.Retry(ctx, "q", first.BrokerID, 0); !errors.Is(err, sqjobs.ErrInvalidHandle) {
		t.Errorf("stale Retry = %v, want ErrInvalidHandle", err)
	}
}

func TestFIFOOrder(t *testing.T) {
	c := memory.New(memory.WithQueues("q"))
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_ = c.Enqueue(ctx, "q", job.New(name, nil, nil))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := c.Dequeue(ctx, "q", 0)
		if err != nil || got == nil {
			t.Fatalf("Dequeue = %v, %v", got, err)
		}
		if got.Name != want {
			t.Errorf("Name = %q, want %q", got.Name, want)
		}
	}
}

func TestClose(t *testing.T) {
	c := memory.New(memory.WithQueues("q"))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Dequeue(ctx, "q", 5*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, sqjobs.ErrConnectorClosed) {
			t.Errorf("blocked Dequeue = %v, want ErrConnectorClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake blocked Dequeue")
	}

	if err := c.Enqueue(ctx, "q", job.New("x", nil, nil)); !errors.Is(err, sqjobs.ErrConnectorClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrConnectorClosed", err)
	}
}

func TestCreateDeleteQueue(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	if err := c.Enqueue(ctx, "late", job.New("x", nil, nil)); !errors.Is(err, sqjobs.ErrQueueNotFound) {
		t.Fatalf("Enqueue before CreateQueue = %v", err)
	}
	c.CreateQueue("late")
	if err := c.Enqueue(ctx, "late", job.New("x", nil, nil)); err != nil {
		t.Fatalf("Enqueue after CreateQueue = %v", err)
	}
	c.DeleteQueue("late")
	if _, err := c.Dequeue(ctx, "late", 0); !errors.Is(err, sqjobs.ErrQueueNotFound) {
		t.Fatalf("Dequeue after DeleteQueue = %v", err)
	}
}
