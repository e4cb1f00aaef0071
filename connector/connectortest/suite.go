// Package connectortest holds a behavioural test suite every
// connector.Connector implementation must pass.
package connectortest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/job"
)

// MissingQueue is a queue name factories must not create.
const MissingQueue = "sqjobs-missing-queue"

// Factory returns a fresh connector and the name of an existing, empty
// queue whose visibility timeout is at least several seconds.
type Factory func(t *testing.T) (connector.Connector, string)

// Publisher is implemented by connectors that can send a raw body. The
// suite uses it to exercise decode failures.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Run executes the suite.
func Run(t *testing.T, newConn Factory) {
	t.Helper()

	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newConn) })
	t.Run("EmptyNonBlocking", func(t *testing.T) { testEmptyNonBlocking(t, newConn) })
	t.Run("BlockingDelivery", func(t *testing.T) { testBlockingDelivery(t, newConn) })
	t.Run("CancelledWait", func(t *testing.T) { testCancelledWait(t, newConn) })
	t.Run("RetryIncrementsCount", func(t *testing.T) { testRetryIncrementsCount(t, newConn) })
	t.Run("RetryDelay", func(t *testing.T) { testRetryDelay(t, newConn) })
	t.Run("DeleteTerminal", func(t *testing.T) { testDeleteTerminal(t, newConn) })
	t.Run("UnknownQueue", func(t *testing.T) { testUnknownQueue(t, newConn) })
	t.Run("RetryUnknownHandle", func(t *testing.T) { testRetryUnknownHandle(t, newConn) })
	t.Run("MalformedBody", func(t *testing.T) { testMalformedBody(t, newConn) })
}

// RunExpiry checks that a delivery that is neither deleted nor retried
// comes back once visibility has passed, counting every receive. newConn
// must return a connector whose visibility timeout is visibility.
func RunExpiry(t *testing.T, newConn Factory, visibility time.Duration) {
	t.Helper()

	c, queue := newConn(t)
	in := job.New("abandoned", nil, nil)
	mustEnqueue(t, c, queue, in)

	var first *time.Time
	handles := make(map[string]bool)
	for want := 1; want <= 3; want++ {
		got, err := c.Dequeue(ctxWithTimeout(t, visibility+10*time.Second), queue, visibility+5*time.Second)
		if err != nil {
			t.Fatalf("receive %d: %v", want, err)
		}
		if got == nil {
			t.Fatalf("receive %d: message did not come back", want)
		}
		if got.ID != in.ID {
			t.Fatalf("receive %d: ID = %q, want %q", want, got.ID, in.ID)
		}
		if got.Retries != want {
			t.Errorf("receive %d: Retries = %d, want %d", want, got.Retries, want)
		}
		if handles[got.BrokerID] {
			t.Errorf("receive %d: BrokerID %q reused", want, got.BrokerID)
		}
		handles[got.BrokerID] = true

		if got.FirstExecutionOn != nil {
			if first == nil {
				first = got.FirstExecutionOn
			} else if got.FirstExecutionOn.UnixMilli() != first.UnixMilli() {
				t.Errorf("receive %d: FirstExecutionOn = %v, want %v", want, got.FirstExecutionOn, first)
			}
		}
		if want == 3 {
			if err := c.Delete(context.Background(), queue, got.BrokerID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
		}
	}
}

func ctxWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func mustEnqueue(t *testing.T, c connector.Connector, queue string, j *job.Job) {
	t.Helper()
	if err := c.Enqueue(context.Background(), queue, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func mustDequeue(t *testing.T, c connector.Connector, queue string) *job.Job {
	t.Helper()
	got, err := c.Dequeue(ctxWithTimeout(t, 10*time.Second), queue, 2*time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil {
		t.Fatal("Dequeue returned no job")
	}
	return got
}

func testRoundTrip(t *testing.T, newConn Factory) {
	c, queue := newConn(t)
	before := time.Now().Add(-time.Second)

	in := job.New("greet", []any{"alice", 2.5}, map[string]any{"lang": "en", "loud": true})
	mustEnqueue(t, c, queue, in)

	got := mustDequeue(t, c, queue)
	if got.ID != in.ID || got.Name != in.Name {
		t.Errorf("identity = (%q, %q), want (%q, %q)", got.ID, got.Name, in.ID, in.Name)
	}
	if len(got.Args) != 2 || got.Args[0] != "alice" || got.Args[1] != 2.5 {
		t.Errorf("Args = %#v", got.Args)
	}
	if got.Kwargs["lang"] != "en" || got.Kwargs["loud"] != true {
		t.Errorf("Kwargs = %#v", got.Kwargs)
	}
	if got.QueueName != queue {
		t.Errorf("QueueName = %q, want %q", got.QueueName, queue)
	}
	if got.BrokerID == "" {
		t.Error("BrokerID is empty")
	}
	if got.Retries != 1 {
		t.Errorf("Retries = %d, want 1", got.Retries)
	}
	if got.CreatedOn.Before(before) || got.CreatedOn.After(time.Now().Add(time.Second)) {
		t.Errorf("CreatedOn = %v, want around now", got.CreatedOn)
	}
}

func testEmptyNonBlocking(t *testing.T, newConn Factory) {
	c, queue := newConn(t)

	start := time.Now()
	got, err := c.Dequeue(context.Background(), queue, 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got != nil {
		t.Fatalf("Dequeue = %+v, want nil", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("non-blocking dequeue took %v", elapsed)
	}
}

func testBlockingDelivery(t *testing.T, newConn Factory) {
	c, queue := newConn(t)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = c.Enqueue(context.Background(), queue, job.New("late", nil, nil)) //nolint:errcheck // asserted by the receive below
	}()

	got, err := c.Dequeue(ctxWithTimeout(t, 10*time.Second), queue, 5*time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.Name != "late" {
		t.Fatalf("Dequeue = %+v, want job %q", got, "late")
	}
}

func testCancelledWait(t *testing.T, newConn Factory) {
	c, queue := newConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	got, err := c.Dequeue(ctx, queue, 2*time.Second)
	if got != nil {
		t.Fatalf("Dequeue = %+v, want nil", got)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dequeue error = %v, want context.DeadlineExceeded", err)
	}
}

func testRetryIncrementsCount(t *testing.T, newConn Factory) {
	c, queue := newConn(t)
	mustEnqueue(t, c, queue, job.New("flaky", nil, nil))

	first := mustDequeue(t, c, queue)
	if err := c.Retry(context.Background(), queue, first.BrokerID, 0); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	second := mustDequeue(t, c, queue)
	if second.ID != first.ID {
		t.Fatalf("redelivered ID = %q, want %q", second.ID, first.ID)
	}
	if second.Retries != first.Retries+1 {
		t.Errorf("Retries = %d after %d, want %d", second.Retries, first.Retries, first.Retries+1)
	}
	if second.BrokerID == first.BrokerID {
		t.Error("BrokerID must change between deliveries")
	}
	if first.FirstExecutionOn != nil && second.FirstExecutionOn != nil &&
		!second.FirstExecutionOn.Equal(*first.FirstExecutionOn) {
		t.Errorf("FirstExecutionOn changed: %v -> %v", first.FirstExecutionOn, second.FirstExecutionOn)
	}
}

func testRetryDelay(t *testing.T, newConn Factory) {
	c, queue := newConn(t)
	mustEnqueue(t, c, queue, job.New("later", nil, nil))

	got := mustDequeue(t, c, queue)
	start := time.Now()
	if err := c.Retry(context.Background(), queue, got.BrokerID, time.Second); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	early, err := c.Dequeue(context.Background(), queue, 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if early != nil {
		t.Fatal("message visible before retry delay elapsed")
	}

	again := mustDequeue(t, c, queue)
	if elapsed := time.Since(start); elapsed < 800*time.Millisecond {
		t.Errorf("redelivered after %v, want >= ~1s", elapsed)
	}
	if again.Retries != 2 {
		t.Errorf("Retries = %d, want 2", again.Retries)
	}
}

func testDeleteTerminal(t *testing.T, newConn Factory) {
	c, queue := newConn(t)
	mustEnqueue(t, c, queue, job.New("once", nil, nil))

	got := mustDequeue(t, c, queue)
	if err := c.Delete(context.Background(), queue, got.BrokerID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(context.Background(), queue, got.BrokerID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	after, err := c.Dequeue(context.Background(), queue, 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if after != nil {
		t.Fatalf("deleted message was redelivered: %+v", after)
	}
}

func testUnknownQueue(t *testing.T, newConn Factory) {
	c, _ := newConn(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"Enqueue": func() error { return c.Enqueue(ctx, MissingQueue, job.New("x", nil, nil)) },
		"Dequeue": func() error { _, err := c.Dequeue(ctx, MissingQueue, 0); return err },
		"Delete":  func() error { return c.Delete(ctx, MissingQueue, "handle") },
		"Retry":   func() error { return c.Retry(ctx, MissingQueue, "handle", time.Second) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, sqjobs.ErrQueueNotFound) {
			t.Errorf("%s on missing queue = %v, want ErrQueueNotFound", name, err)
		}
	}
}

func testRetryUnknownHandle(t *testing.T, newConn Factory) {
	c, queue := newConn(t)
	err := c.Retry(context.Background(), queue, "no-such-handle", time.Second)
	if !errors.Is(err, sqjobs.ErrInvalidHandle) {
		t.Fatalf("Retry = %v, want ErrInvalidHandle", err)
	}
}

func testMalformedBody(t *testing.T, newConn Factory) {
	c, queue := newConn(t)
	pub, ok := c.(Publisher)
	if !ok {
		t.Skip("connector cannot publish raw bodies")
	}
	if err := pub.Publish(context.Background(), queue, []byte(`{"id":"x","args":[]}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := c.Dequeue(ctxWithTimeout(t, 10*time.Second), queue, 2*time.Second)
	if got != nil {
		t.Fatalf("Dequeue = %+v, want nil", got)
	}
	var decErr *sqjobs.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Dequeue error = %v, want *DecodeError", err)
	}
	if !errors.Is(err, sqjobs.ErrDecode) {
		t.Error("DecodeError must match ErrDecode")
	}
	if decErr.Handle == "" {
		t.Fatal("DecodeError.Handle is empty")
	}
	if err := c.Delete(context.Background(), queue, decErr.Handle); err != nil {
		t.Fatalf("Delete malformed: %v", err)
	}
}
