package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/backoff"
	memconn "github.com/xraph/sqjobs/connector/memory"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/engine"
	"github.com/xraph/sqjobs/job"
	"github.com/xraph/sqjobs/queue"
	memstore "github.com/xraph/sqjobs/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memconn.Connector) {
	t.Helper()
	conn := memconn.New(memconn.WithQueues("default"))
	t.Cleanup(func() { _ = conn.Close() })

	eng, err := engine.New(conn, append([]engine.Option{engine.WithWaitTime(time.Second)}, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, conn
}

func stop(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// lifecycleExt counts the hooks the engine fires.
type lifecycleExt struct {
	mu     sync.Mutex
	events map[string]int
}

func (e *lifecycleExt) Name() string { return "lifecycle" }

func (e *lifecycleExt) inc(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		e.events = make(map[string]int)
	}
	e.events[name]++
	return nil
}

func (e *lifecycleExt) get(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[name]
}

func (e *lifecycleExt) OnJobEnqueued(context.Context, string, *job.Job) error {
	return e.inc("enqueued")
}

func (e *lifecycleExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.inc("completed")
}

func (e *lifecycleExt) OnJobDLQ(context.Context, *job.Job, error) error { return e.inc("dlq") }

func (e *lifecycleExt) OnShutdown(context.Context) error { return e.inc("shutdown") }

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	lc := &lifecycleExt{}
	eng, conn := newEngine(t, engine.WithConcurrency(2), engine.WithExtension(lc))

	var (
		processed atomic.Bool
		gotTo     atomic.Value
	)
	err := eng.Register("send-email", func(_ context.Context, j *job.Job) error {
		gotTo.Store(j.Kwargs["to"])
		processed.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	j, err := eng.Enqueue(context.Background(), "default", "send-email", nil, map[string]any{
		"to": "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.ID == "" || j.Name != "send-email" {
		t.Errorf("enqueued job = %+v", j)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job to be processed", processed.Load)
	waitFor(t, "message deleted", func() bool { return conn.Len("default") == 0 })
	stop(t, eng)

	if got := gotTo.Load(); got != "alice@example.com" {
		t.Errorf("kwargs[to] = %v, want alice@example.com", got)
	}
	if lc.get("enqueued") != 1 || lc.get("completed") != 1 || lc.get("shutdown") != 1 {
		t.Errorf("events = %v", lc.events)
	}
	if len(eng.Pool().Workers()) != 2 {
		t.Errorf("workers = %d, want 2", len(eng.Pool().Workers()))
	}
}

func TestEngine_RegisterAppliesDefaults(t *testing.T) {
	eng, _ := newEngine(t, engine.WithDefaultJobOptions(7, time.Minute))
	noop := func(context.Context, *job.Job) error { return nil }

	if err := eng.Register("defaults", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := eng.Register("override", noop, job.WithMaxRetries(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, _ := eng.Registry().Get("defaults")
	if def.Opts.MaxRetries != 7 || def.Opts.Timeout != time.Minute {
		t.Errorf("defaults opts = %+v", def.Opts)
	}
	def, _ = eng.Registry().Get("override")
	if def.Opts.MaxRetries != 1 || def.Opts.Timeout != time.Minute {
		t.Errorf("override opts = %+v", def.Opts)
	}
	if err := eng.Register("defaults", noop); !errors.Is(err, sqjobs.ErrDuplicateJob) {
		t.Errorf("duplicate Register = %v, want ErrDuplicateJob", err)
	}
}

func TestEngine_FailingJobIsDeadLetteredAndReplayed(t *testing.T) {
	s := memstore.New()
	lc := &lifecycleExt{}
	eng, _ := newEngine(t,
		engine.WithDLQStore(s),
		engine.WithExtension(lc),
		engine.WithBackoff(backoff.NewConstant(0)),
		engine.WithDefaultJobOptions(1, time.Minute),
	)

	var attempts atomic.Int32
	if err := eng.Register("always-fails", func(context.Context, *job.Job) error {
		attempts.Add(1)
		return errors.New("nope")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := eng.Enqueue(context.Background(), "default", "always-fails", []any{1}, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "dead-letter", func() bool { return lc.get("dlq") == 1 })
	stop(t, eng)

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	entries, err := eng.DLQService().List(context.Background(), dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v", entries, err)
	}

	replayed, err := eng.DLQService().Replay(context.Background(), entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Name != "always-fails" || replayed.ID == entries[0].JobID {
		t.Errorf("replayed = %+v", replayed)
	}
	if lc.get("enqueued") != 2 {
		t.Errorf("enqueued events = %d, want 2", lc.get("enqueued"))
	}
}

func TestEngine_NoDLQStore(t *testing.T) {
	eng, _ := newEngine(t)
	if eng.DLQService() != nil {
		t.Error("DLQService should be nil without a store")
	}
	if eng.QueueManager() != nil {
		t.Error("QueueManager should be nil without queue configs")
	}
	if eng.Pool() != nil {
		t.Error("Pool should be nil before Start")
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}

func TestEngine_QueueConfigCreatesManager(t *testing.T) {
	eng, _ := newEngine(t,
		engine.WithQueueConfig(queue.Config{Name: "default", MaxConcurrency: 1}),
		engine.WithJobConfig(queue.JobConfig{QueueName: "default", JobName: "report", MaxConcurrency: 1}),
	)
	m := eng.QueueManager()
	if m == nil {
		t.Fatal("QueueManager is nil")
	}
	if !m.Acquire("default", "report") {
		t.Fatal("first Acquire refused")
	}
	if m.Acquire("default", "other") {
		t.Error("queue concurrency cap not applied")
	}
	m.Release("default", "report")
}

func TestEngine_NilConnector(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, sqjobs.ErrNoConnector) {
		t.Fatalf("New(nil) = %v, want ErrNoConnector", err)
	}
}

func TestEngine_TracerProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	eng, _ := newEngine(t, engine.WithTracerProvider(tp))

	var done atomic.Bool
	_ = eng.Register("traced", func(context.Context, *job.Job) error {
		done.Store(true)
		return nil
	})
	if _, err := eng.Enqueue(context.Background(), "default", "traced", nil, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job", done.Load)
	waitFor(t, "span", func() bool { return len(sr.Ended()) > 0 })
	stop(t, eng)

	if got := sr.Ended()[0].Name(); got != "sqjobs.job.execute" {
		t.Errorf("span name = %q", got)
	}
}

// ──────────────────────────────────────────────────
// Configuration
// ──────────────────────────────────────────────────

func TestOpenConnector(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		codec     string
		wantErr   bool
	}{
		{"memory json", engine.TransportMemory, "json", false},
		{"memory msgpack", engine.TransportMemory, "msgpack", false},
		{"unknown transport", "carrier-pigeon", "json", true},
		{"unknown codec", engine.TransportMemory, "xml", true},
		{"sqs rejects msgpack", engine.TransportSQS, "msgpack", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sqjobs.DefaultConfig()
			cfg.Transport = tt.transport
			cfg.Codec = tt.codec

			conn, err := engine.OpenConnector(context.Background(), &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenConnector err = %v, wantErr %v", err, tt.wantErr)
			}
			if conn != nil {
				_ = conn.Close()
			}
		})
	}
}

func TestOpenDLQStore(t *testing.T) {
	tests := []struct {
		backend   string
		wantStore bool
		wantErr   bool
	}{
		{engine.DLQMemory, true, false},
		{engine.DLQNone, false, false},
		{engine.DLQPostgres, false, true}, // no DATABASE_URL
		{"tape", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := sqjobs.DefaultConfig()
			cfg.DLQBackend = tt.backend
			cfg.DatabaseURL = ""

			s, err := engine.OpenDLQStore(context.Background(), &cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenDLQStore err = %v, wantErr %v", err, tt.wantErr)
			}
			if (s != nil) != tt.wantStore {
				t.Fatalf("store = %v, wantStore %v", s, tt.wantStore)
			}
			if s != nil {
				_ = s.Close()
			}
		})
	}
}

func TestFromConfig_Memory(t *testing.T) {
	cfg := sqjobs.DefaultConfig()
	cfg.Transport = engine.TransportMemory
	cfg.Queue = "reports"
	cfg.Concurrency = 3
	cfg.UnknownJobPolicy = "discard"

	eng, err := engine.FromConfig(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if eng.Queue() != "reports" {
		t.Errorf("Queue = %q, want reports", eng.Queue())
	}
	if eng.DLQService() == nil {
		t.Error("memory dlq backend should enable the DLQ service")
	}
	if err := eng.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if _, err := eng.Enqueue(context.Background(), "reports", "nightly", nil, nil); err != nil {
		t.Errorf("Enqueue on configured queue: %v", err)
	}
	if _, err := eng.Enqueue(context.Background(), "missing", "nightly", nil, nil); !errors.Is(err, sqjobs.ErrQueueNotFound) {
		t.Errorf("Enqueue on missing queue = %v, want ErrQueueNotFound", err)
	}
}
