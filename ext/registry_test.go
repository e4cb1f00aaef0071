package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
)

// journal is shared by test extensions so ordering across them is visible.
type journal struct{ lines []string }

func (j *journal) note(ext, event string) { j.lines = append(j.lines, ext+":"+event) }

// auditor implements every hook.
type auditor struct {
	name string
	log  *journal
}

func (a *auditor) Name() string { return a.name }
func (a *auditor) OnJobEnqueued(context.Context, string, *job.Job) error {
	a.log.note(a.name, "enqueued")
	return nil
}
func (a *auditor) OnJobStarted(context.Context, *job.Job) error {
	a.log.note(a.name, "started")
	return nil
}
func (a *auditor) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	a.log.note(a.name, "completed")
	return nil
}
func (a *auditor) OnJobRetrying(context.Context, *job.Job, time.Duration, error) error {
	a.log.note(a.name, "retrying")
	return nil
}
func (a *auditor) OnJobFailed(context.Context, *job.Job, error) error {
	a.log.note(a.name, "failed")
	return nil
}
func (a *auditor) OnJobDLQ(context.Context, *job.Job, error) error {
	a.log.note(a.name, "dlq")
	return nil
}
func (a *auditor) OnJobUnknown(context.Context, *job.Job) error {
	a.log.note(a.name, "unknown")
	return nil
}
func (a *auditor) OnJobThrottled(context.Context, *job.Job, time.Duration) error {
	a.log.note(a.name, "throttled")
	return nil
}
func (a *auditor) OnShutdown(context.Context) error {
	a.log.note(a.name, "shutdown")
	return nil
}

// completionsOnly implements a single hook.
type completionsOnly struct{ log *journal }

func (c *completionsOnly) Name() string { return "completions" }
func (c *completionsOnly) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	c.log.note("completions", "completed")
	return nil
}

// broken fails one hook and panics in another.
type broken struct{}

func (broken) Name() string { return "broken" }
func (broken) OnJobEnqueued(context.Context, string, *job.Job) error {
	return errors.New("audit sink offline")
}
func (broken) OnShutdown(context.Context) error { panic("closed twice") }

func TestRegistry_EmitReachesImplementers(t *testing.T) {
	ctx := context.Background()
	j := job.New("send-email", nil, nil)
	cause := errors.New("smtp timeout")

	tests := []struct {
		event string
		emit  func(r *ext.Registry)
		want  []string
	}{
		{"enqueued", func(r *ext.Registry) { r.EmitJobEnqueued(ctx, "emails", j) }, []string{"audit:enqueued"}},
		{"started", func(r *ext.Registry) { r.EmitJobStarted(ctx, j) }, []string{"audit:started"}},
		{"completed", func(r *ext.Registry) { r.EmitJobCompleted(ctx, j, time.Second) }, []string{"audit:completed", "completions:completed"}},
		{"retrying", func(r *ext.Registry) { r.EmitJobRetrying(ctx, j, time.Second, cause) }, []string{"audit:retrying"}},
		{"failed", func(r *ext.Registry) { r.EmitJobFailed(ctx, j, cause) }, []string{"audit:failed"}},
		{"dlq", func(r *ext.Registry) { r.EmitJobDLQ(ctx, j, cause) }, []string{"audit:dlq"}},
		{"unknown", func(r *ext.Registry) { r.EmitJobUnknown(ctx, j) }, []string{"audit:unknown"}},
		{"throttled", func(r *ext.Registry) { r.EmitJobThrottled(ctx, j, time.Second) }, []string{"audit:throttled"}},
		{"shutdown", func(r *ext.Registry) { r.EmitShutdown(ctx) }, []string{"audit:shutdown"}},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			log := &journal{}
			r := ext.NewRegistry(nil)
			r.Register(&auditor{name: "audit", log: log})
			r.Register(&completionsOnly{log: log})

			tt.emit(r)
			if !slices.Equal(log.lines, tt.want) {
				t.Errorf("calls = %v, want %v", log.lines, tt.want)
			}
		})
	}
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	log := &journal{}
	r := ext.NewRegistry(nil)
	for _, name := range []string{"first", "second", "third"} {
		r.Register(&auditor{name: name, log: log})
	}
	r.EmitJobStarted(context.Background(), job.New("x", nil, nil))

	if want := []string{"first:started", "second:started", "third:started"}; !slices.Equal(log.lines, want) {
		t.Errorf("calls = %v, want %v", log.lines, want)
	}

	var names []string
	for _, e := range r.Extensions() {
		names = append(names, e.Name())
	}
	if want := []string{"first", "second", "third"}; !slices.Equal(names, want) {
		t.Errorf("Extensions() = %v, want %v", names, want)
	}
}

func TestRegistry_HookFailuresAreContained(t *testing.T) {
	var buf bytes.Buffer
	log := &journal{}
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	r.Register(broken{})
	r.Register(&auditor{name: "audit", log: log})
	ctx := context.Background()

	r.EmitJobEnqueued(ctx, "emails", job.New("x", nil, nil))
	r.EmitShutdown(ctx)

	if want := []string{"audit:enqueued", "audit:shutdown"}; !slices.Equal(log.lines, want) {
		t.Errorf("later extensions saw %v, want %v", log.lines, want)
	}
	out := buf.String()
	for _, s := range []string{
		"extension hook error", "hook=OnJobEnqueued", "extension=broken", `error="audit sink offline"`,
		"extension hook panicked", "hook=OnShutdown", `panic="closed twice"`,
	} {
		if !strings.Contains(out, s) {
			t.Errorf("log missing %q:\n%s", s, out)
		}
	}
}

func TestRegistry_Empty(t *testing.T) {
	r := ext.NewRegistry(nil)
	r.EmitJobCompleted(context.Background(), job.New("x", nil, nil), time.Second)
	r.EmitShutdown(context.Background())
	if len(r.Extensions()) != 0 {
		t.Fatal("empty registry reports extensions")
	}
}
