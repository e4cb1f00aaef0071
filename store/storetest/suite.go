// Package storetest holds a behavioural test suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/store"
)

// Factory returns a fresh, empty, migrated store.
type Factory func(t *testing.T) store.Store

// NewEntry builds an entry on queue that failed at failedAt. Times are
// truncated to milliseconds so every backend round-trips them exactly.
func NewEntry(queue string, failedAt time.Time) *dlq.Entry {
	failedAt = failedAt.UTC().Truncate(time.Millisecond)
	first := failedAt.Add(-time.Minute)
	return &dlq.Entry{
		ID:               id.NewDLQID(),
		JobID:            id.NewJobID(),
		JobName:          "send-email",
		Queue:            queue,
		Args:             []any{"alice@example.com"},
		Kwargs:           map[string]any{"subject": "hi"},
		Error:            "smtp timeout",
		Retries:          4,
		MaxRetries:       3,
		FirstExecutionOn: &first,
		FailedAt:         failedAt,
		CreatedAt:        failedAt,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("PushAndGet", func(t *testing.T) { testPushAndGet(t, newStore) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore) })
	t.Run("List", func(t *testing.T) { testList(t, newStore) })
	t.Run("Replay", func(t *testing.T) { testReplay(t, newStore) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newStore) })
	t.Run("Count", func(t *testing.T) { testCount(t, newStore) })
	t.Run("Ping", func(t *testing.T) { testPing(t, newStore) })
}

func mustPush(t *testing.T, s store.Store, entries ...*dlq.Entry) {
	t.Helper()
	for _, e := range entries {
		if err := s.PushDLQ(context.Background(), e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}
}

func testPushAndGet(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	e := NewEntry("default", time.Now())
	mustPush(t, s, e)

	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ID != e.ID || got.JobID != e.JobID || got.JobName != e.JobName || got.Queue != e.Queue {
		t.Errorf("identity = %+v, want %+v", got, e)
	}
	if len(got.Args) != 1 || got.Args[0] != "alice@example.com" {
		t.Errorf("Args = %#v", got.Args)
	}
	if got.Kwargs["subject"] != "hi" {
		t.Errorf("Kwargs = %#v", got.Kwargs)
	}
	if got.Error != e.Error || got.Retries != e.Retries || got.MaxRetries != e.MaxRetries {
		t.Errorf("failure = (%q, %d, %d), want (%q, %d, %d)",
			got.Error, got.Retries, got.MaxRetries, e.Error, e.Retries, e.MaxRetries)
	}
	if !got.FailedAt.Equal(e.FailedAt) {
		t.Errorf("FailedAt = %v, want %v", got.FailedAt, e.FailedAt)
	}
	if got.FirstExecutionOn == nil || !got.FirstExecutionOn.Equal(*e.FirstExecutionOn) {
		t.Errorf("FirstExecutionOn = %v, want %v", got.FirstExecutionOn, e.FirstExecutionOn)
	}
	if got.ReplayedAt != nil {
		t.Errorf("ReplayedAt = %v, want nil", got.ReplayedAt)
	}
}

func testGetUnknown(t *testing.T, newStore Factory) {
	s := newStore(t)
	if _, err := s.GetDLQ(context.Background(), id.NewDLQID()); !errors.Is(err, sqjobs.ErrDLQNotFound) {
		t.Fatalf("GetDLQ = %v, want ErrDLQNotFound", err)
	}
}

func testList(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	now := time.Now()
	oldest := NewEntry("default", now.Add(-3*time.Minute))
	middle := NewEntry("critical", now.Add(-2*time.Minute))
	newest := NewEntry("default", now.Add(-time.Minute))
	mustPush(t, s, oldest, middle, newest)

	tests := []struct {
		name string
		opts dlq.ListOpts
		want []string
	}{
		{"all newest first", dlq.ListOpts{}, []string{newest.ID, middle.ID, oldest.ID}},
		{"queue filter", dlq.ListOpts{Queue: "default"}, []string{newest.ID, oldest.ID}},
		{"limit", dlq.ListOpts{Limit: 2}, []string{newest.ID, middle.ID}},
		{"offset", dlq.ListOpts{Offset: 1}, []string{middle.ID, oldest.ID}},
		{"offset past end", dlq.ListOpts{Offset: 5}, nil},
		{"unknown queue", dlq.ListOpts{Queue: "nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := s.ListDLQ(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListDLQ: %v", err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.want))
			}
			for i, e := range entries {
				if e.ID != tt.want[i] {
					t.Errorf("entries[%d] = %s, want %s", i, e.ID, tt.want[i])
				}
			}
		})
	}
}

func testReplay(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	e := NewEntry("default", time.Now())
	mustPush(t, s, e)

	if err := s.ReplayDLQ(ctx, e.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}

	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, sqjobs.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ unknown = %v, want ErrDLQNotFound", err)
	}
}

func testPurge(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	now := time.Now()
	old := NewEntry("default", now.Add(-48*time.Hour))
	recent := NewEntry("default", now)
	mustPush(t, s, old, recent)

	purged, err := s.PurgeDLQ(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := s.GetDLQ(ctx, old.ID); !errors.Is(err, sqjobs.ErrDLQNotFound) {
		t.Errorf("old entry survived purge: %v", err)
	}
	if _, err := s.GetDLQ(ctx, recent.ID); err != nil {
		t.Errorf("recent entry purged: %v", err)
	}
}

func testCount(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	if n, err := s.CountDLQ(ctx); err != nil || n != 0 {
		t.Fatalf("CountDLQ empty = %d, %v; want 0, nil", n, err)
	}
	mustPush(t, s, NewEntry("a", time.Now()), NewEntry("b", time.Now()))
	if n, err := s.CountDLQ(ctx); err != nil || n != 2 {
		t.Fatalf("CountDLQ = %d, %v; want 2, nil", n, err)
	}
}

func testPing(t *testing.T, newStore Factory) {
	s := newStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
