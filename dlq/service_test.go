package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/job"
	"github.com/xraph/sqjobs/store/memory"
)

type sent struct {
	queue string
	job   *job.Job
}

// recordingEnqueuer captures replayed jobs.
type recordingEnqueuer struct {
	sent []sent
	err  error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, queue string, j *job.Job) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{queue, j})
	return nil
}

func newTestJob(name string) *job.Job {
	first := time.Now().Add(-time.Hour).UTC()
	j := job.New(name, []any{"alice@example.com"}, map[string]any{"subject": "hi"})
	j.QueueName = "default"
	j.Retries = 4
	j.BrokerID = "handle-4"
	j.FirstExecutionOn = &first
	return j
}

func pushOne(t *testing.T, svc *dlq.Service, s dlq.Store, j *job.Job) *dlq.Entry {
	t.Helper()
	ctx := context.Background()
	if err := svc.Push(ctx, j, 3, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	return entries[0]
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)

	j := newTestJob("send-email")
	entry := pushOne(t, svc, s, j)

	if err := id.Validate(entry.ID, id.PrefixDLQ); err != nil {
		t.Errorf("entry ID %q: %v", entry.ID, err)
	}
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobName != "send-email" {
		t.Errorf("JobName = %q, want %q", entry.JobName, "send-email")
	}
	if entry.Queue != "default" {
		t.Errorf("Queue = %q, want %q", entry.Queue, "default")
	}
	if len(entry.Args) != 1 || entry.Args[0] != "alice@example.com" {
		t.Errorf("Args = %#v", entry.Args)
	}
	if entry.Kwargs["subject"] != "hi" {
		t.Errorf("Kwargs = %#v", entry.Kwargs)
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "smtp timeout")
	}
	if entry.Retries != 4 || entry.MaxRetries != 3 {
		t.Errorf("Retries/MaxRetries = %d/%d, want 4/3", entry.Retries, entry.MaxRetries)
	}
	if entry.FirstExecutionOn == nil || !entry.FirstExecutionOn.Equal(*j.FirstExecutionOn) {
		t.Errorf("FirstExecutionOn = %v, want %v", entry.FirstExecutionOn, j.FirstExecutionOn)
	}
	if entry.FailedAt.IsZero() || entry.CreatedAt.IsZero() {
		t.Error("expected FailedAt and CreatedAt to be set")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	ctx := context.Background()

	for i := range 3 {
		j := newTestJob("job-" + string(rune('a'+i)))
		if err := svc.Push(ctx, j, 3, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_EnqueuesNewJob(t *testing.T) {
	s := memory.New()
	enq := &recordingEnqueuer{}
	svc := dlq.NewService(s, enq)

	original := newTestJob("replay-me")
	entry := pushOne(t, svc, s, original)

	replayed, err := svc.Replay(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.Name != "replay-me" {
		t.Errorf("Name = %q, want %q", replayed.Name, "replay-me")
	}
	if replayed.Kwargs["subject"] != "hi" {
		t.Errorf("Kwargs = %#v", replayed.Kwargs)
	}
	if len(enq.sent) != 1 || enq.sent[0].queue != "default" || enq.sent[0].job != replayed {
		t.Fatalf("enqueued = %+v, want the replayed job on %q", enq.sent, "default")
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, &recordingEnqueuer{})
	ctx := context.Background()

	entry := pushOne(t, svc, s, newTestJob("replay-mark"))
	if _, err := svc.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_EnqueueFailureLeavesEntry(t *testing.T) {
	s := memory.New()
	boom := errors.New("queue gone")
	svc := dlq.NewService(s, &recordingEnqueuer{err: boom})
	ctx := context.Background()

	entry := pushOne(t, svc, s, newTestJob("stuck"))
	if _, err := svc.Replay(ctx, entry.ID); !errors.Is(err, boom) {
		t.Fatalf("Replay = %v, want %v", err, boom)
	}
	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt != nil {
		t.Error("entry marked replayed although enqueue failed")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	svc := dlq.NewService(memory.New(), &recordingEnqueuer{})

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, sqjobs.ErrDLQNotFound) {
		t.Fatalf("Replay = %v, want ErrDLQNotFound", err)
	}
}

func TestService_Replay_WithoutEnqueuer(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	entry := pushOne(t, svc, s, newTestJob("no-broker"))

	if _, err := svc.Replay(context.Background(), entry.ID); !errors.Is(err, sqjobs.ErrNoConnector) {
		t.Fatalf("Replay = %v, want ErrNoConnector", err)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	ctx := context.Background()
	_ = pushOne(t, svc, s, newTestJob("old"))

	n, err := svc.Purge(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if entries, _ := svc.List(ctx, dlq.ListOpts{}); len(entries) != 0 {
		t.Errorf("entries after purge = %d, want 0", len(entries))
	}
}
