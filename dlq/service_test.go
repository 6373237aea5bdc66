package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/dlq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
	"github.com/leaseq/leaseq/store/memory"
)

func newDeadJob() *job.Job {
	now := time.Now().UTC()
	completed := now
	return &job.Job{
		Entity:            leaseq.NewEntityAt(now),
		ID:                id.NewJobID(),
		TenantID:          "tenant-1",
		Type:              "report.generate",
		Queue:             job.QueueReport,
		Priority:          job.PriorityNormal,
		Payload:           []byte(`{"report":"weekly"}`),
		CorrelationID:     id.NewCorrelationID().String(),
		Status:            job.StatusDead,
		ScheduledAt:       now.Add(-time.Hour),
		CompletedAt:       &completed,
		Attempt:           3,
		MaxAttempts:       3,
		VisibilityTimeout: 30 * time.Second,
		Timeout:           5 * time.Minute,
		IdempotencyKey:    "weekly-report-12",
		LastError:         "downstream unavailable",
		Version:           7,
	}
}

func TestAdd_PersistsEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob()
	entry, err := svc.Add(ctx, j, dlq.ReasonMaxAttempts, "downstream unavailable")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if entry.JobID.String() != j.ID.String() {
		t.Fatalf("job id = %s, want %s", entry.JobID, j.ID)
	}
	if entry.Reason != dlq.ReasonMaxAttempts {
		t.Fatalf("reason = %q", entry.Reason)
	}
	if entry.AttemptsMade != 3 {
		t.Fatalf("attempts made = %d, want 3", entry.AttemptsMade)
	}
	if len(entry.Snapshot) == 0 {
		t.Fatal("expected a job snapshot")
	}

	count, err := svc.Count(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestList_OldestFirst(t *testing.T) {
	s := memory.New()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := dlq.NewService(s, s, dlq.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := svc.Add(ctx, newDeadJob(), dlq.ReasonMaxAttempts, "one")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	now = now.Add(time.Minute)
	second, err := svc.Add(ctx, newDeadJob(), dlq.ReasonMaxAttempts, "two")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	entries, err := svc.List(ctx, "tenant-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("listed %d entries, want 2", len(entries))
	}
	if entries[0].ID.String() != first.ID.String() {
		t.Fatalf("entries[0] = %s, want %s", entries[0].ID, first.ID)
	}
	if entries[1].ID.String() != second.ID.String() {
		t.Fatalf("entries[1] = %s, want %s", entries[1].ID, second.ID)
	}
}

func TestRetry_ReplaysAsFreshJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	dead := newDeadJob()
	entry, err := svc.Add(ctx, dead, dlq.ReasonMaxAttempts, "downstream unavailable")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	replayed, err := svc.Retry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if replayed.ID.String() == dead.ID.String() {
		t.Fatal("replayed job reused the dead job's ID")
	}
	if replayed.Status != job.StatusPending {
		t.Fatalf("status = %s, want pending", replayed.Status)
	}
	if replayed.Attempt != 0 {
		t.Fatalf("attempt = %d, want 0", replayed.Attempt)
	}
	if replayed.Type != dead.Type || replayed.Queue != dead.Queue || replayed.Priority != dead.Priority {
		t.Fatal("replayed job lost type, queue, or priority")
	}
	if string(replayed.Payload) != string(dead.Payload) {
		t.Fatalf("payload = %q, want %q", replayed.Payload, dead.Payload)
	}
	if replayed.CorrelationID != dead.CorrelationID {
		t.Fatal("correlation ID not carried over")
	}
	if replayed.IdempotencyKey != "" {
		t.Fatalf("idempotency key carried over: %q", replayed.IdempotencyKey)
	}
	if replayed.LastError != "" {
		t.Fatalf("last error carried over: %q", replayed.LastError)
	}

	// The replayed job is persisted and the entry is gone.
	if _, err := s.GetJob(ctx, replayed.ID); err != nil {
		t.Fatalf("get replayed job: %v", err)
	}
	if _, err := svc.Get(ctx, entry.ID); !errors.Is(err, leaseq.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", err)
	}
}

func TestRetry_MissingEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	if _, err := svc.Retry(context.Background(), id.NewDLQID()); !errors.Is(err, leaseq.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", err)
	}
}

func TestClear_RemovesTenantEntriesOnly(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for range 3 {
		if _, err := svc.Add(ctx, newDeadJob(), dlq.ReasonMaxAttempts, "boom"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	other := newDeadJob()
	other.TenantID = "tenant-2"
	if _, err := svc.Add(ctx, other, dlq.ReasonMaxAttempts, "boom"); err != nil {
		t.Fatalf("add: %v", err)
	}

	removed, err := svc.Clear(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	count, _ := svc.Count(ctx, "tenant-1")
	if count != 0 {
		t.Fatalf("tenant-1 count = %d, want 0", count)
	}
	count, _ = svc.Count(ctx, "tenant-2")
	if count != 1 {
		t.Fatalf("tenant-2 count = %d, want 1", count)
	}
}
