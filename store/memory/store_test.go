package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/dlq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
	"github.com/leaseq/leaseq/store/memory"
)

func newPendingJob(tenantID string, queue job.Queue, priority job.Priority, scheduledAt time.Time) *job.Job {
	return &job.Job{
		Entity:            leaseq.NewEntity(),
		ID:                id.NewJobID(),
		TenantID:          tenantID,
		Type:              "test.job",
		Queue:             queue,
		Priority:          priority,
		Status:            job.StatusPending,
		ScheduledAt:       scheduledAt,
		MaxAttempts:       3,
		VisibilityTimeout: 30 * time.Second,
		Version:           1,
	}
}

func TestSaveJob_Duplicate(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, time.Now().UTC())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveJob(ctx, j); !errors.Is(err, leaseq.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got: %v", err)
	}
}

func TestSaveJob_IdempotencyKey(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	first := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, now)
	first.IdempotencyKey = "release-42"
	if err := s.SaveJob(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	dup := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, now)
	dup.IdempotencyKey = "release-42"
	if err := s.SaveJob(ctx, dup); !errors.Is(err, leaseq.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got: %v", err)
	}

	// Same key under a different tenant is allowed.
	other := newPendingJob("tenant-2", job.QueueGate, job.PriorityNormal, now)
	other.IdempotencyKey = "release-42"
	if err := s.SaveJob(ctx, other); err != nil {
		t.Fatalf("save for other tenant: %v", err)
	}

	// Deleting the job releases the key.
	if _, err := s.DeleteJob(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	again := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, now)
	again.IdempotencyKey = "release-42"
	if err := s.SaveJob(ctx, again); err != nil {
		t.Fatalf("save after delete: %v", err)
	}
}

func TestGetJob_ReturnsCopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newPendingJob("tenant-1", job.QueueReport, job.PriorityNormal, time.Now().UTC())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	a, _ := s.GetJob(ctx, j.ID)
	a.LastError = "mutated locally"

	b, _ := s.GetJob(ctx, j.ID)
	if b.LastError != "" {
		t.Fatal("store state leaked through a returned job")
	}
}

func TestUpdateJob_VersionConflict(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newPendingJob("tenant-1", job.QueueReport, job.PriorityNormal, time.Now().UTC())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	a, _ := s.GetJob(ctx, j.ID)
	b, _ := s.GetJob(ctx, j.ID)

	a.LastError = "first writer"
	if err := s.UpdateJob(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("version after update = %d, want 2", a.Version)
	}

	b.LastError = "second writer"
	if err := s.UpdateJob(ctx, b); !errors.Is(err, leaseq.ErrLeaseConflict) {
		t.Fatalf("expected ErrLeaseConflict, got: %v", err)
	}
}

func TestUpdateJob_Missing(t *testing.T) {
	s := memory.New()

	j := newPendingJob("tenant-1", job.QueueReport, job.PriorityNormal, time.Now().UTC())
	if err := s.UpdateJob(context.Background(), j); !errors.Is(err, leaseq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got: %v", err)
	}
}

func TestUpdateJob_ConcurrentWritersOneWins(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, time.Now().UTC())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, err := s.GetJob(ctx, j.ID)
			if err != nil {
				return
			}
			// All writers race on the same read version.
			cp.Version = 1
			if err := cp.Transition(job.StatusProcessing); err != nil {
				return
			}
			if err := s.UpdateJob(ctx, cp); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d writers won the version race, want exactly 1", wins)
	}
}

func TestGetPendingJobs_Ordering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	// Same priority: earlier scheduled_at wins.
	late := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, now.Add(-time.Second))
	early := newPendingJob("tenant-1", job.QueueGate, job.PriorityNormal, now.Add(-2*time.Second))
	// Lower priority value always wins regardless of time.
	critical := newPendingJob("tenant-1", job.QueueGate, job.PriorityCritical, now)
	// Not yet eligible.
	future := newPendingJob("tenant-1", job.QueueGate, job.PriorityCritical, now.Add(time.Hour))

	for _, j := range []*job.Job{late, early, critical, future} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	pending, err := s.GetPendingJobs(ctx, job.QueueGate, 10, now)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}

	want := []string{critical.ID.String(), early.ID.String(), late.ID.String()}
	if len(pending) != len(want) {
		t.Fatalf("got %d pending jobs, want %d", len(pending), len(want))
	}
	for i := range want {
		if pending[i].ID.String() != want[i] {
			t.Fatalf("pending[%d] = %s, want %s", i, pending[i].ID, want[i])
		}
	}
}

func TestGetExpiredJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := newPendingJob("tenant-1", job.QueueIntegration, job.PriorityNormal, now)
	expired.Status = job.StatusProcessing
	expired.WorkerID = id.NewWorkerID()
	past := now.Add(-time.Minute)
	expired.LockedUntil = &past

	live := newPendingJob("tenant-1", job.QueueIntegration, job.PriorityNormal, now)
	live.Status = job.StatusProcessing
	live.WorkerID = id.NewWorkerID()
	future := now.Add(time.Minute)
	live.LockedUntil = &future

	for _, j := range []*job.Job{expired, live} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.GetExpiredJobs(ctx, job.QueueIntegration, 10, now)
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 expired job, got %d", len(got))
	}
	if got[0].ID.String() != expired.ID.String() {
		t.Fatalf("expired job = %s, want %s", got[0].ID, expired.ID)
	}
}

func TestCountJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for range 3 {
		if err := s.SaveJob(ctx, newPendingJob("tenant-1", job.QueueNotification, job.PriorityNormal, now)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.SaveJob(ctx, newPendingJob("tenant-2", job.QueueNotification, job.PriorityNormal, now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	count, err := s.CountJobs(ctx, job.CountOpts{
		TenantID: "tenant-1",
		Queue:    job.QueueNotification,
		Status:   job.StatusPending,
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestDLQ_RoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	entry := &dlq.Entry{
		ID:           id.NewDLQID(),
		JobID:        id.NewJobID(),
		TenantID:     "tenant-1",
		JobType:      "test.job",
		Queue:        job.QueueGate,
		Priority:     job.PriorityHigh,
		Reason:       dlq.ReasonMaxAttempts,
		FinalError:   "boom",
		AttemptsMade: 3,
		MaxAttempts:  3,
		MovedAt:      now,
		CreatedAt:    now,
	}
	if err := s.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save entry: %v", err)
	}

	got, err := s.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.FinalError != "boom" {
		t.Fatalf("final error = %q", got.FinalError)
	}

	count, _ := s.CountEntries(ctx, "tenant-1")
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	ok, err := s.DeleteEntry(ctx, entry.ID)
	if err != nil || !ok {
		t.Fatalf("delete entry: ok=%v err=%v", ok, err)
	}
	if _, err := s.GetEntry(ctx, entry.ID); !errors.Is(err, leaseq.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", err)
	}
}
