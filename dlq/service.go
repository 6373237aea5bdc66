package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// clearBatchSize bounds how many entries Clear removes per listing
// round, so one tenant's purge cannot hold a giant result set.
const clearBatchSize = 100

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store  Store
	jobs   job.Store
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a dead letter service. jobs is used only by Retry
// to enqueue the replayed job.
func NewService(store Store, jobs job.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		jobs:   jobs,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add quarantines a terminally-failed job: it snapshots the full record
// and persists a dead letter entry. The live job record is left to the
// caller (retained for audit until external cleanup).
func (s *Service) Add(ctx context.Context, j *job.Job, reason, finalError string) (*Entry, error) {
	snapshot, err := encodeSnapshot(j)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := &Entry{
		ID:           id.NewDLQID(),
		JobID:        j.ID,
		TenantID:     j.TenantID,
		JobType:      j.Type,
		Queue:        j.Queue,
		Priority:     j.Priority,
		Payload:      j.Payload,
		Reason:       reason,
		FinalError:   finalError,
		AttemptsMade: j.Attempt,
		MaxAttempts:  j.MaxAttempts,
		Snapshot:     snapshot,
		MovedAt:      now,
		CreatedAt:    now,
	}

	if err := s.store.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Warn("job moved to dead letter queue",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.String("reason", reason),
		slog.Int("attempts_made", j.Attempt),
	)

	return entry, nil
}

// Get retrieves a single entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetEntry(ctx, entryID)
}

// List returns up to limit entries for one tenant, oldest first.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	return s.store.ListEntries(ctx, ListOpts{TenantID: tenantID, Limit: limit})
}

// Count returns the number of entries for one tenant.
func (s *Service) Count(ctx context.Context, tenantID string) (int64, error) {
	return s.store.CountEntries(ctx, tenantID)
}

// Retry re-enqueues a dead letter entry as a brand-new pending job with
// a fresh ID, a reset attempt counter, and the original type, payload,
// queue, and priority, then removes the entry. It is an explicit
// operator- or policy-triggered action; the engine never replays the
// DLQ on its own.
func (s *Service) Retry(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	snap, err := decodeSnapshot(entry.Snapshot)
	if err != nil {
		return nil, err
	}

	now := s.now()
	j := &job.Job{
		Entity:            leaseq.NewEntityAt(now),
		ID:                id.NewJobID(),
		TenantID:          snap.TenantID,
		Type:              snap.Type,
		Queue:             snap.Queue,
		Priority:          snap.Priority,
		Payload:           snap.Payload,
		EventID:           snap.EventID,
		CorrelationID:     snap.CorrelationID,
		Status:            job.StatusPending,
		ScheduledAt:       now,
		Attempt:           0,
		MaxAttempts:       snap.MaxAttempts,
		VisibilityTimeout: snap.VisibilityTimeout,
		Timeout:           snap.Timeout,
		Version:           1,
		// The idempotency key is deliberately not carried over: the
		// replay is a new logical enqueue, not a duplicate of the
		// original.
	}

	if err := s.jobs.SaveJob(ctx, j); err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteEntry(ctx, entryID); err != nil {
		// The job is already enqueued; surface the entry so operators
		// can remove it manually rather than failing the replay.
		s.logger.Error("replayed job enqueued but dead letter entry not removed",
			slog.String("entry_id", entryID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return j, err
	}

	s.logger.Info("dead letter entry replayed",
		slog.String("entry_id", entryID.String()),
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)

	return j, nil
}

// Clear bulk-removes all entries for one tenant and returns how many
// were removed. Operator-driven cleanup, never called by the core loop.
func (s *Service) Clear(ctx context.Context, tenantID string) (int, error) {
	removed := 0
	for {
		entries, err := s.store.ListEntries(ctx, ListOpts{TenantID: tenantID, Limit: clearBatchSize})
		if err != nil {
			return removed, err
		}
		if len(entries) == 0 {
			return removed, nil
		}

		for _, entry := range entries {
			ok, err := s.store.DeleteEntry(ctx, entry.ID)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}

		if len(entries) < clearBatchSize {
			return removed, nil
		}
	}
}
