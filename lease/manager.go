// Package lease grants exclusive, time-bounded ownership of jobs to
// workers and reclaims leases whose deadline has passed.
//
// The store's conditional update (compare-and-swap on the job version)
// is the only concurrency arbiter: when two workers race for the same
// job, exactly one write succeeds and the loser moves on to the next
// candidate. Stores that can lease natively (row locks, scripts)
// implement job.Leaser and skip the candidate loop entirely.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// reclaimBatchSize bounds how many expired leases one reclaim round
// reads from the store.
const reclaimBatchSize = 100

// Manager grants and reclaims job leases.
type Manager struct {
	store  job.Store
	logger *slog.Logger
	now    func() time.Time

	batchSize       int
	conflictRetries int
	recoveryPolicy  leaseq.RecoveryPolicy
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBatchSize sets how many pending candidates one acquisition round
// reads.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithConflictRetries bounds how many acquisition rounds run when every
// candidate is lost to a concurrent worker.
func WithConflictRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.conflictRetries = n
		}
	}
}

// WithRecoveryPolicy sets the attempt accounting used when expired
// leases are reclaimed.
func WithRecoveryPolicy(p leaseq.RecoveryPolicy) Option {
	return func(m *Manager) { m.recoveryPolicy = p }
}

// New creates a lease manager over the given job store.
func New(store job.Store, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		batchSize:       10,
		conflictRetries: 4,
		recoveryPolicy:  leaseq.RecoveryPreserveAttempt,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire leases the highest-priority, earliest-eligible pending job in
// the queue to workerID. Returns (nil, nil) when no job is eligible.
//
// When the store implements job.Leaser the claim is a single atomic
// store operation. Otherwise the manager reads a batch of candidates
// and attempts a conditional pending → processing update on each; a
// version conflict means another worker won that job, and the whole
// scan retries a bounded number of times with jitter before giving up
// for this poll. Conflicts never surface to the caller.
func (m *Manager) Acquire(ctx context.Context, queue job.Queue, workerID id.WorkerID) (*job.Job, error) {
	if leaser, ok := m.store.(job.Leaser); ok {
		return leaser.LeaseJob(ctx, queue, workerID, m.now())
	}

	for round := 0; ; round++ {
		now := m.now()
		candidates, err := m.store.GetPendingJobs(ctx, queue, m.batchSize, now)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		conflicted := false
		for _, candidate := range candidates {
			leased, err := m.tryLease(ctx, candidate, workerID, now)
			if err != nil {
				if errors.Is(err, leaseq.ErrLeaseConflict) {
					conflicted = true
					continue
				}
				return nil, err
			}
			return leased, nil
		}

		if !conflicted || round >= m.conflictRetries {
			return nil, nil
		}
		if err := sleepJitter(ctx, round); err != nil {
			return nil, err
		}
	}
}

// tryLease attempts the conditional pending → processing update for one
// candidate.
func (m *Manager) tryLease(ctx context.Context, j *job.Job, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	if !j.Eligible(now) {
		return nil, leaseq.ErrLeaseConflict
	}

	if err := j.Transition(job.StatusProcessing); err != nil {
		return nil, err
	}
	started := now
	lockedUntil := now.Add(j.VisibilityTimeout)
	j.WorkerID = workerID
	j.StartedAt = &started
	j.LockedUntil = &lockedUntil

	if err := m.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	m.logger.Debug("lease granted",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", string(j.Queue)),
		slog.String("worker_id", workerID.String()),
		slog.Time("locked_until", lockedUntil),
	)
	return j, nil
}

// Extend renews the lease of a processing job for its current holder,
// pushing LockedUntil forward by the job's visibility timeout. Returns
// leaseq.ErrInvalidTransition when the job is no longer processing or
// is held by a different worker.
func (m *Manager) Extend(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	for round := 0; ; round++ {
		j, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.Status != job.StatusProcessing || j.WorkerID.String() != workerID.String() {
			return nil, leaseq.ErrInvalidTransition
		}

		lockedUntil := m.now().Add(j.VisibilityTimeout)
		j.LockedUntil = &lockedUntil

		err = m.store.UpdateJob(ctx, j)
		if err == nil {
			return j, nil
		}
		if !errors.Is(err, leaseq.ErrLeaseConflict) || round >= m.conflictRetries {
			return nil, err
		}
		if err := sleepJitter(ctx, round); err != nil {
			return nil, err
		}
	}
}

// ReclaimExpired scans processing jobs in the queue whose lease deadline
// has passed and resets them to pending so another worker can pick them
// up. Under the preserve_attempt policy the attempt counter is left
// untouched; under charge_attempt the reclaim counts as a failed
// attempt, and jobs that exhaust their budget are marked dead and
// returned in the second value so the caller can quarantine them.
// Records that changed underfoot are skipped.
func (m *Manager) ReclaimExpired(ctx context.Context, queue job.Queue) (int, []*job.Job, error) {
	reclaimed := 0
	var dead []*job.Job

	for {
		now := m.now()
		expired, err := m.store.GetExpiredJobs(ctx, queue, reclaimBatchSize, now)
		if err != nil {
			return reclaimed, dead, err
		}
		if len(expired) == 0 {
			return reclaimed, dead, nil
		}

		progressed := false
		for _, j := range expired {
			charged := m.recoveryPolicy == leaseq.RecoveryChargeAttempt
			if charged {
				j.Attempt++
			}

			if charged && j.Attempt >= j.MaxAttempts {
				j.LastError = "lease expired: worker presumed crashed"
				if err := j.Transition(job.StatusDead); err != nil {
					continue
				}
				j.ClearLease()
				if err := m.store.UpdateJob(ctx, j); err != nil {
					if errors.Is(err, leaseq.ErrLeaseConflict) {
						continue
					}
					return reclaimed, dead, err
				}
				progressed = true
				dead = append(dead, j)
				continue
			}

			if err := j.Transition(job.StatusPending); err != nil {
				continue
			}
			j.StartedAt = nil
			if err := m.store.UpdateJob(ctx, j); err != nil {
				if errors.Is(err, leaseq.ErrLeaseConflict) {
					continue
				}
				return reclaimed, dead, err
			}
			progressed = true
			reclaimed++

			m.logger.Info("stale lease reclaimed",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", string(queue)),
				slog.Int("attempt", j.Attempt),
			)
		}

		// Every record in the batch was lost to concurrent writers;
		// the next scan would spin on the same snapshot.
		if !progressed {
			return reclaimed, dead, nil
		}
		if len(expired) < reclaimBatchSize {
			return reclaimed, dead, nil
		}
	}
}

// sleepJitter waits a small randomized interval between acquisition
// rounds so competing workers spread out.
func sleepJitter(ctx context.Context, round int) error {
	base := time.Duration(1<<uint(round)) * 5 * time.Millisecond //nolint:gosec // round is small
	wait := base/2 + time.Duration(rand.Int64N(int64(base)))     //nolint:gosec // jitter needs no crypto rand

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
