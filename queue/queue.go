package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/backoff"
	"github.com/leaseq/leaseq/dlq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
	"github.com/leaseq/leaseq/lease"
	"github.com/leaseq/leaseq/scope"
	"github.com/leaseq/leaseq/store"
)

// Queue is the public facade over the job store, the lease manager, the
// retry policy, and the dead letter queue. It is passive: external
// workers drive it by calling Fetch, Complete, and Fail.
type Queue struct {
	cfg     leaseq.Config
	store   store.Store
	leases  *lease.Manager
	dlq     *dlq.Service
	backoff backoff.Strategy
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithConfig replaces the default configuration.
func WithConfig(cfg leaseq.Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithBackoff replaces the retry delay strategy derived from the
// configuration.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.backoff = s }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue facade over the given store.
func New(st store.Store, opts ...Option) *Queue {
	q := &Queue{
		cfg:    leaseq.DefaultConfig(),
		store:  st,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.backoff == nil {
		q.backoff = backoff.NewExponentialWithFactor(
			q.cfg.BaseRetryDelay, q.cfg.MaxRetryDelay, q.cfg.BackoffMultiplier)
	}
	q.leases = lease.New(st,
		lease.WithLogger(q.logger),
		lease.WithClock(q.now),
		lease.WithBatchSize(q.cfg.FetchBatchSize),
		lease.WithConflictRetries(q.cfg.ConflictRetries),
		lease.WithRecoveryPolicy(q.cfg.RecoveryPolicy),
	)
	q.dlq = dlq.NewService(st, st,
		dlq.WithLogger(q.logger),
		dlq.WithClock(q.now),
	)
	return q
}

// DLQ returns the dead letter service for listing, replay, and purging.
func (q *Queue) DLQ() *dlq.Service { return q.dlq }

// Config returns the active configuration.
func (q *Queue) Config() leaseq.Config { return q.cfg }

// Enqueue validates, constructs, and persists a new pending job. The
// correlation ID is taken from the options, then the caller's context
// scope, and generated when absent.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, queue job.Queue, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("%w: job type must not be empty", leaseq.ErrValidation)
	}
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: unknown queue %q", leaseq.ErrValidation, queue)
	}

	options := job.Options{
		Priority:          job.PriorityNormal,
		MaxAttempts:       q.cfg.DefaultMaxAttempts,
		Timeout:           q.cfg.DefaultTimeout,
		VisibilityTimeout: q.cfg.VisibilityTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if !options.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %d", leaseq.ErrValidation, options.Priority)
	}
	if options.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be >= 1", leaseq.ErrValidation)
	}

	now := q.now()
	scheduledAt := options.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
		if options.Delay > 0 {
			scheduledAt = now.Add(options.Delay)
		}
	}

	correlationID := options.CorrelationID
	if correlationID == "" {
		if fromScope, ok := scope.CorrelationFrom(ctx); ok {
			correlationID = fromScope
		} else {
			correlationID = id.NewCorrelationID().String()
		}
	}

	j := &job.Job{
		Entity:            leaseq.NewEntityAt(now),
		ID:                id.NewJobID(),
		TenantID:          tenantID,
		Type:              jobType,
		Queue:             queue,
		Priority:          options.Priority,
		Payload:           payload,
		EventID:           options.EventID,
		CorrelationID:     correlationID,
		Status:            job.StatusPending,
		ScheduledAt:       scheduledAt,
		MaxAttempts:       options.MaxAttempts,
		VisibilityTimeout: options.VisibilityTimeout,
		Timeout:           options.Timeout,
		IdempotencyKey:    options.IdempotencyKey,
		Version:           1,
	}

	if err := q.store.SaveJob(ctx, j); err != nil {
		return nil, err
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", jobType),
		slog.String("queue", string(queue)),
		slog.String("tenant_id", tenantID),
		slog.String("priority", j.Priority.String()),
	)
	return j, nil
}

// EnqueueGate enqueues a governance gate evaluation: gate queue,
// critical priority, five-minute execution ceiling.
func (q *Queue) EnqueueGate(ctx context.Context, tenantID, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	base := []job.Option{
		job.WithPriority(job.PriorityCritical),
		job.WithTimeout(5 * time.Minute),
	}
	return q.Enqueue(ctx, tenantID, job.QueueGate, jobType, payload, append(base, opts...)...)
}

// EnqueueReport enqueues a report build: report queue, normal priority,
// thirty-minute execution ceiling.
func (q *Queue) EnqueueReport(ctx context.Context, tenantID, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	base := []job.Option{
		job.WithPriority(job.PriorityNormal),
		job.WithTimeout(30 * time.Minute),
	}
	return q.Enqueue(ctx, tenantID, job.QueueReport, jobType, payload, append(base, opts...)...)
}

// Get retrieves a job by ID.
func (q *Queue) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// Fetch leases the best eligible pending job in the queue to workerID.
// Returns (nil, nil) when no job is eligible — absence is not an error.
func (q *Queue) Fetch(ctx context.Context, queue job.Queue, workerID id.WorkerID) (*job.Job, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: unknown queue %q", leaseq.ErrValidation, queue)
	}
	return q.leases.Acquire(ctx, queue, workerID)
}

// Complete marks a processing job as successfully finished and stores
// the handler result. Valid only from processing.
func (q *Queue) Complete(ctx context.Context, jobID id.JobID, result []byte) (*job.Job, error) {
	return q.mutate(ctx, jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return fmt.Errorf("%w: complete requires processing, job %s is %s",
				leaseq.ErrInvalidTransition, j.ID, j.Status)
		}
		if err := j.Transition(job.StatusCompleted); err != nil {
			return err
		}
		now := q.now()
		j.CompletedAt = &now
		j.Result = result
		j.ClearLease()
		return nil
	})
}

// Fail records a failed attempt on a processing job. The attempt
// counter is incremented; if the budget is exhausted the job is marked
// dead and quarantined in the dead letter queue, otherwise it is
// rescheduled as pending with a capped exponential backoff delay.
func (q *Queue) Fail(ctx context.Context, jobID id.JobID, errMsg string) (*job.Job, error) {
	var deadJob *job.Job

	j, err := q.mutate(ctx, jobID, func(j *job.Job) error {
		deadJob = nil
		if j.Status != job.StatusProcessing {
			return fmt.Errorf("%w: fail requires processing, job %s is %s",
				leaseq.ErrInvalidTransition, j.ID, j.Status)
		}

		j.Attempt++
		j.LastError = errMsg

		if j.Attempt >= j.MaxAttempts {
			if err := j.Transition(job.StatusDead); err != nil {
				return err
			}
			now := q.now()
			j.CompletedAt = &now
			j.NextRetryAt = nil
			j.ClearLease()
			deadJob = j
			return nil
		}

		delay := q.backoff.Delay(j.Attempt)
		retryAt := q.now().Add(delay)
		if err := j.Transition(job.StatusPending); err != nil {
			return err
		}
		j.NextRetryAt = &retryAt
		j.ScheduledAt = retryAt
		j.StartedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deadJob != nil {
		if _, dlqErr := q.dlq.Add(ctx, j, dlq.ReasonMaxAttempts, errMsg); dlqErr != nil {
			// The job record is already dead and auditable; the missing
			// entry is recoverable by operators.
			q.logger.Error("dead job not quarantined",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	} else {
		q.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempt),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Time("next_retry_at", *j.NextRetryAt),
		)
	}
	return j, nil
}

// Cancel marks a pending or processing job as cancelled. Best-effort
// against processing jobs: the handler already running is not
// interrupted, but its terminal Complete/Fail call will be rejected.
func (q *Queue) Cancel(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	return q.mutate(ctx, jobID, func(j *job.Job) error {
		if err := j.Transition(job.StatusCancelled); err != nil {
			return err
		}
		now := q.now()
		j.CompletedAt = &now
		j.CancelReason = reason
		j.ClearLease()
		return nil
	})
}

// ReleaseLease returns a leased job to pending without recording a
// failed attempt, optionally delaying its next eligibility. Used by
// worker pools that fetched a job they cannot run right now (rate
// limits, shutdown).
func (q *Queue) ReleaseLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) (*job.Job, error) {
	return q.mutate(ctx, jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing || j.WorkerID.String() != workerID.String() {
			return fmt.Errorf("%w: release requires an owned processing job, job %s is %s",
				leaseq.ErrInvalidTransition, j.ID, j.Status)
		}
		if err := j.Transition(job.StatusPending); err != nil {
			return err
		}
		j.StartedAt = nil
		if delay > 0 {
			j.ScheduledAt = q.now().Add(delay)
		}
		return nil
	})
}

// ExtendLease renews the lease of a processing job for its current
// holder. Workers heartbeat through this while a long handler runs.
func (q *Queue) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	return q.leases.Extend(ctx, jobID, workerID)
}

// RecoverStaleJobs resets processing jobs in the queue whose lease
// deadline has passed back to pending and returns how many were
// reclaimed. Jobs that exhaust their budget under the charge_attempt
// recovery policy are quarantined instead.
func (q *Queue) RecoverStaleJobs(ctx context.Context, queue job.Queue) (int, error) {
	if !queue.Valid() {
		return 0, fmt.Errorf("%w: unknown queue %q", leaseq.ErrValidation, queue)
	}

	reclaimed, dead, err := q.leases.ReclaimExpired(ctx, queue)
	for _, j := range dead {
		if _, dlqErr := q.dlq.Add(ctx, j, dlq.ReasonMaxAttempts, j.LastError); dlqErr != nil {
			q.logger.Error("dead job not quarantined",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}
	return reclaimed, err
}

// mutate runs a read-modify-write cycle on one job, retrying a bounded
// number of times when the conditional update loses a version race.
// fn sees a fresh copy on each round.
func (q *Queue) mutate(ctx context.Context, jobID id.JobID, fn func(*job.Job) error) (*job.Job, error) {
	for round := 0; ; round++ {
		j, err := q.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := fn(j); err != nil {
			return nil, err
		}

		err = q.store.UpdateJob(ctx, j)
		if err == nil {
			return j, nil
		}
		if !errors.Is(err, leaseq.ErrLeaseConflict) || round >= q.cfg.ConflictRetries {
			return nil, err
		}
	}
}
