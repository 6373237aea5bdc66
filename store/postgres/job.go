package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// jobColumns is the canonical column list shared by every job query.
const jobColumns = `
	id, tenant_id, type, queue, priority, payload, event_id, correlation_id,
	status, scheduled_at, started_at, completed_at,
	attempt, max_attempts, next_retry_at,
	visibility_timeout, locked_until, worker_id, timeout,
	idempotency_key, result, last_error, cancel_reason,
	version, created_at, updated_at`

// SaveJob persists a new job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	if j.Version == 0 {
		j.Version = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaseq_jobs (
			id, tenant_id, type, queue, priority, payload, event_id, correlation_id,
			status, scheduled_at, started_at, completed_at,
			attempt, max_attempts, next_retry_at,
			visibility_timeout, locked_until, worker_id, timeout,
			idempotency_key, result, last_error, cancel_reason,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23,
			$24, $25, $26
		)`,
		j.ID, j.TenantID, j.Type, string(j.Queue), int(j.Priority), j.Payload, j.EventID, j.CorrelationID,
		string(j.Status), j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.Attempt, j.MaxAttempts, j.NextRetryAt,
		j.VisibilityTimeout.Nanoseconds(), j.LockedUntil, j.WorkerID, j.Timeout.Nanoseconds(),
		j.IdempotencyKey, j.Result, j.LastError, j.CancelReason,
		j.Version, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		switch duplicateKeyConstraint(err) {
		case "leaseq_jobs_pkey":
			return leaseq.ErrJobExists
		case "uq_leaseq_jobs_idempotency":
			return leaseq.ErrDuplicateJob
		}
		return fmt.Errorf("leaseq/postgres: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM leaseq_jobs WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, leaseq.ErrJobNotFound
		}
		return nil, fmt.Errorf("leaseq/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job when the stored version
// matches the one the caller read. On success the version is bumped and
// reflected into j; a version mismatch returns leaseq.ErrLeaseConflict.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leaseq_jobs SET
			tenant_id = $3, type = $4, queue = $5, priority = $6,
			payload = $7, event_id = $8, correlation_id = $9,
			status = $10, scheduled_at = $11, started_at = $12, completed_at = $13,
			attempt = $14, max_attempts = $15, next_retry_at = $16,
			visibility_timeout = $17, locked_until = $18, worker_id = $19, timeout = $20,
			idempotency_key = $21, result = $22, last_error = $23, cancel_reason = $24,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		j.ID, j.Version,
		j.TenantID, j.Type, string(j.Queue), int(j.Priority),
		j.Payload, j.EventID, j.CorrelationID,
		string(j.Status), j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.Attempt, j.MaxAttempts, j.NextRetryAt,
		j.VisibilityTimeout.Nanoseconds(), j.LockedUntil, j.WorkerID, j.Timeout.Nanoseconds(),
		j.IdempotencyKey, j.Result, j.LastError, j.CancelReason,
	)
	if err != nil {
		return fmt.Errorf("leaseq/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM leaseq_jobs WHERE id = $1)`, j.ID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("leaseq/postgres: update job: %w", checkErr)
		}
		if !exists {
			return leaseq.ErrJobNotFound
		}
		return leaseq.ErrLeaseConflict
	}

	j.Version++
	return nil
}

// DeleteJob removes a job by ID. Returns false when no job existed.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leaseq_jobs WHERE id = $1`, jobID)
	if err != nil {
		return false, fmt.Errorf("leaseq/postgres: delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LeaseJob atomically claims the best eligible pending job in the queue
// for workerID. FOR UPDATE SKIP LOCKED keeps concurrent workers off the
// same row, so the claim is a single round trip with no retry loop.
// Returns (nil, nil) when no job is eligible.
func (s *Store) LeaseJob(ctx context.Context, queue job.Queue, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT id FROM leaseq_jobs
			WHERE queue = $1
			  AND status = 'pending'
			  AND scheduled_at <= $2
			ORDER BY priority ASC, scheduled_at ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE leaseq_jobs SET
			status = 'processing',
			worker_id = $3,
			started_at = $2,
			locked_until = $2 + make_interval(secs => visibility_timeout / 1e9),
			version = version + 1,
			updated_at = NOW()
		WHERE id IN (SELECT id FROM candidate)
		RETURNING `+jobColumns,
		string(queue), now, workerID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("leaseq/postgres: lease job: %w", err)
	}
	return j, nil
}

// GetPendingJobs returns eligible pending jobs in the queue, ordered by
// priority ascending then eligibility time ascending.
func (s *Store) GetPendingJobs(ctx context.Context, queue job.Queue, limit int, now time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM leaseq_jobs
		WHERE queue = $1
		  AND status = 'pending'
		  AND scheduled_at <= $2
		ORDER BY priority ASC, scheduled_at ASC, created_at ASC, id ASC
		LIMIT $3`,
		string(queue), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("leaseq/postgres: get pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetExpiredJobs returns processing jobs in the queue whose lease
// deadline has passed, oldest deadline first.
func (s *Store) GetExpiredJobs(ctx context.Context, queue job.Queue, limit int, now time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM leaseq_jobs
		WHERE queue = $1
		  AND status = 'processing'
		  AND locked_until IS NOT NULL
		  AND locked_until <= $2
		ORDER BY locked_until ASC
		LIMIT $3`,
		string(queue), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("leaseq/postgres: get expired jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobsByStatus returns one tenant's jobs in the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, tenantID string, status job.Status, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM leaseq_jobs
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`,
		tenantID, string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("leaseq/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM leaseq_jobs WHERE tenant_id = $1`
	args := []interface{}{opts.TenantID}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, string(opts.Queue))
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("leaseq/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j            job.Job
		queueStr     string
		priorityInt  int
		statusStr    string
		visibilityNs int64
		timeoutNs    int64
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Type, &queueStr, &priorityInt, &j.Payload, &j.EventID, &j.CorrelationID,
		&statusStr, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt,
		&j.Attempt, &j.MaxAttempts, &j.NextRetryAt,
		&visibilityNs, &j.LockedUntil, &j.WorkerID, &timeoutNs,
		&j.IdempotencyKey, &j.Result, &j.LastError, &j.CancelReason,
		&j.Version, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Queue = job.Queue(queueStr)
	j.Priority = job.Priority(priorityInt)
	j.Status = job.Status(statusStr)
	j.VisibilityTimeout = time.Duration(visibilityNs)
	j.Timeout = time.Duration(timeoutNs)

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("leaseq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaseq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
