package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/dlq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

const dlqColumns = `
	id, job_id, tenant_id, job_type, queue, priority, payload,
	reason, final_error, attempts_made, max_attempts, snapshot,
	moved_at, created_at`

// SaveEntry persists a dead letter entry.
func (s *Store) SaveEntry(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaseq_dlq (
			id, job_id, tenant_id, job_type, queue, priority, payload,
			reason, final_error, attempts_made, max_attempts, snapshot,
			moved_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID, entry.JobID, entry.TenantID, entry.JobType,
		string(entry.Queue), int(entry.Priority), entry.Payload,
		entry.Reason, entry.FinalError, entry.AttemptsMade, entry.MaxAttempts,
		entry.Snapshot, entry.MovedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("leaseq/postgres: save dlq entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a dead letter entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM leaseq_dlq WHERE id = $1`,
		entryID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, leaseq.ErrEntryNotFound
		}
		return nil, fmt.Errorf("leaseq/postgres: get dlq entry: %w", err)
	}
	return e, nil
}

// ListEntries returns entries matching the given options, oldest first.
func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM leaseq_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}

	query += " ORDER BY moved_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leaseq/postgres: list dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("leaseq/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("leaseq/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes a dead letter entry by ID. Returns false when no
// entry existed.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.DLQID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leaseq_dlq WHERE id = $1`, entryID)
	if err != nil {
		return false, fmt.Errorf("leaseq/postgres: delete dlq entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountEntries returns the number of entries for one tenant.
func (s *Store) CountEntries(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leaseq_dlq WHERE tenant_id = $1`,
		tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("leaseq/postgres: count dlq entries: %w", err)
	}
	return count, nil
}

// scanEntry scans a single dead letter entry row.
func scanEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e           dlq.Entry
		queueStr    string
		priorityInt int
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.TenantID, &e.JobType, &queueStr, &priorityInt, &e.Payload,
		&e.Reason, &e.FinalError, &e.AttemptsMade, &e.MaxAttempts, &e.Snapshot,
		&e.MovedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Queue = job.Queue(queueStr)
	e.Priority = job.Priority(priorityInt)

	return &e, nil
}
