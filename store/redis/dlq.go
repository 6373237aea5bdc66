package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/dlq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// SaveEntry persists a dead letter entry.
func (s *Store) SaveEntry(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), entryToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	pipe.ZAdd(ctx, dlqTenantKey(entry.TenantID), goredis.Z{
		Score:  float64(entry.MovedAt.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaseq/redis: save dlq entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a dead letter entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getEntryByKey(ctx, dlqKey(entryID.String()))
}

// ListEntries returns entries matching the given options, oldest first.
func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var ids []string
	var err error

	if opts.TenantID != "" {
		stop := int64(-1)
		if opts.Limit > 0 {
			stop = int64(opts.Limit) - 1
		}
		// The tenant index is already ordered by moved_at.
		ids, err = s.client.ZRange(ctx, dlqTenantKey(opts.TenantID), 0, stop).Result()
	} else {
		ids, err = s.client.SMembers(ctx, dlqIDsKey).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: list dlq entries: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		entries = append(entries, e)
	}

	if opts.TenantID == "" {
		sort.Slice(entries, func(i, k int) bool {
			if !entries[i].MovedAt.Equal(entries[k].MovedAt) {
				return entries[i].MovedAt.Before(entries[k].MovedAt)
			}
			return entries[i].ID.String() < entries[k].ID.String()
		})
		if opts.Limit > 0 && opts.Limit < len(entries) {
			entries = entries[:opts.Limit]
		}
	}
	return entries, nil
}

// DeleteEntry removes a dead letter entry by ID. Returns false when no
// entry existed.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.DLQID) (bool, error) {
	eID := entryID.String()
	key := dlqKey(eID)

	tenantID, err := s.client.HGet(ctx, key, "tenant_id").Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("leaseq/redis: delete dlq entry lookup: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, dlqIDsKey, eID)
	pipe.ZRem(ctx, dlqTenantKey(tenantID), eID)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("leaseq/redis: delete dlq entry: %w", err)
	}
	return true, nil
}

// CountEntries returns the number of entries for one tenant.
func (s *Store) CountEntries(ctx context.Context, tenantID string) (int64, error) {
	count, err := s.client.ZCard(ctx, dlqTenantKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("leaseq/redis: count dlq entries: %w", err)
	}
	return count, nil
}

// ── helpers ──

func entryToMap(e *dlq.Entry) map[string]string {
	return map[string]string{
		"id":            e.ID.String(),
		"job_id":        e.JobID.String(),
		"tenant_id":     e.TenantID,
		"job_type":      e.JobType,
		"queue":         string(e.Queue),
		"priority":      strconv.Itoa(int(e.Priority)),
		"payload":       string(e.Payload),
		"reason":        e.Reason,
		"final_error":   e.FinalError,
		"attempts_made": strconv.Itoa(e.AttemptsMade),
		"max_attempts":  strconv.Itoa(e.MaxAttempts),
		"snapshot":      string(e.Snapshot),
		"moved_at":      e.MovedAt.Format(time.RFC3339Nano),
		"created_at":    e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getEntryByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: get dlq entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, leaseq.ErrEntryNotFound
	}
	return mapToEntry(vals)
}

func mapToEntry(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: parse dlq id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: parse dlq job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"])  //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	movedAt, _ := time.Parse(time.RFC3339Nano, m["moved_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:           eID,
		JobID:        jID,
		TenantID:     m["tenant_id"],
		JobType:      m["job_type"],
		Queue:        job.Queue(m["queue"]),
		Priority:     job.Priority(priority),
		Reason:       m["reason"],
		FinalError:   m["final_error"],
		AttemptsMade: attemptsMade,
		MaxAttempts:  maxAttempts,
		MovedAt:      movedAt,
		CreatedAt:    createdAt,
	}
	if v := m["payload"]; v != "" {
		e.Payload = []byte(v)
	}
	if v := m["snapshot"]; v != "" {
		e.Snapshot = []byte(v)
	}
	return e, nil
}
