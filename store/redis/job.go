package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// saveJobScript inserts a job atomically: it rejects duplicate IDs,
// claims the tenant's idempotency key, writes the Hash, and indexes the
// job for leasing when it starts out pending.
//
// KEYS: 1 job hash, 2 pending zset, 3 job ids set, 4 tenant idem hash
// ARGV: 1 job id, 2 idempotency key ("" when unset), 3 status,
//
//	4 pending score, 5.. field/value pairs
var saveJobScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
if ARGV[2] ~= '' then
  if redis.call('HEXISTS', KEYS[4], ARGV[2]) == 1 then return -2 end
  redis.call('HSET', KEYS[4], ARGV[2], ARGV[1])
end
for i = 5, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('SADD', KEYS[3], ARGV[1])
if ARGV[3] == 'pending' then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
end
return 1
`)

// updateJobScript is a version compare-and-set: the write only lands
// when the stored version still matches the one the caller read. It
// also moves the job between the queue indexes to match its new status.
//
// KEYS: 1 job hash, 2 pending zset, 3 processing zset
// ARGV: 1 job id, 2 expected version, 3 new status,
//
//	4 pending score, 5 processing score, 6.. field/value pairs
var updateJobScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then return -1 end
if cur ~= ARGV[2] then return -2 end
for i = 6, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[3] == 'pending' then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
elseif ARGV[3] == 'processing' then
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
end
return 1
`)

// leaseJobScript claims the best eligible pending job. Members sort by
// priority then eligibility time, but a high-priority job scheduled in
// the future must not block an eligible lower-priority one, so the
// script walks candidates in score order and takes the first whose
// scheduled time (score mod 1e13) has passed.
//
// KEYS: 1 pending zset, 2 processing zset
// ARGV: 1 now unix ms, 2 job key prefix, 3 worker id, 4 now RFC3339Nano
var leaseJobScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local candidates = redis.call('ZRANGE', KEYS[1], 0, 127, 'WITHSCORES')
for i = 1, #candidates, 2 do
  local jid = candidates[i]
  local sched = tonumber(candidates[i+1]) % 1e13
  if sched <= now then
    local key = ARGV[2] .. jid
    local vt = tonumber(redis.call('HGET', key, 'visibility_timeout')) or 0
    local deadline = now + math.floor(vt / 1000000)
    local version = tonumber(redis.call('HGET', key, 'version')) or 0
    redis.call('HSET', key,
      'status', 'processing',
      'worker_id', ARGV[3],
      'started_at', ARGV[4],
      'locked_until_ms', tostring(deadline),
      'updated_at', ARGV[4],
      'version', tostring(version + 1))
    redis.call('ZREM', KEYS[1], jid)
    redis.call('ZADD', KEYS[2], deadline, jid)
    return jid
  end
end
return false
`)

// SaveJob persists a new job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	if j.Version == 0 {
		j.Version = 1
	}
	jID := j.ID.String()

	keys := []string{jobKey(jID), pendingKey(string(j.Queue)), jobIDsKey, idemKey(j.TenantID)}
	args := []interface{}{jID, j.IdempotencyKey, string(j.Status), jobScore(j.Priority, j.ScheduledAt)}
	args = append(args, flattenFields(jobToMap(j))...)

	res, err := saveJobScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("leaseq/redis: save job: %w", err)
	}
	switch res {
	case -1:
		return leaseq.ErrJobExists
	case -2:
		return leaseq.ErrDuplicateJob
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job when the stored version
// matches the one the caller read. On success the version is bumped and
// reflected into j; a version mismatch returns leaseq.ErrLeaseConflict.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	next := *j
	next.Version = j.Version + 1
	next.UpdatedAt = time.Now().UTC()

	var processingScore float64
	if next.LockedUntil != nil {
		processingScore = float64(next.LockedUntil.UnixMilli())
	}

	keys := []string{jobKey(jID), pendingKey(string(next.Queue)), processingKey(string(next.Queue))}
	args := []interface{}{
		jID,
		strconv.FormatInt(j.Version, 10),
		string(next.Status),
		jobScore(next.Priority, next.ScheduledAt),
		processingScore,
	}
	args = append(args, flattenFields(jobToMap(&next))...)

	res, err := updateJobScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("leaseq/redis: update job: %w", err)
	}
	switch res {
	case -1:
		return leaseq.ErrJobNotFound
	case -2:
		return leaseq.ErrLeaseConflict
	}

	j.Version++
	return nil
}

// DeleteJob removes a job by ID. Returns false when no job existed.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) (bool, error) {
	jID := jobID.String()
	key := jobKey(jID)

	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("leaseq/redis: delete job lookup: %w", err)
	}
	if len(vals) == 0 {
		return false, nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, pendingKey(vals["queue"]), jID)
	pipe.ZRem(ctx, processingKey(vals["queue"]), jID)
	if ik := vals["idempotency_key"]; ik != "" {
		pipe.HDel(ctx, idemKey(vals["tenant_id"]), ik)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("leaseq/redis: delete job: %w", err)
	}
	return true, nil
}

// LeaseJob atomically claims the best eligible pending job in the queue
// for workerID. The whole claim is a single Lua script, so concurrent
// workers can never lease the same job. Returns (nil, nil) when no job
// is eligible.
func (s *Store) LeaseJob(ctx context.Context, queue job.Queue, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	keys := []string{pendingKey(string(queue)), processingKey(string(queue))}
	args := []interface{}{
		now.UnixMilli(),
		jobKeyPrefix,
		workerID.String(),
		now.UTC().Format(time.RFC3339Nano),
	}

	jID, err := leaseJobScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("leaseq/redis: lease job: %w", err)
	}

	return s.getJobByKey(ctx, jobKey(jID))
}

// GetPendingJobs returns eligible pending jobs in the queue, ordered by
// priority ascending then eligibility time ascending.
func (s *Store) GetPendingJobs(ctx context.Context, queue job.Queue, limit int, now time.Time) ([]*job.Job, error) {
	members, err := s.client.ZRangeWithScores(ctx, pendingKey(string(queue)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: get pending jobs: %w", err)
	}

	nowMs := float64(now.UnixMilli())
	var jobs []*job.Job
	for _, z := range members {
		if len(jobs) >= limit {
			break
		}
		sched := z.Score - float64(int64(z.Score/1e13))*1e13
		if sched > nowMs {
			continue
		}
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // claimed or deleted since the range
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetExpiredJobs returns processing jobs in the queue whose lease
// deadline has passed, oldest deadline first.
func (s *Store) GetExpiredJobs(ctx context.Context, queue job.Queue, limit int, now time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, processingKey(string(queue)), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: get expired jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ListJobsByStatus returns one tenant's jobs in the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, tenantID string, status job.Status, limit int) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: list jobs smembers: %w", err)
	}

	var jobs []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.TenantID != tenantID || j.Status != status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})

	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("leaseq/redis: count jobs smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.TenantID != opts.TenantID {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// jobScore computes a pending sorted-set score: priority dominates and
// the scheduled time in unix milliseconds breaks ties. 1e13 ms is far
// enough out that the two components never overlap.
func jobScore(priority job.Priority, scheduledAt time.Time) float64 {
	return float64(priority)*1e13 + float64(scheduledAt.UnixMilli())
}

// flattenFields converts a field map into the alternating field/value
// arguments a Lua HSET loop consumes.
func flattenFields(m map[string]string) []interface{} {
	out := make([]interface{}, 0, len(m)*2)
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

// jobToMap writes every field, using "" for absent optionals, so an
// update through HSET clears fields the transition dropped (lease
// bookkeeping in particular).
func jobToMap(j *job.Job) map[string]string {
	m := map[string]string{
		"id":                 j.ID.String(),
		"tenant_id":          j.TenantID,
		"type":               j.Type,
		"queue":              string(j.Queue),
		"priority":           strconv.Itoa(int(j.Priority)),
		"payload":            string(j.Payload),
		"event_id":           j.EventID,
		"correlation_id":     j.CorrelationID,
		"status":             string(j.Status),
		"scheduled_at":       j.ScheduledAt.Format(time.RFC3339Nano),
		"started_at":         "",
		"completed_at":       "",
		"attempt":            strconv.Itoa(j.Attempt),
		"max_attempts":       strconv.Itoa(j.MaxAttempts),
		"next_retry_at":      "",
		"visibility_timeout": strconv.FormatInt(j.VisibilityTimeout.Nanoseconds(), 10),
		"locked_until_ms":    "",
		"worker_id":          j.WorkerID.String(),
		"timeout":            strconv.FormatInt(j.Timeout.Nanoseconds(), 10),
		"idempotency_key":    j.IdempotencyKey,
		"result":             string(j.Result),
		"last_error":         j.LastError,
		"cancel_reason":      j.CancelReason,
		"version":            strconv.FormatInt(j.Version, 10),
		"created_at":         j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":         j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.NextRetryAt != nil {
		m["next_retry_at"] = j.NextRetryAt.Format(time.RFC3339Nano)
	}
	if j.LockedUntil != nil {
		m["locked_until_ms"] = strconv.FormatInt(j.LockedUntil.UnixMilli(), 10)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, leaseq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("leaseq/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                   //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                     //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])            //nolint:errcheck // best-effort parse from trusted Redis data
	visibility, _ := strconv.ParseInt(m["visibility_timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)         //nolint:errcheck // best-effort parse from trusted Redis data
	version, _ := strconv.ParseInt(m["version"], 10, 64)         //nolint:errcheck // best-effort parse from trusted Redis data

	scheduledAt, _ := time.Parse(time.RFC3339Nano, m["scheduled_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: leaseq.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                jID,
		TenantID:          m["tenant_id"],
		Type:              m["type"],
		Queue:             job.Queue(m["queue"]),
		Priority:          job.Priority(priority),
		Payload:           []byte(m["payload"]),
		EventID:           m["event_id"],
		CorrelationID:     m["correlation_id"],
		Status:            job.Status(m["status"]),
		ScheduledAt:       scheduledAt,
		Attempt:           attempt,
		MaxAttempts:       maxAttempts,
		VisibilityTimeout: time.Duration(visibility),
		Timeout:           time.Duration(timeout),
		IdempotencyKey:    m["idempotency_key"],
		LastError:         m["last_error"],
		CancelReason:      m["cancel_reason"],
		Version:           version,
	}

	if v := m["payload"]; v == "" {
		j.Payload = nil
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["next_retry_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.NextRetryAt = &t
	}
	if v := m["locked_until_ms"]; v != "" {
		ms, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		t := time.UnixMilli(ms).UTC()
		j.LockedUntil = &t
	}

	return j, nil
}
