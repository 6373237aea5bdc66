// Package memory provides a fully in-memory implementation of
// store.Store. Safe for concurrent access; the version check inside
// UpdateJob runs under the store lock, so the compare-and-swap is a
// true one. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/dlq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// Compile-time interface checks. The composite store.Store cannot be
// asserted here (import cycle), so each subsystem is verified.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	entries map[string]*dlq.Entry

	// idem maps tenant-scoped idempotency keys to job IDs.
	idem map[string]string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		entries: make(map[string]*dlq.Entry),
		idem:    make(map[string]string),
	}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func idemKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob persists a new job.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return leaseq.ErrJobExists
	}
	if j.IdempotencyKey != "" {
		ik := idemKey(j.TenantID, j.IdempotencyKey)
		if _, exists := m.idem[ik]; exists {
			return leaseq.ErrDuplicateJob
		}
		m.idem[ik] = key
	}

	if j.Version == 0 {
		j.Version = 1
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, leaseq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job when the stored version
// matches the one the caller read. On success the version is bumped and
// reflected into j.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cur, ok := m.jobs[key]
	if !ok {
		return leaseq.ErrJobNotFound
	}
	if cur.Version != j.Version {
		return leaseq.ErrLeaseConflict
	}

	j.Version++
	j.UpdatedAt = time.Now().UTC()
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return false, nil
	}
	if j.IdempotencyKey != "" {
		delete(m.idem, idemKey(j.TenantID, j.IdempotencyKey))
	}
	delete(m.jobs, key)
	return true, nil
}

// GetPendingJobs returns eligible pending jobs in the queue, ordered by
// priority ascending then eligibility time ascending.
func (m *Store) GetPendingJobs(_ context.Context, queue job.Queue, limit int, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Queue != queue || !j.Eligible(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		// K-sortable IDs break remaining ties deterministically.
		return a.ID.String() < b.ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return copyJobs(candidates), nil
}

// GetExpiredJobs returns processing jobs in the queue whose lease
// deadline has passed.
func (m *Store) GetExpiredJobs(_ context.Context, queue job.Queue, limit int, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expired := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Queue != queue || !j.LeaseExpired(now) {
			continue
		}
		expired = append(expired, j)
	}

	sort.Slice(expired, func(i, k int) bool {
		return expired[i].LockedUntil.Before(*expired[k].LockedUntil)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	return copyJobs(expired), nil
}

// ListJobsByStatus returns one tenant's jobs in the given status.
func (m *Store) ListJobsByStatus(_ context.Context, tenantID string, status job.Status, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.TenantID != tenantID || j.Status != status {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[k].CreatedAt)
		}
		return matched[i].ID.String() < matched[k].ID.String()
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return copyJobs(matched), nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
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

func copyJobs(jobs []*job.Job) []*job.Job {
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		cp := *j
		out[i] = &cp
	}
	return out
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// SaveEntry persists a dead letter entry.
func (m *Store) SaveEntry(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.ID.String()] = &cp
	return nil
}

// GetEntry retrieves a dead letter entry by ID.
func (m *Store) GetEntry(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, leaseq.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEntries returns entries matching the given options, oldest first.
func (m *Store) ListEntries(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*dlq.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].MovedAt.Equal(matched[k].MovedAt) {
			return matched[i].MovedAt.Before(matched[k].MovedAt)
		}
		return matched[i].ID.String() < matched[k].ID.String()
	})

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*dlq.Entry, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// DeleteEntry removes a dead letter entry by ID.
func (m *Store) DeleteEntry(_ context.Context, entryID id.DLQID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// CountEntries returns the number of entries for one tenant.
func (m *Store) CountEntries(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.entries {
		if e.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}
