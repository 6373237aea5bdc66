package job

import (
	"context"
	"time"

	"github.com/leaseq/leaseq/id"
)

// CountOpts controls filtering for job count queries. TenantID is
// required; Queue and Status are optional.
type CountOpts struct {
	// TenantID scopes the count to one tenant.
	TenantID string
	// Queue filters by queue. Empty means all queues.
	Queue Queue
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs.
//
// UpdateJob must be conditional on Job.Version: implementations compare
// the stored version with the one the caller read, and return
// leaseq.ErrLeaseConflict on mismatch. This compare-and-swap is the only
// concurrency arbiter in the system.
type Store interface {
	// SaveJob persists a new job. Returns leaseq.ErrJobExists if the ID
	// is already present and leaseq.ErrDuplicateJob if the job carries
	// an idempotency key already used by the same tenant.
	SaveJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns leaseq.ErrJobNotFound when
	// absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job if and only if the
	// stored version matches j.Version. On success the store increments
	// the version and reflects it into j. Returns
	// leaseq.ErrLeaseConflict when the job changed underfoot.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID. Reports whether a record was
	// removed.
	DeleteJob(ctx context.Context, jobID id.JobID) (bool, error)

	// GetPendingJobs returns up to limit pending jobs in the given queue
	// whose ScheduledAt is not after now, ordered by priority ascending
	// then eligibility time ascending.
	GetPendingJobs(ctx context.Context, queue Queue, limit int, now time.Time) ([]*Job, error)

	// GetExpiredJobs returns up to limit processing jobs in the given
	// queue whose LockedUntil has passed.
	GetExpiredJobs(ctx context.Context, queue Queue, limit int, now time.Time) ([]*Job, error)

	// ListJobsByStatus returns up to limit jobs of one tenant in the
	// given status, ordered by creation time.
	ListJobsByStatus(ctx context.Context, tenantID string, status Status, limit int) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}

// Leaser is an optional store capability: a single atomic operation that
// selects the best eligible pending job in a queue and transitions it to
// processing under a lease. Stores with a native conditional primitive
// (row locks, Lua scripts) implement it; the lease manager falls back to
// a GetPendingJobs + UpdateJob compare-and-swap loop otherwise.
type Leaser interface {
	// LeaseJob claims the highest-priority, earliest-eligible pending
	// job in the queue for workerID, setting StartedAt = now and
	// LockedUntil = now + VisibilityTimeout. Returns (nil, nil) when no
	// job is eligible.
	LeaseJob(ctx context.Context, queue Queue, workerID id.WorkerID, now time.Time) (*Job, error)
}
