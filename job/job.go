package job

import (
	"fmt"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be leased by a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker holds a lease and is executing the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the last attempt failed; the job is between a
	// failure and its retry or terminal decision.
	StatusFailed Status = "failed"
	// StatusDead means the job exhausted its attempt budget and was
	// quarantined in the dead letter queue.
	StatusDead Status = "dead"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDead, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority determines lease ordering within a queue. Lower values are
// leased first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
	PriorityBulk     Priority = 4
)

// Valid reports whether p is one of the recognized priorities.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBulk
}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBulk:
		return "bulk"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority resolves a priority name to its value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "bulk":
		return PriorityBulk, nil
	default:
		return 0, fmt.Errorf("%w: unknown priority %q", leaseq.ErrValidation, s)
	}
}

// Queue is one of the fixed set of named queues.
type Queue string

const (
	QueueGate         Queue = "gate"
	QueueReport       Queue = "report"
	QueueIntegration  Queue = "integration"
	QueueNotification Queue = "notification"
)

// Queues returns all recognized queues.
func Queues() []Queue {
	return []Queue{QueueGate, QueueReport, QueueIntegration, QueueNotification}
}

// Valid reports whether q is one of the recognized queues.
func (q Queue) Valid() bool {
	switch q {
	case QueueGate, QueueReport, QueueIntegration, QueueNotification:
		return true
	default:
		return false
	}
}

// Job represents one unit of work and its mutable lifecycle state.
type Job struct {
	leaseq.Entity

	ID       id.JobID `json:"id"`
	TenantID string   `json:"tenant_id"`
	Type     string   `json:"type"`
	Queue    Queue    `json:"queue"`
	Priority Priority `json:"priority"`
	Payload  []byte   `json:"payload,omitempty"`

	// Tracing. EventID names the originating cause; CorrelationID is
	// propagated across a causal chain of jobs.
	EventID       string `json:"event_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	Status Status `json:"status"`

	// ScheduledAt is the earliest time the job may be leased.
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Retry bookkeeping.
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Lease bookkeeping. A non-nil WorkerID implies LockedUntil in the
	// future; both are cleared whenever the job re-enters pending.
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	LockedUntil       *time.Time    `json:"locked_until,omitempty"`
	WorkerID          id.WorkerID   `json:"worker_id,omitempty"`

	// Timeout is the hard ceiling on handler execution wall time.
	Timeout time.Duration `json:"timeout,omitempty"`

	// IdempotencyKey deduplicates logically identical enqueues per
	// tenant. Uniqueness is enforced by the store.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Result       []byte `json:"result,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	// Version is the optimistic concurrency token. Every store update
	// is conditional on the version the caller read.
	Version int64 `json:"version"`
}

// Eligible reports whether the job may be leased at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledAt.After(now)
}

// LeaseExpired reports whether the job holds a lease whose deadline has
// passed.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == StatusProcessing && j.LockedUntil != nil && j.LockedUntil.Before(now)
}

// ClearLease removes the lease fields. Called on every re-entry into
// pending and on terminal transitions out of processing.
func (j *Job) ClearLease() {
	j.WorkerID = id.Nil
	j.LockedUntil = nil
}
