package dlq

import (
	"time"

	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// Reason constants recorded on dead letter entries.
const (
	// ReasonMaxAttempts marks a job that exhausted its attempt budget
	// through handler failures.
	ReasonMaxAttempts = "max_attempts_exceeded"
)

// Entry represents a job that has been quarantined in the dead letter
// queue. It owns a full snapshot of the job at the moment it died, so
// replay works even after the live record is archived or deleted.
type Entry struct {
	ID       id.DLQID `json:"id"`
	JobID    id.JobID `json:"job_id"`
	TenantID string   `json:"tenant_id"`

	// Denormalized job identity, kept queryable without decoding the
	// snapshot.
	JobType  string       `json:"job_type"`
	Queue    job.Queue    `json:"queue"`
	Priority job.Priority `json:"priority"`
	Payload  []byte       `json:"payload,omitempty"`

	Reason       string `json:"reason"`
	FinalError   string `json:"final_error"`
	AttemptsMade int    `json:"attempts_made"`
	MaxAttempts  int    `json:"max_attempts"`

	// Snapshot is the msgpack-encoded job record at quarantine time.
	Snapshot []byte `json:"snapshot,omitempty"`

	MovedAt   time.Time `json:"moved_at"`
	CreatedAt time.Time `json:"created_at"`
}
