package dlq

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
)

// jobSnapshot is the msgpack wire form of a job record. IDs and enums
// are flattened to strings so the encoding stays stable across internal
// type changes.
type jobSnapshot struct {
	ID                string     `msgpack:"id"`
	TenantID          string     `msgpack:"tenant_id"`
	Type              string     `msgpack:"type"`
	Queue             string     `msgpack:"queue"`
	Priority          int        `msgpack:"priority"`
	Payload           []byte     `msgpack:"payload"`
	EventID           string     `msgpack:"event_id,omitempty"`
	CorrelationID     string     `msgpack:"correlation_id,omitempty"`
	Status            string     `msgpack:"status"`
	ScheduledAt       time.Time  `msgpack:"scheduled_at"`
	StartedAt         *time.Time `msgpack:"started_at,omitempty"`
	CompletedAt       *time.Time `msgpack:"completed_at,omitempty"`
	Attempt           int        `msgpack:"attempt"`
	MaxAttempts       int        `msgpack:"max_attempts"`
	VisibilityTimeout int64      `msgpack:"visibility_timeout"`
	Timeout           int64      `msgpack:"timeout"`
	LastError         string     `msgpack:"last_error,omitempty"`
	CreatedAt         time.Time  `msgpack:"created_at"`
	UpdatedAt         time.Time  `msgpack:"updated_at"`
}

// encodeSnapshot serializes the job for storage on a dead letter entry.
func encodeSnapshot(j *job.Job) ([]byte, error) {
	snap := jobSnapshot{
		ID:                j.ID.String(),
		TenantID:          j.TenantID,
		Type:              j.Type,
		Queue:             string(j.Queue),
		Priority:          int(j.Priority),
		Payload:           j.Payload,
		EventID:           j.EventID,
		CorrelationID:     j.CorrelationID,
		Status:            string(j.Status),
		ScheduledAt:       j.ScheduledAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
		Attempt:           j.Attempt,
		MaxAttempts:       j.MaxAttempts,
		VisibilityTimeout: int64(j.VisibilityTimeout),
		Timeout:           int64(j.Timeout),
		LastError:         j.LastError,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("dlq: encode job snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot reconstructs the quarantined job record.
func decodeSnapshot(data []byte) (*job.Job, error) {
	var snap jobSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("dlq: decode job snapshot: %w", err)
	}

	jobID, err := id.ParseJobID(snap.ID)
	if err != nil {
		return nil, fmt.Errorf("dlq: decode job snapshot: %w", err)
	}

	return &job.Job{
		Entity: leaseq.Entity{
			CreatedAt: snap.CreatedAt,
			UpdatedAt: snap.UpdatedAt,
		},
		ID:                jobID,
		TenantID:          snap.TenantID,
		Type:              snap.Type,
		Queue:             job.Queue(snap.Queue),
		Priority:          job.Priority(snap.Priority),
		Payload:           snap.Payload,
		EventID:           snap.EventID,
		CorrelationID:     snap.CorrelationID,
		Status:            job.Status(snap.Status),
		ScheduledAt:       snap.ScheduledAt,
		StartedAt:         snap.StartedAt,
		CompletedAt:       snap.CompletedAt,
		Attempt:           snap.Attempt,
		MaxAttempts:       snap.MaxAttempts,
		VisibilityTimeout: time.Duration(snap.VisibilityTimeout),
		Timeout:           time.Duration(snap.Timeout),
		LastError:         snap.LastError,
	}, nil
}
