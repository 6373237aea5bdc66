package queue

import (
	"context"

	"github.com/leaseq/leaseq/job"
)

// QueueStats is a point-in-time gauge of one queue's backlog for one
// tenant.
type QueueStats struct {
	Queue      job.Queue `json:"queue"`
	Pending    int64     `json:"pending"`
	Processing int64     `json:"processing"`
}

// Stats is a point-in-time snapshot of one tenant's backlog across all
// queues, plus the dead letter count. Counts from different queues are
// read separately, so the snapshot is approximate under concurrent
// writes.
type Stats struct {
	TenantID   string       `json:"tenant_id"`
	Queues     []QueueStats `json:"queues"`
	DeadLetter int64        `json:"dead_letter"`
}

// Stats reports pending and processing depths per queue for one tenant,
// plus the tenant's dead letter count.
func (q *Queue) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{TenantID: tenantID}

	for _, qu := range job.Queues() {
		pending, err := q.store.CountJobs(ctx, job.CountOpts{
			TenantID: tenantID,
			Queue:    qu,
			Status:   job.StatusPending,
		})
		if err != nil {
			return nil, err
		}
		processing, err := q.store.CountJobs(ctx, job.CountOpts{
			TenantID: tenantID,
			Queue:    qu,
			Status:   job.StatusProcessing,
		})
		if err != nil {
			return nil, err
		}
		stats.Queues = append(stats.Queues, QueueStats{
			Queue:      qu,
			Pending:    pending,
			Processing: processing,
		})
	}

	dead, err := q.dlq.Count(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	stats.DeadLetter = dead

	return stats, nil
}
