// Package dlq provides the dead letter queue for jobs that exhausted
// their retry budget. It supports inspection, explicit replay, and
// tenant-scoped purging.
//
// When a job fails and its attempt budget is spent, the queue facade
// calls [Service.Add] to quarantine it. The entry carries the original
// payload, the final error, the attempt counts, and a full msgpack
// snapshot of the job record, so replay works independently of the live
// job table.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / JobType / Queue / Priority: original job identity
//   - TenantID: every listing and purge is scoped by it
//   - Reason: why the job was quarantined (e.g. "max_attempts_exceeded")
//   - FinalError: the last handler error message
//   - AttemptsMade / MaxAttempts: the exhausted budget
//   - Snapshot: the full job record at quarantine time
//
// # Replay
//
// [Service.Retry] builds a brand-new pending job from the snapshot —
// fresh ID, attempt counter reset to zero — enqueues it, and removes the
// entry. Replay is always explicit: an operator or an external policy
// triggers it, never the engine itself.
package dlq
