// Package job defines the job entity, its state machine, typed
// definitions, the handler registry, and the store contract.
//
// # Job Entity
//
// A [Job] represents a unit of work. It embeds [leaseq.Entity] for
// timestamps, carries an opaque payload interpreted only by its handler,
// and progresses through a state machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry with backoff)
//	pending → processing → dead (attempt budget exhausted)
//	pending | processing → cancelled
//
// Fields of note:
//   - Queue: one of the fixed named queues (gate, report, integration,
//     notification)
//   - Priority: lower values are leased first (critical < high < normal
//     < low < bulk)
//   - Attempt / MaxAttempts: the retry budget
//   - ScheduledAt / NextRetryAt: earliest time the job may be leased
//   - WorkerID / LockedUntil: the current lease, if any
//   - Version: optimistic concurrency token checked by every update
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendReport = job.NewDefinition("send_report",
//	    func(ctx context.Context, input ReportInput) (any, error) {
//	        return reports.Build(ctx, input)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendReport)
//	job.RegisterDefinition(registry, SyncIntegration)
//
// The worker package executes registered handlers; the queue package
// provides the enqueue/fetch/complete/fail facade.
package job
