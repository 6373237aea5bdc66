// Package leaseq provides a priority job queue with lease-based crash
// recovery and dead-letter escalation.
//
// leaseq is a library, not a service. Producers enqueue jobs into a
// small fixed set of named queues; workers fetch them one at a time
// under a time-bounded exclusive lease, run a registered handler under
// a deadline, and report the outcome. Failed jobs retry with capped
// exponential backoff until their attempt budget is exhausted, at
// which point they are quarantined in a dead letter queue that
// supports explicit operator-driven replay.
//
// # Quick Start
//
//	st := memory.New()
//	q := queue.New(st, queue.WithLogger(logger))
//
//	reg := job.NewRegistry()
//	job.RegisterDefinition(reg, job.NewDefinition("send-report",
//	    func(ctx context.Context, p ReportArgs) (any, error) {
//	        return buildReport(ctx, p)
//	    }))
//
//	exec := worker.NewExecutor(q, reg, logger,
//	    middleware.Recover(logger), middleware.Logging(logger))
//	pool := worker.NewPool(q, exec, logger)
//	pool.Start(ctx)
//	defer pool.Stop(ctx)
//
// # Architecture
//
// Each subsystem (job, dlq) defines its own store interface and a
// single backend implements all of them: an in-memory reference store
// for tests, Postgres (pgx) and Redis (go-redis) for production. The
// store's conditional update is the only concurrency arbiter; the
// lease manager resolves contention with bounded, jittered retries.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package leaseq
