// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and reports the outcome
// to the queue, and a Pool that manages concurrent worker goroutines
// fetching leased jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/job"
	"github.com/leaseq/leaseq/middleware"
	"github.com/leaseq/leaseq/queue"
)

// Executor runs a single leased job through middleware and the
// registered handler, then reports success or failure to the queue.
// Retry accounting, backoff, and dead letter escalation all live in the
// queue facade; the executor only executes and reports.
type Executor struct {
	queue    *queue.Queue
	registry *job.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(q *queue.Queue, registry *job.Registry, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		queue:    q,
		registry: registry,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

type execResult struct {
	result []byte
	err    error
}

// Process runs a leased job through the middleware chain and handler.
// On success the job is completed with the handler result; on handler
// error or timeout a failed attempt is recorded. A job with no
// registered handler fails immediately without invoking middleware.
//
// The job's Timeout is a hard ceiling: when it elapses the attempt is
// recorded as failed even if the handler ignores its cancelled context.
func (e *Executor) Process(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		msg := fmt.Sprintf("no handler registered for job type %q", j.Type)
		if err := e.fail(ctx, j, msg); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", leaseq.ErrNoHandler, j.Type)
	}

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j)
	}

	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	// The chain runs in its own goroutine so a handler that ignores its
	// cancelled context cannot stall the worker past the deadline. The
	// abandoned goroutine finishes on its own; its result is discarded.
	resCh := make(chan execResult, 1)
	go func() {
		result, err := e.mw(runCtx, j, terminal)
		resCh <- execResult{result: result, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return e.fail(ctx, j, res.err.Error())
		}
		return e.complete(ctx, j, res.result)
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// Pool shutdown, not a handler timeout. Leave the lease in
			// place; the recovery scan will hand the job to another
			// worker once it expires.
			e.logger.Warn("job abandoned during shutdown",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
			)
			return ctx.Err()
		}
		msg := fmt.Sprintf("job timed out after %s", j.Timeout)
		return e.fail(ctx, j, msg)
	}
}

// complete reports success to the queue. A job cancelled mid-flight
// rejects the transition; that outcome is logged and swallowed.
func (e *Executor) complete(ctx context.Context, j *job.Job, result []byte) error {
	_, err := e.queue.Complete(context.WithoutCancel(ctx), j.ID, result)
	if err == nil {
		return nil
	}
	if errors.Is(err, leaseq.ErrInvalidTransition) {
		e.logger.Debug("completion discarded, job no longer processing",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return nil
	}
	e.logger.Error("failed to complete job",
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
	return err
}

// fail reports a failed attempt to the queue, which decides between
// retry and dead letter escalation.
func (e *Executor) fail(ctx context.Context, j *job.Job, msg string) error {
	_, err := e.queue.Fail(context.WithoutCancel(ctx), j.ID, msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, leaseq.ErrInvalidTransition) {
		e.logger.Debug("failure discarded, job no longer processing",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return nil
	}
	e.logger.Error("failed to record job failure",
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
	return err
}
