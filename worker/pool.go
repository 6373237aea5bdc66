package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leaseq/leaseq"
	"github.com/leaseq/leaseq/id"
	"github.com/leaseq/leaseq/job"
	"github.com/leaseq/leaseq/queue"
)

// Limiter throttles dispatch per queue and per tenant. The pool calls
// Acquire before executing a fetched job and Release after execution
// completes. Implemented by ratelimit.Manager.
type Limiter interface {
	// Acquire reports whether a job from the queue/tenant combination
	// may run now.
	Acquire(queue job.Queue, tenantID string) bool
	// Release returns the slot held by a previous successful Acquire.
	Release(queue job.Queue, tenantID string)
}

// Pool manages a set of concurrent worker goroutines that fetch leased
// jobs and execute them through the Executor. A heartbeat loop extends
// the lease of every active job, and a recovery loop reclaims leases
// abandoned by crashed workers.
type Pool struct {
	queue        *queue.Queue
	executor     *Executor
	concurrency  int
	queues       []job.Queue
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	recoveryInterval  time.Duration

	limiter Limiter

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will fetch from.
func WithPoolQueues(queues []job.Queue) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker waits before fetching
// again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool extends the leases of
// active jobs. A zero value disables heartbeats; leases then last only
// one visibility timeout.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithRecoveryInterval sets how often the pool scans for expired leases
// left behind by crashed workers. A zero value disables the scan.
func WithRecoveryInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.recoveryInterval = d }
}

// WithLimiter sets the rate limiting and concurrency manager.
func WithLimiter(l Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	cfg := q.Config()

	p := &Pool{
		queue:             q,
		executor:          executor,
		concurrency:       cfg.Concurrency,
		queues:            job.Queues(),
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		recoveryInterval:  cfg.RecoveryInterval,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]context.CancelFunc),
	}
	if len(cfg.Queues) > 0 {
		queues := make([]job.Queue, 0, len(cfg.Queues))
		for _, name := range cfg.Queues {
			queues = append(queues, job.Queue(name))
		}
		p.queues = queues
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.fetchLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.recoveryInterval > 0 {
		p.wg.Add(1)
		go p.recoveryLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out; their leases expire and another worker picks them up.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// fetchLoop is run by each worker goroutine. It cycles through the
// configured queues in order, so higher-stakes queues listed first get
// first claim on idle workers.
func (p *Pool) fetchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		fetched := false
		for _, q := range p.queues {
			j, err := p.queue.Fetch(context.Background(), q, p.workerID)
			if err != nil {
				p.logger.Error("fetch error",
					slog.String("queue", string(q)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if j == nil {
				continue
			}

			fetched = true
			p.runJob(j)
			break
		}

		if !fetched {
			p.sleep()
		}
	}
}

// runJob executes one fetched job, honoring the limiter.
func (p *Pool) runJob(j *job.Job) {
	if p.limiter != nil && !p.limiter.Acquire(j.Queue, j.TenantID) {
		// Over the rate or concurrency limit. Give the lease back with
		// a small delay so the job does not bounce straight back here.
		if _, err := p.queue.ReleaseLease(context.Background(), j.ID, p.workerID, p.pollInterval); err != nil {
			p.logger.Error("failed to release rate-limited job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)

	if err := p.executor.Process(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()

	if p.limiter != nil {
		p.limiter.Release(j.Queue, j.TenantID)
	}
}

// heartbeatLoop periodically extends the leases of all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.extendLeases()
		}
	}
}

// extendLeases renews the lease of every active job. A rejected
// extension means the job was cancelled or its lease was reclaimed, so
// the running handler's context is cancelled to stop wasted work.
func (p *Pool) extendLeases() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}

		_, err := p.queue.ExtendLease(context.Background(), parsedID, p.workerID)
		if err == nil {
			continue
		}
		if errors.Is(err, leaseq.ErrInvalidTransition) || errors.Is(err, leaseq.ErrJobNotFound) {
			p.logger.Info("lease lost, cancelling local execution",
				slog.String("job_id", jobIDStr),
			)
			p.cancelJob(jobIDStr)
			continue
		}
		p.logger.Warn("heartbeat failed",
			slog.String("job_id", jobIDStr),
			slog.String("error", err.Error()),
		)
	}
}

// recoveryLoop periodically reclaims expired leases across all queues.
func (p *Pool) recoveryLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.recoverStaleJobs()
		}
	}
}

func (p *Pool) recoverStaleJobs() {
	for _, q := range p.queues {
		reclaimed, err := p.queue.RecoverStaleJobs(context.Background(), q)
		if err != nil {
			p.logger.Error("stale job recovery error",
				slog.String("queue", string(q)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if reclaimed > 0 {
			p.logger.Info("recovered stale jobs",
				slog.String("queue", string(q)),
				slog.Int("count", reclaimed),
			)
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelJob(jobID string) {
	p.activeMu.Lock()
	cancel, ok := p.activeJobs[jobID]
	p.activeMu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
