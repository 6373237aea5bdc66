// Package ratelimit throttles job dispatch per queue and per tenant
// with token-bucket rate limits and concurrency caps. Worker pools call
// Acquire before running a fetched job and Release when it finishes; a
// denied Acquire means the job goes back to the queue for a later slot.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/leaseq/leaseq/job"
)

// QueueLimit defines throughput constraints for one queue.
type QueueLimit struct {
	// Queue the limit applies to.
	Queue job.Queue

	// MaxConcurrency caps how many jobs from this queue may run
	// simultaneously in the local pool. Zero means no queue-specific
	// cap (pool-wide concurrency still applies).
	MaxConcurrency int

	// PerSecond is the sustained dispatch rate for the queue. Zero
	// disables rate limiting.
	PerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// PerSecond is set and Burst is zero.
	Burst int
}

type queueState struct {
	limit   QueueLimit
	limiter *rate.Limiter
	active  int
}

func newQueueState(limit QueueLimit) *queueState {
	qs := &queueState{limit: limit}
	if limit.PerSecond > 0 {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
	}
	return qs
}

// Manager enforces queue and tenant limits. Safe for concurrent use.
// Queues and tenants with no configured limit are unrestricted.
type Manager struct {
	mu      sync.Mutex
	queues  map[job.Queue]*queueState
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given queue limits.
func NewManager(limits ...QueueLimit) *Manager {
	m := &Manager{
		queues:  make(map[job.Queue]*queueState, len(limits)),
		tenants: make(map[string]*tenantState),
	}
	for _, limit := range limits {
		m.queues[limit.Queue] = newQueueState(limit)
	}
	return m
}

// Acquire reports whether a job from the queue and tenant may run now.
// On true the active counters are incremented and the caller must call
// Release when the job finishes. On false nothing is held.
func (m *Manager) Acquire(queue job.Queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil {
		if qs.limiter != nil && !qs.limiter.Allow() {
			return false
		}
		if qs.limit.MaxConcurrency > 0 && qs.active >= qs.limit.MaxConcurrency {
			return false
		}
	}

	if tenantID != "" {
		ts := m.tenants[tenantKey(queue, tenantID)]
		if ts != nil {
			if ts.limiter != nil && !ts.limiter.Allow() {
				return false
			}
			if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
				return false
			}
			ts.active++
		}
	}

	if qs != nil {
		qs.active++
	}
	return true
}

// Release returns the slot held by a previous successful Acquire.
func (m *Manager) Release(queue job.Queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if tenantID != "" {
		if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// SetQueueLimit updates (or creates) the limit for a queue at runtime.
// The active count carries over when reconfiguring.
func (m *Manager) SetQueueLimit(limit QueueLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(limit)
	if existing := m.queues[limit.Queue]; existing != nil {
		qs.active = existing.active
	}
	m.queues[limit.Queue] = qs
}

// ActiveCount returns the number of jobs currently holding a slot on the
// queue.
func (m *Manager) ActiveCount(queue job.Queue) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
