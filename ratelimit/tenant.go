package ratelimit

import (
	"golang.org/x/time/rate"

	"github.com/leaseq/leaseq/job"
)

// TenantLimit defines throughput constraints for one tenant on one
// queue. Tenant limits stack on top of the queue limit: both must admit
// the job.
type TenantLimit struct {
	// Queue the limit applies to.
	Queue job.Queue

	// TenantID identifies the tenant.
	TenantID string

	// PerSecond is the sustained dispatch rate for this tenant on this
	// queue. Zero disables rate limiting.
	PerSecond float64

	// Burst is the token-bucket burst size.
	Burst int

	// MaxConcurrency caps simultaneous jobs for this tenant on this
	// queue. Zero means no tenant-specific cap.
	MaxConcurrency int
}

type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func tenantKey(queue job.Queue, tenantID string) string {
	return string(queue) + ":" + tenantID
}

// SetTenantLimit configures limits for one tenant on one queue. Calling
// it again for the same pair replaces the previous limit; the active
// count carries over.
func (m *Manager) SetTenantLimit(limit TenantLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(limit.Queue, limit.TenantID)

	ts := &tenantState{maxConcurrency: limit.MaxConcurrency}
	if limit.PerSecond > 0 {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
	}

	if existing := m.tenants[key]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// TenantActiveCount returns the number of jobs currently holding a slot
// for the tenant on the queue.
func (m *Manager) TenantActiveCount(queue job.Queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil {
		return ts.active
	}
	return 0
}
