package job

import "time"

// Options configures per-job behavior at enqueue time. Zero values fall
// back to the facade's configured defaults.
type Options struct {
	// Priority determines lease ordering. Lower values are leased first.
	Priority Priority

	// ScheduledAt delays the job until a specific time. Zero means
	// immediately eligible.
	ScheduledAt time.Time

	// Delay delays the job relative to enqueue time. Ignored when
	// ScheduledAt is set; resolved by the facade, which owns the clock.
	Delay time.Duration

	// MaxAttempts is the attempt budget before the job moves to the
	// dead letter queue.
	MaxAttempts int

	// Timeout is the handler execution ceiling.
	Timeout time.Duration

	// VisibilityTimeout is the lease duration granted on fetch.
	VisibilityTimeout time.Duration

	// IdempotencyKey deduplicates logically identical enqueues.
	IdempotencyKey string

	// EventID names the originating cause.
	EventID string

	// CorrelationID propagates across a causal chain of jobs. Generated
	// when empty.
	CorrelationID string
}

// Option is a functional option for configuring a job at enqueue time.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p }
}

// WithScheduledAt delays the job until a specific time.
func WithScheduledAt(t time.Time) Option {
	return func(o *Options) { o.ScheduledAt = t }
}

// WithDelay delays the job by a duration relative to enqueue time.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout sets the handler execution ceiling.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithVisibilityTimeout sets the lease duration granted on fetch.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *Options) { o.VisibilityTimeout = d }
}

// WithIdempotencyKey sets the producer-side deduplication token.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) { o.IdempotencyKey = key }
}

// WithEventID records the originating event.
func WithEventID(eventID string) Option {
	return func(o *Options) { o.EventID = eventID }
}

// WithCorrelationID propagates an existing correlation chain.
func WithCorrelationID(correlationID string) Option {
	return func(o *Options) { o.CorrelationID = correlationID }
}
