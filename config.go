package leaseq

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// RecoveryPolicy controls whether reclaiming an expired lease consumes
// one of the job's attempts.
type RecoveryPolicy string

const (
	// RecoveryPreserveAttempt resets a stale job to pending without
	// touching its attempt counter. Crashes are treated as
	// infrastructure faults, not job faults.
	RecoveryPreserveAttempt RecoveryPolicy = "preserve_attempt"

	// RecoveryChargeAttempt counts a reclaimed lease as a failed
	// attempt. Jobs that exhaust their budget through crashes reach the
	// dead letter queue the same way explicit failures do.
	RecoveryChargeAttempt RecoveryPolicy = "charge_attempt"
)

// Config holds the tunables of the queue facade and the optional worker
// pool. Every value has a default; per-job enqueue options override the
// retry and timeout defaults.
type Config struct {
	// DefaultMaxAttempts is the attempt budget for jobs enqueued without
	// an explicit override.
	DefaultMaxAttempts int `env:"LEASEQ_DEFAULT_MAX_ATTEMPTS"`

	// BaseRetryDelay is the delay before the first retry.
	BaseRetryDelay time.Duration `env:"LEASEQ_BASE_RETRY_DELAY"`

	// BackoffMultiplier scales the delay on each subsequent retry.
	BackoffMultiplier float64 `env:"LEASEQ_BACKOFF_MULTIPLIER"`

	// MaxRetryDelay caps the computed retry delay.
	MaxRetryDelay time.Duration `env:"LEASEQ_MAX_RETRY_DELAY"`

	// VisibilityTimeout is the default lease duration granted on fetch.
	VisibilityTimeout time.Duration `env:"LEASEQ_VISIBILITY_TIMEOUT"`

	// DefaultTimeout is the default handler execution ceiling.
	DefaultTimeout time.Duration `env:"LEASEQ_DEFAULT_TIMEOUT"`

	// FetchBatchSize is how many pending candidates the lease manager
	// reads per acquisition round.
	FetchBatchSize int `env:"LEASEQ_FETCH_BATCH_SIZE"`

	// ConflictRetries bounds how many acquisition rounds the lease
	// manager runs when every candidate is lost to a concurrent worker.
	ConflictRetries int `env:"LEASEQ_CONFLICT_RETRIES"`

	// RecoveryPolicy governs attempt accounting when expired leases are
	// reclaimed.
	RecoveryPolicy RecoveryPolicy `env:"LEASEQ_RECOVERY_POLICY"`

	// Concurrency is the number of worker goroutines in the pool.
	Concurrency int `env:"LEASEQ_CONCURRENCY"`

	// Queues is the list of queue names the pool polls. Empty means all
	// recognized queues.
	Queues []string `env:"LEASEQ_QUEUES"`

	// PollInterval is how long a pool worker sleeps when no job is
	// eligible.
	PollInterval time.Duration `env:"LEASEQ_POLL_INTERVAL"`

	// HeartbeatInterval is how often the pool extends the leases of
	// in-flight jobs.
	HeartbeatInterval time.Duration `env:"LEASEQ_HEARTBEAT_INTERVAL"`

	// RecoveryInterval is how often the pool scans for expired leases.
	RecoveryInterval time.Duration `env:"LEASEQ_RECOVERY_INTERVAL"`

	// ShutdownTimeout is the maximum time Stop waits for a graceful
	// drain before cancelling active jobs.
	ShutdownTimeout time.Duration `env:"LEASEQ_SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a Config with the stock defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxAttempts: 3,
		BaseRetryDelay:     30 * time.Second,
		BackoffMultiplier:  2.0,
		MaxRetryDelay:      time.Hour,
		VisibilityTimeout:  5 * time.Minute,
		DefaultTimeout:     10 * time.Minute,
		FetchBatchSize:     10,
		ConflictRetries:    4,
		RecoveryPolicy:     RecoveryPreserveAttempt,
		Concurrency:        10,
		PollInterval:       time.Second,
		HeartbeatInterval:  10 * time.Second,
		RecoveryInterval:   30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by LEASEQ_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("leaseq: parse config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first configuration value that is out of range.
func (c Config) Validate() error {
	switch {
	case c.DefaultMaxAttempts < 1:
		return fmt.Errorf("%w: default max attempts must be >= 1", ErrValidation)
	case c.BaseRetryDelay <= 0:
		return fmt.Errorf("%w: base retry delay must be positive", ErrValidation)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff multiplier must be >= 1", ErrValidation)
	case c.MaxRetryDelay < c.BaseRetryDelay:
		return fmt.Errorf("%w: max retry delay must be >= base retry delay", ErrValidation)
	case c.VisibilityTimeout <= 0:
		return fmt.Errorf("%w: visibility timeout must be positive", ErrValidation)
	case c.DefaultTimeout <= 0:
		return fmt.Errorf("%w: default timeout must be positive", ErrValidation)
	case c.FetchBatchSize < 1:
		return fmt.Errorf("%w: fetch batch size must be >= 1", ErrValidation)
	case c.ConflictRetries < 0:
		return fmt.Errorf("%w: conflict retries must be >= 0", ErrValidation)
	}

	switch c.RecoveryPolicy {
	case RecoveryPreserveAttempt, RecoveryChargeAttempt:
	default:
		return fmt.Errorf("%w: unknown recovery policy %q", ErrValidation, c.RecoveryPolicy)
	}

	return nil
}
