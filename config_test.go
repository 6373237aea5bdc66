package leaseq_test

import (
	"errors"
	"testing"
	"time"

	"github.com/leaseq/leaseq"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := leaseq.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.DefaultMaxAttempts != 3 {
		t.Fatalf("default max attempts = %d, want 3", cfg.DefaultMaxAttempts)
	}
	if cfg.RecoveryPolicy != leaseq.RecoveryPreserveAttempt {
		t.Fatalf("recovery policy = %s, want preserve_attempt", cfg.RecoveryPolicy)
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("LEASEQ_DEFAULT_MAX_ATTEMPTS", "5")
	t.Setenv("LEASEQ_BASE_RETRY_DELAY", "10s")
	t.Setenv("LEASEQ_BACKOFF_MULTIPLIER", "3.5")
	t.Setenv("LEASEQ_RECOVERY_POLICY", "charge_attempt")
	t.Setenv("LEASEQ_QUEUES", "gate,report")

	cfg, err := leaseq.ConfigFromEnv()
	if err != nil {
		t.Fatalf("config from env: %v", err)
	}

	if cfg.DefaultMaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.DefaultMaxAttempts)
	}
	if cfg.BaseRetryDelay != 10*time.Second {
		t.Fatalf("base retry delay = %v, want 10s", cfg.BaseRetryDelay)
	}
	if cfg.BackoffMultiplier != 3.5 {
		t.Fatalf("backoff multiplier = %v, want 3.5", cfg.BackoffMultiplier)
	}
	if cfg.RecoveryPolicy != leaseq.RecoveryChargeAttempt {
		t.Fatalf("recovery policy = %s, want charge_attempt", cfg.RecoveryPolicy)
	}
	if len(cfg.Queues) != 2 || cfg.Queues[0] != "gate" || cfg.Queues[1] != "report" {
		t.Fatalf("queues = %v, want [gate report]", cfg.Queues)
	}

	// Untouched values keep their defaults.
	if cfg.VisibilityTimeout != 5*time.Minute {
		t.Fatalf("visibility timeout = %v, want 5m", cfg.VisibilityTimeout)
	}
}

func TestConfigFromEnv_InvalidValueRejected(t *testing.T) {
	t.Setenv("LEASEQ_DEFAULT_MAX_ATTEMPTS", "0")

	if _, err := leaseq.ConfigFromEnv(); !errors.Is(err, leaseq.ErrValidation) {
		t.Fatalf("expected ErrValidation, got: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*leaseq.Config)
	}{
		{"zero max attempts", func(c *leaseq.Config) { c.DefaultMaxAttempts = 0 }},
		{"zero base retry delay", func(c *leaseq.Config) { c.BaseRetryDelay = 0 }},
		{"multiplier below one", func(c *leaseq.Config) { c.BackoffMultiplier = 0.5 }},
		{"max delay below base", func(c *leaseq.Config) { c.MaxRetryDelay = time.Second }},
		{"zero visibility timeout", func(c *leaseq.Config) { c.VisibilityTimeout = 0 }},
		{"zero default timeout", func(c *leaseq.Config) { c.DefaultTimeout = 0 }},
		{"zero fetch batch size", func(c *leaseq.Config) { c.FetchBatchSize = 0 }},
		{"negative conflict retries", func(c *leaseq.Config) { c.ConflictRetries = -1 }},
		{"unknown recovery policy", func(c *leaseq.Config) { c.RecoveryPolicy = "drop_silently" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := leaseq.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, leaseq.ErrValidation) {
				t.Fatalf("expected ErrValidation, got: %v", err)
			}
		})
	}
}
