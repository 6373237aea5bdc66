package leaseq

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("leaseq: no store configured")
	ErrStoreClosed = errors.New("leaseq: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("leaseq: job not found")
	ErrEntryNotFound = errors.New("leaseq: dead letter entry not found")

	// ErrJobExists reports an insert with an ID already present in the
	// store.
	ErrJobExists = errors.New("leaseq: job already exists")

	// Validation errors.
	ErrValidation   = errors.New("leaseq: validation failed")
	ErrDuplicateJob = errors.New("leaseq: duplicate idempotency key")

	// State errors.
	ErrInvalidTransition = errors.New("leaseq: invalid state transition")

	// ErrLeaseConflict reports that a conditional update lost an
	// optimistic concurrency race. It is transient and internal: the
	// lease manager and the facade resolve it by re-reading, so it is
	// never returned to callers of the public API.
	ErrLeaseConflict = errors.New("leaseq: lease conflict")

	// ErrNoHandler reports that no handler is registered for a job type.
	ErrNoHandler = errors.New("leaseq: no handler registered")
)
