package dlq

import (
	"context"

	"github.com/leaseq/leaseq/id"
)

// ListOpts controls filtering for DLQ list queries.
type ListOpts struct {
	// TenantID scopes the listing to one tenant. Empty means all
	// tenants (operator tooling only).
	TenantID string
	// Limit is the maximum number of entries to return. Zero means no
	// limit.
	Limit int
}

// Store defines the persistence contract for the dead letter queue.
// Entries live independently of the job records they snapshot.
type Store interface {
	// SaveEntry persists a dead letter entry.
	SaveEntry(ctx context.Context, entry *Entry) error

	// GetEntry retrieves an entry by ID. Returns leaseq.ErrEntryNotFound
	// when absent.
	GetEntry(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListEntries returns entries matching the given options, ordered by
	// MovedAt ascending.
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// DeleteEntry removes an entry by ID. Reports whether a record was
	// removed.
	DeleteEntry(ctx context.Context, entryID id.DLQID) (bool, error)

	// CountEntries returns the number of entries for one tenant.
	CountEntries(ctx context.Context, tenantID string) (int64, error)
}
