package leaseq

import "github.com/leaseq/leaseq/id"

// ID is the primary identifier type for all leaseq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
