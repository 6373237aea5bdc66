package redis

// Redis key naming conventions for leaseq data.
// All keys are prefixed with "leaseq:" to avoid collisions.

const keyPrefix = "leaseq:"

// ── Job keys ──

// jobKeyPrefix is prepended to a job ID to form its Hash key.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: leaseq:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// pendingKey returns the Sorted Set of one queue's pending jobs:
// leaseq:pending:{queue}. Score = priority*1e13 + scheduled_at unix ms,
// so members sort by priority first and eligibility time second.
func pendingKey(queue string) string { return keyPrefix + "pending:" + queue }

// processingKey returns the Sorted Set of one queue's leased jobs:
// leaseq:processing:{queue}. Score = lease deadline in unix ms, so an
// expiry scan is a single ZRANGEBYSCORE.
func processingKey(queue string) string { return keyPrefix + "processing:" + queue }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// idemKey returns the Hash mapping one tenant's idempotency keys to job
// IDs: leaseq:idem:{tenant}
func idemKey(tenantID string) string { return keyPrefix + "idem:" + tenantID }

// ── DLQ keys ──

// dlqKey returns the key for a dead letter entry: leaseq:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all dead letter entry IDs.
const dlqIDsKey = keyPrefix + "dlq_ids"

// dlqTenantKey returns the Sorted Set of one tenant's entry IDs scored
// by moved_at unix ms: leaseq:dlq_tenant:{tenant}
func dlqTenantKey(tenantID string) string { return keyPrefix + "dlq_tenant:" + tenantID }
