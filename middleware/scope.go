package middleware

import (
	"context"

	"github.com/leaseq/leaseq/job"
	"github.com/leaseq/leaseq/scope"
)

// Scope returns middleware that restores the tenant and correlation IDs
// from the job record into the context, so handlers see the same scope
// as the original enqueue caller.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		ctx = scope.Restore(ctx, j.TenantID, j.CorrelationID)
		return next(ctx)
	}
}
