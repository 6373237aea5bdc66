// Package scope carries tenant identity and correlation chains through
// context.Context.
//
// Producers attach their tenant before enqueueing follow-up work; the
// middleware package restores a job's TenantID/CorrelationID into the
// handler context so handlers see the same scope as the original caller.
package scope

import "context"

type ctxKey int

const (
	tenantKey ctxKey = iota
	correlationKey
)

// WithTenant attaches a tenant identifier to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFrom extracts the tenant identifier from the context.
func TenantFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey).(string)
	return t, ok
}

// WithCorrelation attaches a correlation identifier to the context.
func WithCorrelation(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, correlationID)
}

// CorrelationFrom extracts the correlation identifier from the context.
func CorrelationFrom(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(correlationKey).(string)
	return c, ok
}

// Capture extracts the tenant and correlation identifiers from the
// context. Returns empty strings for whatever is absent.
func Capture(ctx context.Context) (tenantID, correlationID string) {
	tenantID, _ = TenantFrom(ctx)
	correlationID, _ = CorrelationFrom(ctx)
	return tenantID, correlationID
}

// Restore attaches the given tenant and correlation identifiers to the
// context. Empty values are skipped.
func Restore(ctx context.Context, tenantID, correlationID string) context.Context {
	ctx = WithTenant(ctx, tenantID)
	return WithCorrelation(ctx, correlationID)
}
