package service

import "context"

// CtxKey is a typed context key for request-scoped values.
type CtxKey string

const tenantKey CtxKey = "tenant"

// WithTenant returns a context carrying the tenant identifier, used by the
// HTTP layer to thread the authenticated tenant down to Chat/ChatStream.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFromContext recovers the tenant set by WithTenant, defaulting to
// "default" for single-tenant deployments that never call it.
func TenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		return v
	}
	return "default"
}
