package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for admission request IDs.
	RequestIDKey contextKey = "request_id"

	// TenantKey is the context key for the tenant being limited.
	TenantKey contextKey = "tenant"

	// ResourceKey is the context key for the resource being limited.
	ResourceKey contextKey = "resource"

	// TierKey is the context key for the tier being evaluated.
	TierKey contextKey = "tier"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithTenant adds a tenant to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the tenant from the context.
func GetTenant(ctx context.Context) string {
	if tenant, ok := ctx.Value(TenantKey).(string); ok {
		return tenant
	}
	return ""
}

// WithResource adds a resource to the context.
func WithResource(ctx context.Context, resource string) context.Context {
	return context.WithValue(ctx, ResourceKey, resource)
}

// GetResource retrieves the resource from the context.
func GetResource(ctx context.Context) string {
	if resource, ok := ctx.Value(ResourceKey).(string); ok {
		return resource
	}
	return ""
}

// WithTier adds a tier name to the context.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, TierKey, tier)
}

// GetTier retrieves the tier name from the context.
func GetTier(ctx context.Context) string {
	if tier, ok := ctx.Value(TierKey).(string); ok {
		return tier
	}
	return ""
}

// WithAdmission stores the fields of one admission check.
func WithAdmission(ctx context.Context, requestID, tenant, resource string) context.Context {
	if requestID != "" {
		ctx = WithRequestID(ctx, requestID)
	}
	ctx = WithTenant(ctx, tenant)
	return WithResource(ctx, resource)
}

// extractContextFields returns the context fields as key-value pairs.
// The trace and span IDs come from the active span, if any.
func extractContextFields(ctx context.Context) []any {
	var fields []any

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if tenant := GetTenant(ctx); tenant != "" {
		fields = append(fields, "tenant", tenant)
	}
	if resource := GetResource(ctx); resource != "" {
		fields = append(fields, "resource", resource)
	}
	if tier := GetTier(ctx); tier != "" {
		fields = append(fields, "tier", tier)
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}

	return fields
}
