package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on admission spans.
const (
	AttrTenant    = "quotaguard.tenant"
	AttrResource  = "quotaguard.resource"
	AttrKey       = "quotaguard.key"
	AttrTier      = "quotaguard.tier"
	AttrClass     = "quotaguard.class"
	AttrRequestID = "quotaguard.request_id"
	AttrCost      = "quotaguard.cost"
	AttrAllowed   = "quotaguard.allowed"
	AttrDuplicate = "quotaguard.duplicate"
	AttrReason    = "quotaguard.reason"
	AttrFallback  = "quotaguard.fallback"
)

// SetAdmissionAttributes records who is asking for what.
func SetAdmissionAttributes(span trace.Span, tenant, resource, requestID string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTenant, tenant),
		attribute.String(AttrResource, resource),
	}
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	span.SetAttributes(attrs...)
}

// SetDecisionAttributes records the outcome of an admission check.
func SetDecisionAttributes(span trace.Span, allowed, duplicate bool) {
	span.SetAttributes(
		attribute.Bool(AttrAllowed, allowed),
		attribute.Bool(AttrDuplicate, duplicate),
	)
}

// SetDenialAttributes records which tier denied a request and why.
func SetDenialAttributes(span trace.Span, tier, reason string) {
	span.SetAttributes(
		attribute.Bool(AttrAllowed, false),
		attribute.String(AttrTier, tier),
		attribute.String(AttrReason, reason),
	)
}
