package logging

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTenant(ctx, "user1")
	ctx = WithResource(ctx, "gpt-4")
	ctx = WithTier(ctx, "user-model")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q", got)
	}
	if got := GetTenant(ctx); got != "user1" {
		t.Errorf("GetTenant() = %q", got)
	}
	if got := GetResource(ctx); got != "gpt-4" {
		t.Errorf("GetResource() = %q", got)
	}
	if got := GetTier(ctx); got != "user-model" {
		t.Errorf("GetTier() = %q", got)
	}
}

func TestContextKeys_Empty(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetTenant(ctx) != "" || GetResource(ctx) != "" || GetTier(ctx) != "" {
		t.Error("expected empty values from empty context")
	}
}

func TestWithAdmission_OmitsEmptyRequestID(t *testing.T) {
	ctx := WithAdmission(context.Background(), "", "user1", "gpt-4")
	fields := extractContextFields(ctx)

	if len(fields) != 4 {
		t.Fatalf("expected tenant and resource only, got %v", fields)
	}
	if fields[0] != "tenant" || fields[2] != "resource" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestExtractContextFields_TraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "admit")
	defer span.End()

	fields := extractContextFields(ctx)
	got := map[any]any{}
	for i := 0; i < len(fields); i += 2 {
		got[fields[i]] = fields[i+1]
	}

	if got["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", got["trace_id"])
	}
	if got["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", got["span_id"])
	}
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-old")
	ctx = WithRequestID(ctx, "req-new")

	if got := GetRequestID(ctx); got != "req-new" {
		t.Errorf("After overwrite, GetRequestID() = %q, want %q", got, "req-new")
	}
}
