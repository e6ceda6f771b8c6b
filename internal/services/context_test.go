package services_test

import (
	"context"
	"testing"

	"comfyforge/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithStepIndex(ctx, 2)
	ctx = services.WithProvider(ctx, "OpenAI")
	ctx = services.WithKeyID(ctx, 42)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if idx, ok := services.StepIndexFromContext(ctx); !ok || idx != 2 {
		t.Fatalf("unexpected step index: %v %v", idx, ok)
	}
	if p, ok := services.ProviderFromContext(ctx); !ok || p != "OpenAI" {
		t.Fatalf("unexpected provider: %v %v", p, ok)
	}
	if id, ok := services.KeyIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected key id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "")
	ctx = services.WithProvider(ctx, "")
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id value")
	}
	if _, ok := services.ProviderFromContext(ctx); ok {
		t.Fatal("expected no provider value")
	}
	if _, ok := services.StepIndexFromContext(ctx); ok {
		t.Fatal("expected no step index value")
	}
}
