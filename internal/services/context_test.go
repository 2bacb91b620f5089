package services_test

import (
	"context"
	"testing"

	"nmrauto/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSampleID(ctx, 42)
	ctx = services.WithDevice(ctx, "autosampler")
	ctx = services.WithRequestID(ctx, "run-123")

	if id, ok := services.SampleIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected sample id: %v %v", id, ok)
	}
	if device, ok := services.DeviceFromContext(ctx); !ok || device != "autosampler" {
		t.Fatalf("unexpected device: %v %v", device, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "run-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithDevice(ctx, "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.DeviceFromContext(ctx); ok {
		t.Fatal("expected no device value")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id value")
	}
	if _, ok := services.SampleIDFromContext(ctx); ok {
		t.Fatal("expected no sample id value")
	}
}
