package services

import "context"

type contextKey string

const (
	sampleIDKey  contextKey = "sample_id"
	deviceKey    contextKey = "device"
	requestIDKey contextKey = "request_id"
)

// WithSampleID annotates context with the queue sample identifier.
func WithSampleID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, sampleIDKey, id)
}

// SampleIDFromContext extracts the queue sample identifier if present.
func SampleIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(sampleIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithDevice annotates context with the device an operation targets.
func WithDevice(ctx context.Context, device string) context.Context {
	if device == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceKey, device)
}

// DeviceFromContext returns the device name if present.
func DeviceFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(deviceKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
