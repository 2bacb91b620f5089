package services

import (
	"errors"
	"fmt"
	"strings"

	"nmrauto/internal/queue"
)

var (
	ErrDeviceFault  = errors.New("device fault")
	ErrNotConnected = errors.New("device not connected")
	ErrTimeout      = errors.New("timeout")
	ErrAborted      = errors.New("aborted")
	ErrRequeue      = errors.New("sample requeued")
	ErrValidation   = errors.New("validation error")
	ErrTransient    = errors.New("transient failure")
)

// Wrap builds an error message that includes device context while tagging it
// with the provided marker for later status classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, device, operation, message string, err error) error {
	detail := buildDetail(device, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a sample error to the status the orchestrator should
// persist. Only a requeue marker puts the sample back in line.
func FailureStatus(err error) queue.Status {
	if errors.Is(err, ErrRequeue) {
		return queue.StatusQueued
	}
	return queue.StatusFailed
}

func buildDetail(device, operation, message string) string {
	parts := make([]string, 0, 3)
	if device = strings.TrimSpace(device); device != "" {
		parts = append(parts, device)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "device failure"
	}
	return strings.Join(parts, ": ")
}
