package queue

import "errors"

var (
	// ErrNotFound is returned when an update targets a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSample rejects samples the orchestrator could never run.
	ErrInvalidSample = errors.New("invalid sample")
)
