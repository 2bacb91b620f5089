package spectrometer

import (
	"strings"
	"sync"
	"time"
)

// State tracks one request through the spectrometer.
type State int

const (
	StateIdle State = iota
	StateSent
	StateCompletedSuccess
	StateCompletedFail
	StateAborted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateCompletedSuccess:
		return "success"
	case StateCompletedFail:
		return "failed"
	case StateAborted:
		return "aborted"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the result of Shim or MeasureSample.
type Outcome struct {
	State   State
	Aborted bool
	Folder  string
	Elapsed time.Duration
}

// Success reports a completed, successful, unaborted run whose artifacts
// were found.
func (o Outcome) Success() bool {
	return o.State == StateCompletedSuccess
}

// Status is a snapshot of the driver state.
type Status struct {
	Connected        bool
	Address          string
	Progress         int
	SecondsRemaining int
	LastContact      time.Time
	State            State
}

// ShimKind selects the shim routine.
type ShimKind string

const (
	ShimCheck ShimKind = "CheckShim"
	ShimQuick ShimKind = "QuickShim"
	ShimPower ShimKind = "PowerShim"
)

// ParseShimKind accepts the kind names case-insensitively.
func ParseShimKind(value string) (ShimKind, bool) {
	for _, kind := range []ShimKind{ShimCheck, ShimQuick, ShimPower} {
		if strings.EqualFold(strings.TrimSpace(value), string(kind)) {
			return kind, true
		}
	}
	return "", false
}

// completionLatch holds the one-shot flags set by the listener and consumed
// by the waiting operation.
type completionLatch struct {
	mu            sync.Mutex
	completed     bool
	completedTrue bool
	successful    bool
}

func (l *completionLatch) set(c Completion) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = true
	if c.Completed {
		l.completedTrue = true
	}
	if c.Successful {
		l.successful = true
	}
}

// takeCompleted consumes the completed flag and reports whether the
// spectrometer marked the run as fully completed.
func (l *completionLatch) takeCompleted() (completed bool, completedTrue bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	completed, completedTrue = l.completed, l.completedTrue
	l.completed = false
	l.completedTrue = false
	return completed, completedTrue
}

func (l *completionLatch) takeSuccessful() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	successful := l.successful
	l.successful = false
	return successful
}

func (l *completionLatch) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = false
	l.completedTrue = false
	l.successful = false
}
