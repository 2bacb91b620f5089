package logging

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits a recurring warning from a fast polling loop. Suppressed
// occurrences are counted and reported with the next emitted line.
type Throttle struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	suppressed int
}

// NewThrottle allows one line per interval with no burst.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Warn logs through WarnWithContext when the limiter allows it.
func (t *Throttle) Warn(logger *slog.Logger, msg, eventType string, attrs ...Attr) bool {
	if t == nil {
		WarnWithContext(logger, msg, eventType, attrs...)
		return true
	}
	t.mu.Lock()
	if !t.limiter.Allow() {
		t.suppressed++
		t.mu.Unlock()
		return false
	}
	suppressed := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()
	if suppressed > 0 {
		attrs = append(attrs, Int("suppressed", suppressed))
	}
	WarnWithContext(logger, msg, eventType, attrs...)
	return true
}
