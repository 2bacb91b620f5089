package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
)

// Supervise calls step every interval until ctx is cancelled. Errors and
// panics are logged and followed by backoff instead of the interval; the loop
// never exits early.
func Supervise(ctx context.Context, name string, interval, backoff time.Duration, logger *slog.Logger, m *metrics.Metrics, step func(context.Context) error) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := interval
		if err := safeStep(ctx, step); err != nil && ctx.Err() == nil {
			m.WorkerRecovered(name)
			logging.ErrorWithContext(logger, "worker iteration failed", "worker_iteration_failed",
				logging.String("worker", name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the loop retries automatically; check the queue database and devices"),
			)
			wait = backoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", p.value, p.stack)
}

func safeStep(ctx context.Context, step func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return step(ctx)
}
