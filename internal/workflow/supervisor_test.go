package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
)

func TestSuperviseRecoversFromPanicsAndErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	var calls atomic.Int32
	step := func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("store unavailable")
		case 3:
			return nil
		default:
			cancel()
			return nil
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- Supervise(ctx, "test", time.Millisecond, time.Millisecond, logging.NewNop(), m, step)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Supervise returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Supervise did not stop after cancel")
	}
	if got := calls.Load(); got < 4 {
		t.Fatalf("expected the loop to continue past failures, got %d calls", got)
	}
	series, err := testutil.GatherAndCount(m.Registry(), "nmrauto_daemon_worker_recoveries_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if series != 1 {
		t.Fatalf("expected one recovery series, got %d", series)
	}
}

func TestSafeStepCapturesStack(t *testing.T) {
	err := safeStep(context.Background(), func(context.Context) error { panic("kaboom") })
	var pe *panicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected panicError, got %v", err)
	}
	if pe.value != "kaboom" || len(pe.stack) == 0 {
		t.Fatalf("unexpected panic capture: %+v", pe)
	}
}
