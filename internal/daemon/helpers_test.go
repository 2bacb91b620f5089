package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/config"
	"nmrauto/internal/logging"
	"nmrauto/internal/queue"
	"nmrauto/internal/testsupport"
)

type testRig struct {
	cfg     *config.Config
	store   *queue.Store
	port    *testsupport.FakePort
	spectro *testsupport.FakeSpectrometer
	daemon  *Daemon
}

// newTestRig builds a daemon wired to a fake carousel controller and a fake
// spectrometer. The controller seats on insert and reports ready on return.
func newTestRig(t *testing.T, opts ...testsupport.ConfigOption) *testRig {
	t.Helper()
	spectro := testsupport.NewFakeSpectrometer(t)
	host, port := spectro.Addr()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithSpectrometer(host, port)}, opts...)...)
	cfg.Autosampler.StatusPollMillis = 5
	cfg.Workflow.CommandPollMillis = 20
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	fake := testsupport.NewFakePort()
	fake.Respond(func(command string) string {
		switch {
		case strings.HasPrefix(command, "M"), strings.HasPrefix(command, "N"):
			return "13"
		case strings.HasPrefix(command, "R"):
			return "10"
		default:
			return ""
		}
	})

	d, err := New(cfg, store, logging.NewNop(), Options{
		Opener: func(string, int) (autosampler.Port, error) {
			return fake.Open()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testRig{cfg: cfg, store: store, port: fake, spectro: spectro, daemon: d}
}

func (r *testRig) enqueue(t *testing.T, device, action, argument string) *queue.Command {
	t.Helper()
	cmd, err := r.store.EnqueueCommand(context.Background(), device, action, argument)
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	return cmd
}

func (r *testRig) command(t *testing.T, id string) *queue.Command {
	t.Helper()
	cmd, err := r.store.GetCommand(context.Background(), id)
	if err != nil || cmd == nil {
		t.Fatalf("GetCommand(%s): %v", id, err)
	}
	return cmd
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !testsupport.WaitFor(t, 15*time.Second, cond) {
		t.Fatalf("timed out waiting for %s", what)
	}
}
