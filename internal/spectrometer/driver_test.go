package spectrometer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nmrauto/internal/services"
	"nmrauto/internal/testsupport"
)

type fakeFlag struct {
	mu      sync.Mutex
	running bool
	halts   []string
}

func (f *fakeFlag) QueueRunning(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeFlag) HaltQueue(_ context.Context, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.running
	f.running = false
	f.halts = append(f.halts, reason)
	return changed, nil
}

func (f *fakeFlag) set(running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = running
}

func (f *fakeFlag) haltCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.halts)
}

type harness struct {
	driver *Driver
	fake   *testsupport.FakeSpectrometer
	flag   *fakeFlag
	data   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := testsupport.NewFakeSpectrometer(t)
	host, port := fake.Addr()
	flag := &fakeFlag{running: true}
	data := t.TempDir()
	d := New(Options{
		Host:         host,
		Port:         port,
		DataFolder:   data,
		PollInterval: 5 * time.Millisecond,
		Flag:         flag,
	})
	d.timing.successWait = 100 * time.Millisecond
	d.timing.artifactWait = 200 * time.Millisecond
	d.timing.artifactPoll = 10 * time.Millisecond
	d.timing.abortGrace = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = d.Disconnect()
	})
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !testsupport.WaitFor(t, time.Second, func() bool { return fake.Accepted() == 1 }) {
		t.Fatal("fake spectrometer never saw the connection")
	}
	return &harness{driver: d, fake: fake, flag: flag, data: data}
}

func TestConnectFailureReportsNotConnected(t *testing.T) {
	d := New(Options{Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond})
	err := d.Connect(context.Background())
	if !errors.Is(err, services.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if d.Connected() {
		t.Fatal("expected driver to stay disconnected")
	}
}

func TestRequestsWithoutConnection(t *testing.T) {
	d := New(Options{Host: "127.0.0.1", Port: 1, DataFolder: t.TempDir()})
	_, err := d.Shim(context.Background(), ShimCheck)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMeasureSampleSuccess(t *testing.T) {
	h := newHarness(t)
	h.fake.Handle(testsupport.SucceedRuns(measureSuccessFile))

	out, err := h.driver.MeasureSample(context.Background(), Measurement{
		Name:     "MK 12/3",
		Protocol: "1D EXTENDED+",
		Solvent:  "CDCl3",
		Options:  []Option{{Name: "Number", Value: "16"}, {Name: "AcquisitionTime", Value: FormatFloat(6.4)}},
	})
	if err != nil {
		t.Fatalf("MeasureSample: %v", err)
	}
	if !out.Success() || out.Aborted {
		t.Fatalf("expected success, got %+v", out)
	}
	if want := filepath.Join(h.data, "MK 12-3"); out.Folder != want {
		t.Fatalf("expected folder %s, got %s", want, out.Folder)
	}
	starts := h.fake.Starts()
	if len(starts) != 1 || starts[0].Protocol != "1D EXTENDED+" {
		t.Fatalf("unexpected starts %+v", starts)
	}
	if !strings.Contains(starts[0].Raw, "<Option name='AcquisitionTime' value='6.4'/>") {
		t.Fatalf("missing acquisition time option in %s", starts[0].Raw)
	}
	if got := h.driver.Progress(); got != 0 {
		t.Fatalf("expected progress reset after run, got %d", got)
	}
}

func TestMeasureSampleMissingSpectrumFails(t *testing.T) {
	h := newHarness(t)
	h.fake.Handle(testsupport.SucceedRuns())

	out, err := h.driver.MeasureSample(context.Background(), Measurement{Name: "x", Protocol: "1D EXTENDED+"})
	if err != nil {
		t.Fatalf("MeasureSample: %v", err)
	}
	if out.State != StateCompletedFail {
		t.Fatalf("expected CompletedFail, got %s", out.State)
	}
}

func TestShimSuccessNeedsProtocolFile(t *testing.T) {
	h := newHarness(t)
	h.fake.Handle(testsupport.SucceedRuns(shimSuccessFile))

	out, err := h.driver.Shim(context.Background(), ShimCheck)
	if err != nil {
		t.Fatalf("Shim: %v", err)
	}
	if !out.Success() {
		t.Fatalf("expected success, got %+v", out)
	}
	if !strings.HasPrefix(filepath.Base(out.Folder), "Shim") {
		t.Fatalf("unexpected shim folder %s", out.Folder)
	}
	starts := h.fake.Starts()
	if len(starts) != 1 || !strings.Contains(starts[0].Raw, "value='CheckShim'") {
		t.Fatalf("unexpected starts %+v", starts)
	}
}

func TestShimUnsuccessful(t *testing.T) {
	h := newHarness(t)
	h.fake.Handle(testsupport.FailRuns())

	out, err := h.driver.Shim(context.Background(), ShimQuick)
	if err != nil {
		t.Fatalf("Shim: %v", err)
	}
	if out.Success() || out.State != StateCompletedFail {
		t.Fatalf("expected failure, got %+v", out)
	}
}

func TestAbortWins(t *testing.T) {
	h := newHarness(t)
	h.fake.Handle(testsupport.StallRuns())
	go func() {
		time.Sleep(50 * time.Millisecond)
		h.flag.set(false)
	}()

	start := time.Now()
	out, err := h.driver.Shim(context.Background(), ShimPower)
	if err != nil {
		t.Fatalf("Shim: %v", err)
	}
	if !out.Aborted || out.State != StateAborted {
		t.Fatalf("expected aborted outcome, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("abort took too long: %s", elapsed)
	}
	var sawAbort bool
	for _, req := range h.fake.Requests() {
		sawAbort = sawAbort || req.Abort
	}
	if !sawAbort {
		t.Fatal("expected an abort message")
	}
}

func TestAbortedMeasurementSkipsResultWaits(t *testing.T) {
	h := newHarness(t)
	h.driver.timing.successWait = 2 * time.Second
	h.driver.timing.artifactWait = 2 * time.Second
	h.fake.Handle(testsupport.StallRuns())
	go func() {
		time.Sleep(30 * time.Millisecond)
		h.flag.set(false)
	}()

	start := time.Now()
	out, err := h.driver.MeasureSample(context.Background(), Measurement{Name: "stopped", Protocol: "1D EXTENDED+"})
	if err != nil {
		t.Fatalf("MeasureSample: %v", err)
	}
	if out.State != StateAborted || !out.Aborted {
		t.Fatalf("expected aborted outcome, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("aborted run waited for results: %s", elapsed)
	}
}

func TestAbortWithoutReplyExitsAfterGrace(t *testing.T) {
	h := newHarness(t)
	h.flag.set(false)

	out, err := h.driver.Shim(context.Background(), ShimQuick)
	if err != nil {
		t.Fatalf("Shim: %v", err)
	}
	if out.State != StateAborted {
		t.Fatalf("expected aborted, got %s", out.State)
	}
}

func TestTimeoutWithoutCompletion(t *testing.T) {
	h := newHarness(t)
	h.driver.timing.shimBudgets[ShimCheck] = 50 * time.Millisecond

	out, err := h.driver.Shim(context.Background(), ShimCheck)
	if err != nil {
		t.Fatalf("Shim: %v", err)
	}
	if out.State != StateTimedOut || out.Aborted || out.Success() {
		t.Fatalf("expected timeout, got %+v", out)
	}
}

func TestProgressExtendsDeadline(t *testing.T) {
	h := newHarness(t)
	h.driver.timing.shimBudgets[ShimCheck] = 50 * time.Millisecond
	h.driver.timing.extendMargin = 0
	h.fake.Handle(func(f *testsupport.FakeSpectrometer, req testsupport.FakeRequest) {
		if !req.Start {
			return
		}
		_ = f.Send(testsupport.ProgressDoc(20, 1))
		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = f.Send(testsupport.CompletedDoc(true, false))
		}()
	})

	out, err := h.driver.Shim(context.Background(), ShimCheck)
	if err != nil {
		t.Fatalf("Shim: %v", err)
	}
	if out.State != StateCompletedFail {
		t.Fatalf("expected the run to reach completion, got %s", out.State)
	}
}

func TestConnectionLossHaltsQueue(t *testing.T) {
	h := newHarness(t)
	h.fake.DropConnection()

	if !testsupport.WaitFor(t, 2*time.Second, func() bool { return !h.driver.Connected() }) {
		t.Fatal("expected driver to notice the lost connection")
	}
	if h.flag.haltCount() != 1 {
		t.Fatalf("expected one halt, got %d", h.flag.haltCount())
	}
}

func TestDisconnectDoesNotHaltQueue(t *testing.T) {
	h := newHarness(t)
	if err := h.driver.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if h.flag.haltCount() != 0 {
		t.Fatalf("expected no halt, got %d", h.flag.haltCount())
	}
}

func TestListenerWakesOnConnect(t *testing.T) {
	fake := testsupport.NewFakeSpectrometer(t)
	host, port := fake.Addr()
	d := New(Options{Host: host, Port: port, DataFolder: t.TempDir(), Flag: &fakeFlag{running: true}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = d.Disconnect()
	})

	// Let the listener settle into its idle wait first.
	time.Sleep(20 * time.Millisecond)
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !testsupport.WaitFor(t, time.Second, func() bool { return fake.Accepted() == 1 }) {
		t.Fatal("fake spectrometer never saw the connection")
	}
	if err := fake.Send(testsupport.ProgressDoc(12, 30)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !testsupport.WaitFor(t, idleListenerSleep/2, func() bool { return d.Progress() == 12 }) {
		t.Fatalf("listener did not pick up the new socket promptly, progress %d", d.Progress())
	}
}

func TestListenerTracksProgress(t *testing.T) {
	h := newHarness(t)
	if err := h.fake.Send(testsupport.ProgressDoc(37, 90)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !testsupport.WaitFor(t, time.Second, func() bool { return h.driver.Progress() == 37 }) {
		t.Fatalf("expected progress 37, got %d", h.driver.Progress())
	}
	if status := h.driver.Status(); status.SecondsRemaining != 90 || status.LastContact.IsZero() {
		t.Fatalf("unexpected status %+v", status)
	}
}
