package autosampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nmrauto/internal/services"
	"nmrauto/internal/testsupport"
)

type recordingSink struct {
	mu    sync.Mutex
	codes []int
	fail  error
}

func (s *recordingSink) PublishAutosamplerStatus(_ context.Context, code int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	return s.fail
}

func (s *recordingSink) last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return -99
	}
	return s.codes[len(s.codes)-1]
}

func newTestDriver(t *testing.T, fake *testsupport.FakePort, sink StatusSink) *Driver {
	t.Helper()
	return New(Options{
		Port:          "/dev/ttyFAKE0",
		PollInterval:  5 * time.Millisecond,
		OutcomePoll:   5 * time.Millisecond,
		InsertTimeout: 500 * time.Millisecond,
		ReturnTimeout: 500 * time.Millisecond,
		Opener: func(string, int) (Port, error) {
			return fake.Open()
		},
		Sink: sink,
	})
}

func connectDriver(t *testing.T, d *Driver) {
	t.Helper()
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func startWorker(t *testing.T, d *Driver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestCodeIsError(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{ConnectionLost, false},
		{NeverConnected, false},
		{Ready, false},
		{Busy, false},
		{MechanicalFault, true},
		{SampleSeated, false},
		{PusherOpenFault, true},
		{TubePresent, true},
		{HostRaised, true},
	}
	for _, tt := range tests {
		if got := tt.code.IsError(); got != tt.want {
			t.Errorf("Code(%d).IsError() = %v, want %v", int(tt.code), got, tt.want)
		}
	}
}

func TestParseCode(t *testing.T) {
	if code, ok := ParseCode('6'); !ok || code != TubePresent {
		t.Fatalf("ParseCode('6') = %v, %v", code, ok)
	}
	if _, ok := ParseCode('x'); ok {
		t.Fatal("expected non-digit to be rejected")
	}
}

func TestTickTracksLastDigit(t *testing.T) {
	fake := testsupport.NewFakePort()
	sink := &recordingSink{}
	d := newTestDriver(t, fake, sink)
	connectDriver(t, d)

	fake.Emit("0113\r\n")
	d.tick(context.Background())

	if got := d.Code(); got != SampleSeated {
		t.Fatalf("expected SampleSeated, got %s", got)
	}
	if d.LastContact().IsZero() {
		t.Fatal("expected last contact to be refreshed")
	}
	if got := sink.last(); got != int(SampleSeated) {
		t.Fatalf("expected published code 3, got %d", got)
	}
	if got := d.grace.Load(); got != d.contactGrace {
		t.Fatalf("expected grace reset to %d, got %d", d.contactGrace, got)
	}
}

func TestTickIgnoresNonDigitButRefreshesContact(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	fake.Emit("0")
	d.tick(context.Background())
	fake.Emit("ok")
	d.tick(context.Background())

	if got := d.Code(); got != Ready {
		t.Fatalf("expected Ready to persist, got %s", got)
	}
	if d.LastContact().IsZero() {
		t.Fatal("expected contact from non-digit bytes")
	}
}

func TestSilenceExhaustsGrace(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	fake.Emit("0")
	d.tick(context.Background())
	d.grace.Store(3)

	for i := 0; i < 2; i++ {
		d.tick(context.Background())
		if got := d.Code(); got != Ready {
			t.Fatalf("tick %d: expected Ready during grace, got %s", i, got)
		}
	}
	d.tick(context.Background())
	if got := d.Code(); got != ConnectionLost {
		t.Fatalf("expected ConnectionLost after grace, got %s", got)
	}
}

func TestSilenceWhileBusyKeepsGrace(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	fake.Emit("1")
	d.tick(context.Background())
	d.grace.Store(1)
	for i := 0; i < 10; i++ {
		d.tick(context.Background())
	}
	if got := d.Code(); got != Busy {
		t.Fatalf("expected Busy to survive silence, got %s", got)
	}
}

func TestTickWithoutPortReportsConnectionLost(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDriver(t, testsupport.NewFakePort(), sink)

	d.tick(context.Background())

	if got := d.Code(); got != ConnectionLost {
		t.Fatalf("expected ConnectionLost, got %s", got)
	}
	if got := sink.last(); got != int(ConnectionLost) {
		t.Fatalf("expected published -2, got %d", got)
	}
}

func TestReadErrorDropsPort(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	fake.FailReads(errors.New("device unplugged"))
	d.tick(context.Background())

	if d.Connected() {
		t.Fatal("expected driver to drop the port")
	}
	if got := d.Code(); got != ConnectionLost {
		t.Fatalf("expected ConnectionLost, got %s", got)
	}
	if !fake.Closed() {
		t.Fatal("expected port to be closed")
	}
}

func TestGraceWindowFollowsPollInterval(t *testing.T) {
	tests := []struct {
		poll        time.Duration
		wantInitial int32
		wantContact int32
	}{
		{200 * time.Millisecond, 10000, 25},
		{5 * time.Millisecond, 400000, 1000},
		{time.Second, 2000, 5},
		{7 * time.Second, 286, 1},
	}
	for _, tt := range tests {
		d := New(Options{Port: "/dev/ttyFAKE0", PollInterval: tt.poll})
		if d.initialGrace != tt.wantInitial || d.contactGrace != tt.wantContact {
			t.Errorf("poll %s: grace ticks = %d/%d, want %d/%d",
				tt.poll, d.initialGrace, d.contactGrace, tt.wantInitial, tt.wantContact)
		}
	}
}

func TestFastPollKeepsContactWindow(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	fake.Emit("0")
	d.tick(context.Background())
	// Well past the old 25-tick budget, still inside five seconds of silence.
	for i := 0; i < 100; i++ {
		d.tick(context.Background())
	}
	if got := d.Code(); got != Ready {
		t.Fatalf("expected Ready inside the contact window, got %s", got)
	}
}

func TestYellDoesNotBlockStatus(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	fake.Respond(func(string) string {
		once.Do(func() { close(entered) })
		<-release
		return ""
	})
	yelled := make(chan error, 1)
	go func() { yelled <- d.Yell("E") }()
	defer func() {
		close(release)
		if err := <-yelled; err != nil {
			t.Errorf("Yell: %v", err)
		}
	}()
	<-entered

	polled := make(chan Status, 1)
	go func() {
		d.tick(context.Background())
		polled <- d.Status()
	}()
	select {
	case status := <-polled:
		if !status.Connected {
			t.Fatalf("expected connected status, got %+v", status)
		}
	case <-time.After(time.Second):
		t.Fatal("status tick stalled behind a slow write")
	}
}

func TestConnectDrainsNoise(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.Emit("\xff\xfe9")
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	d.tick(context.Background())
	if got := d.Code(); got != NeverConnected {
		t.Fatalf("expected noise to be discarded, got %s", got)
	}
	if got := d.grace.Load(); got != d.initialGrace-1 {
		t.Fatalf("expected grace %d, got %d", d.initialGrace-1, got)
	}
}

func TestConnectFailureIsReported(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.FailOpen(errors.New("no such device"))
	d := newTestDriver(t, fake, nil)

	err := d.Connect(context.Background())
	if !errors.Is(err, services.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if d.Connected() {
		t.Fatal("expected driver to stay disconnected")
	}
}

func TestYellWithoutConnection(t *testing.T) {
	d := newTestDriver(t, testsupport.NewFakePort(), nil)
	if err := d.Yell("h"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestInsertSampleSucceedsWhenSeated(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.Respond(func(command string) string {
		if command == "N5" {
			return "113"
		}
		return ""
	})
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)
	startWorker(t, d)

	if err := d.InsertSample(context.Background(), 5, true); err != nil {
		t.Fatalf("InsertSample: %v", err)
	}
	if diff := cmp.Diff([]string{"N5"}, fake.Written()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertSampleFirstOfRunUsesFullInsert(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.Respond(func(string) string { return "3" })
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)
	startWorker(t, d)

	if err := d.InsertSample(context.Background(), 12, false); err != nil {
		t.Fatalf("InsertSample: %v", err)
	}
	if diff := cmp.Diff([]string{"M12"}, fake.Written()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertSampleFault(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.Respond(func(string) string { return "18" })
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)
	startWorker(t, d)

	err := d.InsertSample(context.Background(), 3, true)
	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("expected FaultError, got %v", err)
	}
	if fault.Code != NoSampleOnStart || fault.Holder != 3 {
		t.Fatalf("unexpected fault %+v", fault)
	}
	if !errors.Is(err, services.ErrDeviceFault) {
		t.Fatal("expected fault to unwrap to ErrDeviceFault")
	}
}

func TestInsertSampleTimeout(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.Respond(func(string) string { return "1" })
	d := New(Options{
		Port:          "/dev/ttyFAKE0",
		PollInterval:  5 * time.Millisecond,
		OutcomePoll:   5 * time.Millisecond,
		InsertTimeout: 40 * time.Millisecond,
		Opener:        func(string, int) (Port, error) { return fake.Open() },
	})
	connectDriver(t, d)
	startWorker(t, d)

	err := d.InsertSample(context.Background(), 1, false)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestReturnSampleWaitsForReady(t *testing.T) {
	fake := testsupport.NewFakePort()
	fake.Respond(func(command string) string {
		if command == "R7" {
			return "10"
		}
		return ""
	})
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)
	fake.Emit("3")
	d.tick(context.Background())
	if got := d.Code(); got != SampleSeated {
		t.Fatalf("expected SampleSeated before return, got %s", got)
	}
	startWorker(t, d)

	if err := d.ReturnSample(context.Background(), 7); err != nil {
		t.Fatalf("ReturnSample: %v", err)
	}
}

func TestInsertSampleRejectsHolder(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	if err := d.InsertSample(context.Background(), 33, true); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fake.Written()) != 0 {
		t.Fatalf("expected nothing written, got %v", fake.Written())
	}
}

func TestManualCommands(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)

	for _, step := range []struct {
		action string
		holder int
	}{
		{"reset", 0},
		{"buzz", 0},
		{"move", 7},
		{"return", 2},
		{"raise-error", 0},
	} {
		if err := d.Manual(step.action, step.holder); err != nil {
			t.Fatalf("Manual(%s): %v", step.action, err)
		}
	}
	if diff := cmp.Diff([]string{"r", "z", "m7", "R2", "E"}, fake.Written()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	if err := d.Manual("dance", 0); err == nil {
		t.Fatal("expected unknown action error")
	}
	if !NeedsHolder("Move") || NeedsHolder("buzz") {
		t.Fatal("unexpected NeedsHolder result")
	}
}

func TestDisconnectThenReconnect(t *testing.T) {
	fake := testsupport.NewFakePort()
	d := newTestDriver(t, fake, nil)
	connectDriver(t, d)
	if err := d.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if d.Connected() {
		t.Fatal("expected disconnected")
	}
	connectDriver(t, d)
	if got := fake.Opens(); got != 2 {
		t.Fatalf("expected two opens, got %d", got)
	}
}
