package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"nmrauto/internal/fileutil"
	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
	"nmrauto/internal/services"
	"nmrauto/internal/textutil"
)

const (
	device = "spectrometer"

	shimSuccessFile    = "protocol.par"
	measureSuccessFile = "spectrum.1d"
	shimFolderLayout   = "2006-01-02_150405"

	defaultPollInterval = 100 * time.Millisecond
	defaultDialTimeout  = 5 * time.Second
	idleListenerSleep   = 200 * time.Millisecond
	readPoll            = 500 * time.Millisecond
	writeTimeout        = 10 * time.Second
	readBufferSize      = 4096
)

// ErrNotConnected is returned by requests issued without an open socket.
var ErrNotConnected = services.Wrap(services.ErrNotConnected, device, "", "socket closed", nil)

// QueueFlag is the cancellation token shared with operators: a cleared flag
// aborts the running request, and the listener clears it when the socket
// drops.
type QueueFlag interface {
	QueueRunning(ctx context.Context) (bool, error)
	HaltQueue(ctx context.Context, reason string) (bool, error)
}

// Dialer opens the TCP connection.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// Measurement describes one acquisition request.
type Measurement struct {
	Name     string
	Protocol string
	Solvent  string
	Comment  string
	Options  []Option
}

// Options configures a Driver.
type Options struct {
	Host         string
	Port         int
	DialTimeout  time.Duration
	DataFolder   string
	PollInterval time.Duration
	Flag         QueueFlag
	Dialer       Dialer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

type timings struct {
	poll          time.Duration
	abortGrace    time.Duration
	extendMargin  time.Duration
	successWait   time.Duration
	artifactWait  time.Duration
	artifactPoll  time.Duration
	measureBudget time.Duration
	shimBudgets   map[ShimKind]time.Duration
}

func defaultTimings(poll time.Duration) timings {
	return timings{
		poll:          poll,
		abortGrace:    time.Second,
		extendMargin:  60 * time.Second,
		successWait:   time.Second,
		artifactWait:  10 * time.Second,
		artifactPoll:  time.Second,
		measureBudget: 48 * time.Hour,
		shimBudgets: map[ShimKind]time.Duration{
			ShimCheck: time.Minute,
			ShimQuick: 6 * time.Minute,
			ShimPower: 60 * time.Minute,
		},
	}
}

// Driver owns the spectrometer socket and the latest status.
type Driver struct {
	flag        QueueFlag
	dialer      Dialer
	dialTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	timing      timings

	mu               sync.Mutex
	conn             net.Conn
	host             string
	port             int
	dataFolder       string
	progress         int
	secondsRemaining int
	progressAt       time.Time
	lastContact      time.Time
	state            State

	writeMu sync.Mutex
	opMu    sync.Mutex
	latch   completionLatch

	// wake tells an idle listener that Connect opened a socket.
	wake chan struct{}

	decodeWarn *logging.Throttle
	flagWarn   *logging.Throttle
}

// New builds a disconnected driver. Call Run to start the listener.
func New(opts Options) *Driver {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	d := &Driver{
		flag:        opts.Flag,
		dialer:      opts.Dialer,
		dialTimeout: opts.DialTimeout,
		logger:      logging.NewComponentLogger(opts.Logger, device),
		metrics:     opts.Metrics,
		timing:      defaultTimings(poll),
		host:        strings.TrimSpace(opts.Host),
		port:        opts.Port,
		dataFolder:  opts.DataFolder,
		wake:        make(chan struct{}, 1),
		decodeWarn:  logging.NewThrottle(30 * time.Second),
		flagWarn:    logging.NewThrottle(time.Minute),
	}
	if d.dialTimeout <= 0 {
		d.dialTimeout = defaultDialTimeout
	}
	if d.dialer == nil {
		d.dialer = func(ctx context.Context, address string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "tcp", address)
		}
	}
	return d
}

// Address returns host:port for the next Connect.
func (d *Driver) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

// SetAddress changes the endpoint used by the next Connect.
func (d *Driver) SetAddress(host string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host = strings.TrimSpace(host)
	d.port = port
}

// SetDataFolder changes where new runs write their data.
func (d *Driver) SetDataFolder(folder string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dataFolder = folder
}

// DataFolder returns the folder new runs write into.
func (d *Driver) DataFolder() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataFolder
}

// Connect opens the socket. It makes a single attempt.
func (d *Driver) Connect(ctx context.Context) error {
	if d.Connected() {
		return nil
	}
	address := d.Address()
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()
	conn, err := d.dialer(dialCtx, address)
	if err != nil {
		logging.ErrorWithContext(d.logger, "spectrometer connect failed", "spectrometer_connect_failed",
			logging.String(logging.FieldDevice, address),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "start the spectrometer software and enable remote control"),
		)
		return services.Wrap(services.ErrNotConnected, device, "connect", address, err)
	}

	d.mu.Lock()
	if d.conn != nil {
		d.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	d.conn = conn
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}

	d.metrics.SetSpectrometerConnected(true)
	d.logger.Info("spectrometer connected", logging.String(logging.FieldDevice, address))
	return nil
}

// Disconnect closes the socket without touching the queue flag.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	d.metrics.SetSpectrometerConnected(false)
	d.logger.Info("spectrometer disconnected")
	return conn.Close()
}

// Connected reports whether the socket is open.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Progress returns the latched progress percentage.
func (d *Driver) Progress() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// Status returns a snapshot for display.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Connected:        d.conn != nil,
		Address:          net.JoinHostPort(d.host, strconv.Itoa(d.port)),
		Progress:         d.progress,
		SecondsRemaining: d.secondsRemaining,
		LastContact:      d.lastContact,
		State:            d.state,
	}
}

// Abort asks the spectrometer to stop the running request. Failures are
// logged and otherwise ignored by callers.
func (d *Driver) Abort() error {
	if err := d.send(abortMessage()); err != nil {
		d.logger.Debug("spectrometer abort not sent", logging.Error(err))
		return err
	}
	d.logger.Info("spectrometer abort sent")
	return nil
}

// Shim runs a shim routine and waits for it to finish.
func (d *Driver) Shim(ctx context.Context, kind ShimKind) (Outcome, error) {
	budget, ok := d.timing.shimBudgets[kind]
	if !ok {
		return Outcome{}, services.Wrap(services.ErrValidation, device, "shim", fmt.Sprintf("unknown shim kind %q", kind), nil)
	}
	root := d.DataFolder()
	if strings.TrimSpace(root) == "" {
		return Outcome{}, services.Wrap(services.ErrValidation, device, "shim", "data folder is not configured", nil)
	}
	name := "Shim" + time.Now().Format(shimFolderLayout)
	folder := filepath.Join(root, name)
	request := shimRequest(kind, name, folder)

	return d.run(ctx, "shim", request, budget, folder, func(context.Context) bool {
		return d.latch.takeSuccessful() && fileutil.IsRegularFile(filepath.Join(folder, shimSuccessFile))
	})
}

// MeasureSample acquires a spectrum of the seated sample into a folder named
// after the sample.
func (d *Driver) MeasureSample(ctx context.Context, m Measurement) (Outcome, error) {
	if strings.TrimSpace(m.Protocol) == "" {
		return Outcome{}, services.Wrap(services.ErrValidation, device, "measure", "protocol is required", nil)
	}
	root := d.DataFolder()
	if strings.TrimSpace(root) == "" {
		return Outcome{}, services.Wrap(services.ErrValidation, device, "measure", "data folder is not configured", nil)
	}
	folder := filepath.Join(root, textutil.SampleFolderName(m.Name))
	request := measureRequest(m, folder)

	return d.run(ctx, "measure", request, d.timing.measureBudget, folder, func(ctx context.Context) bool {
		if !d.awaitSuccessful(ctx) {
			return false
		}
		return fileutil.WaitForFile(ctx, filepath.Join(folder, measureSuccessFile), d.timing.artifactWait, d.timing.artifactPoll)
	})
}

// awaitSuccessful gives a slow host time to deliver the successful flag
// after the completed notice.
func (d *Driver) awaitSuccessful(ctx context.Context) bool {
	deadline := time.Now().Add(d.timing.successWait)
	for {
		if d.latch.takeSuccessful() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d.timing.poll):
		}
	}
}

func (d *Driver) run(ctx context.Context, operation, request string, budget time.Duration, folder string, succeeded func(context.Context) bool) (Outcome, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.latch.reset()
	d.resetProgress()
	defer d.resetProgress()

	start := time.Now()
	if err := d.send(request); err != nil {
		return Outcome{State: StateIdle, Folder: folder}, err
	}
	d.setState(StateSent)
	d.logger.Info("spectrometer request sent",
		logging.String("operation", operation),
		logging.String("folder", folder),
		logging.Duration("budget", budget),
	)

	finish := func(state State, aborted bool) Outcome {
		out := Outcome{State: state, Aborted: aborted, Folder: folder, Elapsed: time.Since(start)}
		d.setState(state)
		d.metrics.ObserveOperation(operation, state.String(), out.Elapsed)
		return out
	}

	deadline := start.Add(budget)
	aborted := false
	ticker := time.NewTicker(d.timing.poll)
	defer ticker.Stop()
	for {
		now := time.Now()
		if !aborted {
			if extended := d.extendedDeadline(start); extended.After(deadline) {
				deadline = extended
			}
			if d.abortRequested(ctx) {
				d.logger.Info("abort signal detected", logging.String("operation", operation))
				_ = d.Abort()
				aborted = true
				deadline = now.Add(d.timing.abortGrace)
			}
		}

		if completed, completedTrue := d.latch.takeCompleted(); completed {
			// An aborted run leaves no result worth waiting for.
			ok := !aborted && succeeded(ctx)
			state := StateCompletedFail
			switch {
			case aborted:
				state = StateAborted
			case ok:
				state = StateCompletedSuccess
			}
			d.logger.Info("spectrometer request completed",
				logging.String("operation", operation),
				logging.String("state", state.String()),
				logging.Bool("completed_flag", completedTrue),
			)
			return finish(state, aborted), nil
		}

		if !now.Before(deadline) {
			if aborted {
				return finish(StateAborted, true), nil
			}
			logging.ErrorWithContext(d.logger, "spectrometer request timed out", "spectrometer_timeout",
				logging.String("operation", operation),
				logging.Duration("elapsed", time.Since(start)),
				logging.String(logging.FieldErrorHint, "check the spectrometer software for a stalled run"),
			)
			return finish(StateTimedOut, false), nil
		}

		select {
		case <-ctx.Done():
			return finish(StateAborted, true), ctx.Err()
		case <-ticker.C:
		}
	}
}

// extendedDeadline is the point the latest progress notice promises the run
// will be done by, plus a margin. Zero when no progress arrived during this
// run.
func (d *Driver) extendedDeadline(start time.Time) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.progressAt.Before(start) {
		return time.Time{}
	}
	return d.progressAt.Add(time.Duration(d.secondsRemaining)*time.Second + d.timing.extendMargin)
}

func (d *Driver) abortRequested(ctx context.Context) bool {
	if d.flag == nil {
		return false
	}
	running, err := d.flag.QueueRunning(ctx)
	if err != nil {
		d.flagWarn.Warn(d.logger, "queue flag unreadable", "queue_flag_read_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the queue database"),
			logging.String(logging.FieldImpact, "abort requests are not seen until the store recovers"),
		)
		return false
	}
	return !running
}

func (d *Driver) send(message string) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := conn.Write([]byte(message))
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return services.Wrap(services.ErrTransient, device, "write", "", err)
	}
	return nil
}

func (d *Driver) setState(state State) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

func (d *Driver) resetProgress() {
	d.mu.Lock()
	d.progress = 0
	d.secondsRemaining = 0
	d.mu.Unlock()
	d.metrics.SetSpectrometerProgress(0)
}

// Run listens to the status stream until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	var (
		current net.Conn
		decoder Decoder
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-d.wake:
			case <-time.After(idleListenerSleep):
			}
			continue
		}
		if conn != current {
			current = conn
			decoder.Reset()
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPoll))
		n, err := conn.Read(buf)
		if n > 0 {
			notes, errs := decoder.Feed(buf[:n])
			d.apply(notes, errs)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			d.connectionLost(ctx, conn, err)
		}
	}
}

func (d *Driver) apply(notes []Notification, errs []error) {
	now := time.Now()
	d.mu.Lock()
	d.lastContact = now
	for _, note := range notes {
		if note.HasProgress {
			d.progress = note.Percentage
			d.secondsRemaining = note.SecondsRemaining
			d.progressAt = now
		}
	}
	progress := d.progress
	d.mu.Unlock()
	d.metrics.SetSpectrometerProgress(progress)

	for _, note := range notes {
		if note.Completion != nil {
			d.latch.set(*note.Completion)
			d.logger.Debug("spectrometer reported completion",
				logging.Bool("completed", note.Completion.Completed),
				logging.Bool("successful", note.Completion.Successful),
			)
		}
	}
	for _, err := range errs {
		d.metrics.DecodeError()
		d.decodeWarn.Warn(d.logger, "spectrometer status dropped", "spectrometer_decode_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "malformed status documents are skipped"),
		)
	}
}

func (d *Driver) connectionLost(ctx context.Context, conn net.Conn, cause error) {
	d.mu.Lock()
	owned := d.conn == conn
	if owned {
		d.conn = nil
	}
	d.mu.Unlock()
	if !owned {
		return
	}
	_ = conn.Close()
	d.metrics.SetSpectrometerConnected(false)
	logging.WarnWithContext(d.logger, "spectrometer connection lost", "spectrometer_connection_lost",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "the spectrometer software is not running, crashed, or was closed"),
		logging.String(logging.FieldImpact, "queue halted"),
	)
	if d.flag == nil {
		return
	}
	if _, err := d.flag.HaltQueue(context.WithoutCancel(ctx), "spectrometer connection lost"); err != nil {
		logging.ErrorWithContext(d.logger, "failed to halt queue", "queue_halt_failed", logging.Error(err))
	}
}
