package autosampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
	"nmrauto/internal/services"
)

const (
	device = "autosampler"

	// Silence tolerated before the link is declared lost, before and after
	// the first contact.
	initialGraceWindow = 10000 * defaultPollInterval
	contactGraceWindow = 5 * time.Second

	connectDrainReads = 5
	maxDrainReads     = 64

	defaultPollInterval  = 200 * time.Millisecond
	defaultOutcomePoll   = time.Second
	defaultInsertTimeout = 120 * time.Second
	defaultReturnTimeout = 120 * time.Second
	defaultBaudRate      = 9600
)

// ErrNotConnected is returned by commands issued while the port is closed.
var ErrNotConnected = services.Wrap(services.ErrNotConnected, device, "", "serial port closed", nil)

// Port is the byte channel to the controller. Read must return promptly
// with n == 0 when nothing is pending.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// StatusSink receives the status on every worker tick.
type StatusSink interface {
	PublishAutosamplerStatus(ctx context.Context, code int, lastContact time.Time) error
}

// Options configures a Driver. Zero values take the controller defaults.
type Options struct {
	Port          string
	BaudRate      int
	PollInterval  time.Duration
	OutcomePoll   time.Duration
	InsertTimeout time.Duration
	ReturnTimeout time.Duration
	Opener        Opener
	Sink          StatusSink
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Status is a snapshot of the driver state.
type Status struct {
	Code        Code
	LastContact time.Time
	Connected   bool
	Port        string
}

// Driver owns the serial port and the controller status.
type Driver struct {
	opener        Opener
	sink          StatusSink
	logger        *slog.Logger
	metrics       *metrics.Metrics
	baud          int
	pollInterval  time.Duration
	outcomePoll   time.Duration
	insertTimeout time.Duration
	returnTimeout time.Duration

	mu       sync.Mutex
	port     Port
	portName string

	// writeMu keeps commands whole on the wire without blocking status reads.
	writeMu sync.Mutex

	// initialGrace and contactGrace are the grace windows in worker ticks.
	initialGrace int32
	contactGrace int32

	code        atomic.Int32
	lastContact atomic.Int64
	grace       atomic.Int32

	publishWarn *logging.Throttle
}

// New builds a disconnected driver. Call Run to start the status worker.
func New(opts Options) *Driver {
	d := &Driver{
		opener:        opts.Opener,
		sink:          opts.Sink,
		logger:        logging.NewComponentLogger(opts.Logger, device),
		metrics:       opts.Metrics,
		baud:          opts.BaudRate,
		pollInterval:  opts.PollInterval,
		outcomePoll:   opts.OutcomePoll,
		insertTimeout: opts.InsertTimeout,
		returnTimeout: opts.ReturnTimeout,
		portName:      strings.TrimSpace(opts.Port),
		publishWarn:   logging.NewThrottle(time.Minute),
	}
	if d.opener == nil {
		d.opener = SerialOpener
	}
	if d.baud <= 0 {
		d.baud = defaultBaudRate
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.outcomePoll <= 0 {
		d.outcomePoll = defaultOutcomePoll
	}
	if d.insertTimeout <= 0 {
		d.insertTimeout = defaultInsertTimeout
	}
	if d.returnTimeout <= 0 {
		d.returnTimeout = defaultReturnTimeout
	}
	d.initialGrace = graceTicks(initialGraceWindow, d.pollInterval)
	d.contactGrace = graceTicks(contactGraceWindow, d.pollInterval)
	d.code.Store(int32(NeverConnected))
	d.grace.Store(d.initialGrace)
	return d
}

// graceTicks converts a grace window into status ticks, rounding up.
func graceTicks(window, poll time.Duration) int32 {
	ticks := (window + poll - 1) / poll
	if ticks > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(max(ticks, 1))
}

// PortName returns the port Connect will open.
func (d *Driver) PortName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.portName
}

// SetPortName changes the port used by the next Connect. An open port is
// left alone.
func (d *Driver) SetPortName(name string) {
	name = strings.TrimSpace(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	if name != d.portName {
		d.logger.Info("autosampler port changed",
			logging.String("from", d.portName),
			logging.String("to", name),
		)
		d.portName = name
	}
}

// Connect opens the port and discards the noise the controller emits on
// reset. Connecting an open driver is a no-op.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return nil
	}
	if d.portName == "" {
		return services.Wrap(services.ErrValidation, device, "connect", "no port configured", nil)
	}
	port, err := d.opener(d.portName, d.baud)
	if err != nil {
		logging.ErrorWithContext(d.logger, "autosampler connect failed", "autosampler_connect_failed",
			logging.String(logging.FieldDevice, d.portName),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the cable and that the port is not held by another process"),
		)
		return services.Wrap(services.ErrNotConnected, device, "connect", d.portName, err)
	}
	buf := make([]byte, 256)
	for i := 0; i < connectDrainReads; i++ {
		if ctx.Err() != nil {
			break
		}
		if _, err := port.Read(buf); err != nil {
			break
		}
	}
	d.port = port
	d.grace.Store(d.initialGrace)
	d.metrics.SetAutosamplerConnected(true)
	d.logger.Info("autosampler connected", logging.String(logging.FieldDevice, d.portName))
	return nil
}

// Disconnect closes the port. The worker reports ConnectionLost afterwards.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	port := d.port
	d.port = nil
	d.mu.Unlock()
	if port == nil {
		return nil
	}
	d.metrics.SetAutosamplerConnected(false)
	d.logger.Info("autosampler disconnected")
	if err := port.Close(); err != nil {
		return fmt.Errorf("close autosampler port: %w", err)
	}
	return nil
}

// Connected reports whether the port is open.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port != nil
}

// Code returns the latest controller status.
func (d *Driver) Code() Code {
	return Code(d.code.Load())
}

// IsError reports whether the controller is in a fault state.
func (d *Driver) IsError() bool {
	return d.Code().IsError()
}

// LastContact returns the time bytes were last received, zero if never.
func (d *Driver) LastContact() time.Time {
	nanos := d.lastContact.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Status returns a consistent enough snapshot for display.
func (d *Driver) Status() Status {
	d.mu.Lock()
	connected := d.port != nil
	name := d.portName
	d.mu.Unlock()
	return Status{
		Code:        d.Code(),
		LastContact: d.LastContact(),
		Connected:   connected,
		Port:        name,
	}
}

// Yell writes raw text to the controller.
func (d *Driver) Yell(text string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		d.logger.Error("autosampler is not connected", logging.String("command", text))
		return ErrNotConnected
	}
	if _, err := port.Write([]byte(text)); err != nil {
		return services.Wrap(services.ErrTransient, device, "write", text, err)
	}
	d.logger.Debug("autosampler command sent", logging.String("command", text))
	return nil
}

// RaiseError forces the controller into HostRaised so it stops until an
// operator intervenes.
func (d *Driver) RaiseError() error {
	return d.Yell("E")
}

// Homing recalibrates the carousel position.
func (d *Driver) Homing() error {
	return d.Yell("h")
}

// MoveTo rotates the carousel to holder.
func (d *Driver) MoveTo(holder int) error {
	if err := checkHolder(holder); err != nil {
		return err
	}
	return d.Yell(fmt.Sprintf("m%d", holder))
}

// InsertSample moves the tube in holder into the magnet. Within a run the
// controller skips homing and the stuck-tube check (inQueue).
func (d *Driver) InsertSample(ctx context.Context, holder int, inQueue bool) error {
	if err := checkHolder(holder); err != nil {
		return err
	}
	command := fmt.Sprintf("M%d", holder)
	if inQueue {
		command = fmt.Sprintf("N%d", holder)
	}
	if err := d.Yell(command); err != nil {
		return err
	}
	return d.await(ctx, "insert", d.insertTimeout, func(code Code) (bool, error) {
		if code == SampleSeated {
			return true, nil
		}
		if code.IsError() {
			return false, &FaultError{Operation: "insert", Holder: holder, Code: code}
		}
		return false, nil
	})
}

// ReturnSample puts the seated tube back into holder.
func (d *Driver) ReturnSample(ctx context.Context, holder int) error {
	if err := checkHolder(holder); err != nil {
		return err
	}
	if err := d.Yell(fmt.Sprintf("R%d", holder)); err != nil {
		return err
	}
	return d.await(ctx, "return", d.returnTimeout, func(code Code) (bool, error) {
		if code == Ready {
			return true, nil
		}
		if code.IsError() {
			return false, &FaultError{Operation: "return", Holder: holder, Code: code}
		}
		return false, nil
	})
}

func (d *Driver) await(ctx context.Context, operation string, timeout time.Duration, check func(Code) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.outcomePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done, err := check(d.Code())
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Before(deadline) {
			return services.Wrap(services.ErrTimeout, device, operation,
				fmt.Sprintf("no outcome after %s (status %s)", timeout, d.Code()), nil)
		}
	}
}

func checkHolder(holder int) error {
	if holder < 1 || holder > 32 {
		return services.Wrap(services.ErrValidation, device, "", fmt.Sprintf("holder %d outside 1..32", holder), nil)
	}
	return nil
}

// Run polls the port until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()

	if port == nil {
		d.setCode(ConnectionLost)
	} else {
		data, err := drain(port)
		if err != nil {
			logging.WarnWithContext(d.logger, "autosampler read failed", "autosampler_read_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the cable; reconnect once the device is back"),
				logging.String(logging.FieldImpact, "autosampler disconnected"),
			)
			d.dropPort(port)
			d.setCode(ConnectionLost)
		} else {
			d.consume(data)
		}
	}
	d.publish(ctx)
}

func drain(port Port) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 64)
	for i := 0; i < maxDrainReads; i++ {
		n, err := port.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				break
			}
			return "", err
		}
		if n < len(buf) {
			break
		}
	}
	return sb.String(), nil
}

func (d *Driver) consume(data string) {
	if data == "" {
		if d.Code() != Busy {
			d.grace.Add(-1)
		}
		if d.grace.Load() <= 0 {
			d.setCode(ConnectionLost)
		}
		return
	}
	d.lastContact.Store(time.Now().UnixNano())
	d.grace.Store(d.contactGrace)
	trimmed := strings.TrimRight(data, " \t\r\n\x00")
	if trimmed == "" {
		return
	}
	if code, ok := ParseCode(trimmed[len(trimmed)-1]); ok {
		d.setCode(code)
	}
}

func (d *Driver) dropPort(port Port) {
	d.mu.Lock()
	if d.port == port {
		d.port = nil
	}
	d.mu.Unlock()
	_ = port.Close()
	d.metrics.SetAutosamplerConnected(false)
}

func (d *Driver) setCode(code Code) {
	previous := Code(d.code.Swap(int32(code)))
	if previous == code {
		return
	}
	d.metrics.SetAutosamplerCode(int(code))
	attrs := []logging.Attr{
		logging.Int("from", int(previous)),
		logging.String("from_meaning", previous.Description()),
		logging.Int("to", int(code)),
		logging.String("to_meaning", code.Description()),
	}
	if code.IsError() || code == ConnectionLost {
		logging.WarnWithContext(d.logger, "autosampler status changed", "autosampler_fault",
			append(attrs,
				logging.String(logging.FieldErrorHint, "inspect the autosampler and reset it from the dashboard"),
				logging.String(logging.FieldImpact, "queue halts until the fault is cleared"),
			)...,
		)
		return
	}
	d.logger.Info("autosampler status changed", logging.Args(attrs...)...)
}

func (d *Driver) publish(ctx context.Context) {
	if d.sink == nil {
		return
	}
	if err := d.sink.PublishAutosamplerStatus(ctx, int(d.Code()), d.LastContact()); err != nil {
		d.publishWarn.Warn(d.logger, "autosampler status publish failed", "autosampler_publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the queue database"),
		)
	}
}
