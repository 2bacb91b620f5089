package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/config"
	"nmrauto/internal/evaluation"
	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
	"nmrauto/internal/preflight"
	"nmrauto/internal/queue"
	"nmrauto/internal/spectrometer"
	"nmrauto/internal/workflow"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another nmrautod instance is already running")

// Options overrides device access, mainly for tests.
type Options struct {
	Opener  autosampler.Opener
	Dialer  spectrometer.Dialer
	Metrics *metrics.Metrics
}

// Daemon owns the devices and background loops for one lab station.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	metrics *metrics.Metrics

	sampler      *autosampler.Driver
	spectro      *spectrometer.Driver
	evaluator    *evaluation.Runner
	orchestrator *workflow.Orchestrator
	mirror       *workflow.ProgressMirror
	hotplug      *hotplugMonitor

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time

	mu      sync.Mutex
	devices queue.DeviceConfig
}

// New constructs a daemon. The live device settings in the store take
// precedence over the config file.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	devices, err := store.DeviceConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load device settings: %w", err)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		metrics:  m,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		devices:  devices,
	}
	d.sampler = autosampler.New(autosampler.Options{
		Port:          devices.AutosamplerPort,
		BaudRate:      cfg.Autosampler.BaudRate,
		PollInterval:  cfg.StatusPollInterval(),
		InsertTimeout: time.Duration(cfg.Autosampler.InsertTimeout) * time.Second,
		ReturnTimeout: time.Duration(cfg.Autosampler.ReturnTimeout) * time.Second,
		Opener:        opts.Opener,
		Sink:          store,
		Logger:        logger,
		Metrics:       m,
	})
	d.spectro = spectrometer.New(spectrometer.Options{
		Host:        devices.SpectrometerHost,
		Port:        devices.SpectrometerPort,
		DialTimeout: time.Duration(cfg.Spectrometer.DialTimeout) * time.Second,
		DataFolder:  devices.DataFolder,
		Flag:        store,
		Dialer:      opts.Dialer,
		Logger:      logger,
		Metrics:     m,
	})
	d.evaluator = evaluation.NewRunner(evaluation.Options{
		ToolName: cfg.Data.EvalToolName,
		Timeout:  time.Duration(cfg.Data.EvalTimeout) * time.Second,
		Logger:   logger,
		Metrics:  m,
	})
	d.orchestrator = workflow.NewOrchestrator(cfg, store, d.sampler, d.spectro, d.evaluator, logger, m)
	d.mirror = workflow.NewProgressMirror(store, d.spectro, logger)
	if cfg.Autosampler.Hotplug {
		d.hotplug = newHotplugMonitor(logger, d.sampler.PortName, d.hotplugAdded, d.hotplugRemoved)
	}
	return d, nil
}

// Run acquires the instance lock and blocks until ctx is cancelled or a
// worker fails to start.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := d.store.ResetRunState(ctx); err != nil {
		return fmt.Errorf("reset run state: %w", err)
	}
	d.logPreflight(ctx)

	api, err := newAPIServer(d.cfg.Paths.APIBind, d, d.logger)
	if err != nil {
		return err
	}
	if err := api.start(ctx); err != nil {
		return err
	}
	defer api.stop()

	d.startedAt = time.Now()
	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("nmrauto daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
		logging.Int("pid", os.Getpid()),
	)

	if err := d.hotplug.Start(ctx); err != nil {
		d.logger.Warn("hotplug monitor unavailable", logging.Error(err))
	}
	defer d.hotplug.Stop()

	backoff := time.Duration(d.cfg.Workflow.ErrorBackoffSeconds) * time.Second
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sampler.Run(gctx) })
	g.Go(func() error { return d.spectro.Run(gctx) })
	g.Go(func() error { return d.orchestrator.Run(gctx) })
	g.Go(func() error {
		return workflow.Supervise(gctx, "progress-mirror", d.cfg.ProgressInterval(), backoff, d.logger, d.metrics, d.mirror.Tick)
	})
	g.Go(func() error {
		return workflow.Supervise(gctx, "commands", d.cfg.CommandPollInterval(), backoff, d.logger, d.metrics, d.processCommands)
	})
	g.Go(func() error {
		return workflow.Supervise(gctx, "device-settings", deviceSettingsPoll, backoff, d.logger, d.metrics, d.syncDeviceSettings)
	})
	g.Go(func() error {
		d.autoconnectSampler(gctx)
		return nil
	})
	g.Go(func() error {
		d.autoconnectSpectrometer(gctx)
		return nil
	})

	err = g.Wait()
	d.shutdown()
	d.logger.Info("nmrauto daemon stopped")
	return err
}

func (d *Daemon) shutdown() {
	if err := d.sampler.Disconnect(); err != nil {
		d.logger.Warn("autosampler disconnect failed", logging.Error(err))
	}
	if err := d.spectro.Disconnect(); err != nil {
		d.logger.Debug("spectrometer disconnect failed", logging.Error(err))
	}
	d.evaluator.Wait()
}

func (d *Daemon) logPreflight(ctx context.Context) {
	devices := d.deviceSettings()
	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg, &devices)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the path or device, then restart the queue"),
		)
	}
}

// Running reports whether Run is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Autosampler exposes the autosampler driver.
func (d *Daemon) Autosampler() *autosampler.Driver {
	return d.sampler
}

// Spectrometer exposes the spectrometer driver.
func (d *Daemon) Spectrometer() *spectrometer.Driver {
	return d.spectro
}
