package daemon

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"nmrauto/internal/logging"
	"nmrauto/internal/queue"
)

const deviceSettingsPoll = 2 * time.Second

// autoconnectSpectrometer retries the socket a fixed number of times at
// startup. After that only operator commands reconnect it.
func (d *Daemon) autoconnectSpectrometer(ctx context.Context) {
	attempts := d.cfg.Spectrometer.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(d.cfg.Spectrometer.ConnectRetryDelay) * time.Second
	err := retry.Do(
		func() error { return d.spectro.Connect(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Info("spectrometer not reachable; retrying",
				logging.Int("attempt", int(n)+1),
				logging.Int("attempts", attempts),
				logging.Duration("delay", delay),
			)
		}),
	)
	if err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "spectrometer auto-connect gave up", "spectrometer_autoconnect_failed",
			logging.Int("attempts", attempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "start the spectrometer software, then run 'nmrauto spectrometer connect'"),
			logging.String(logging.FieldImpact, "queue does not run until the spectrometer is connected"),
		)
	}
}

// autoconnectSampler opens the configured tty once at startup. A missing
// device is left to the hotplug monitor.
func (d *Daemon) autoconnectSampler(ctx context.Context) {
	if d.sampler.PortName() == "" {
		d.logger.Info("no autosampler port configured; skipping auto-connect")
		return
	}
	if err := d.sampler.Connect(ctx); err != nil {
		d.logger.Info("autosampler not connected at startup", logging.Error(err))
	}
}

func (d *Daemon) hotplugAdded(ctx context.Context, device string) {
	if d.sampler.Connected() {
		return
	}
	if err := d.sampler.Connect(ctx); err != nil {
		d.logger.Warn("autosampler hotplug connect failed",
			logging.String(logging.FieldDevice, device),
			logging.Error(err),
		)
	}
}

func (d *Daemon) hotplugRemoved(_ context.Context, device string) {
	if !d.sampler.Connected() {
		return
	}
	logging.WarnWithContext(d.logger, "autosampler unplugged", "autosampler_unplugged",
		logging.String(logging.FieldDevice, device),
		logging.String(logging.FieldImpact, "queue halts until the autosampler is back"),
	)
	if err := d.sampler.Disconnect(); err != nil {
		d.logger.Debug("autosampler disconnect after unplug failed", logging.Error(err))
	}
}

// syncDeviceSettings applies edits operators made to the device_config row.
func (d *Daemon) syncDeviceSettings(ctx context.Context) error {
	latest, err := d.store.DeviceConfig(ctx)
	if err != nil {
		return err
	}
	d.applyDeviceSettings(latest)
	return nil
}

func (d *Daemon) applyDeviceSettings(latest queue.DeviceConfig) {
	d.mu.Lock()
	previous := d.devices
	d.devices = latest
	d.mu.Unlock()

	if latest.AutosamplerPort != previous.AutosamplerPort {
		d.sampler.SetPortName(latest.AutosamplerPort)
	}
	if latest.SpectrometerHost != previous.SpectrometerHost || latest.SpectrometerPort != previous.SpectrometerPort {
		d.spectro.SetAddress(latest.SpectrometerHost, latest.SpectrometerPort)
		d.logger.Info("spectrometer address changed; reconnect to apply",
			logging.String("address", d.spectro.Address()),
		)
	}
	if latest.DataFolder != previous.DataFolder {
		d.spectro.SetDataFolder(latest.DataFolder)
		d.logger.Info("data folder changed", logging.String("data_folder", latest.DataFolder))
	}
}

func (d *Daemon) deviceSettings() queue.DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices
}
