package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"nmrauto/internal/config"
	"nmrauto/internal/daemon"
	"nmrauto/internal/fileutil"
	"nmrauto/internal/logging"
	"nmrauto/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// Run starts the nmrauto daemon and blocks until SIGINT, SIGTERM or the
// context ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logCfg := *cfg
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		logCfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := cfg.EnsureDataFolder(); err != nil {
		logging.WarnWithContext(logger, "data folder unavailable", "data_folder_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the spectrometer share is mounted and writable"),
			logging.String(logging.FieldImpact, "measurements fail until the folder is reachable"),
		)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	d, err := daemon.New(cfg, store, logger, daemon.Options{})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	logSettingsSnapshot(logger, cfg)

	err = d.Run(signalCtx)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("%w (lock %s held by another process)", err, cfg.LockPath())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("nmrauto daemon stopped")
	return nil
}

func logSettingsSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	tool := ""
	if folder := strings.TrimSpace(cfg.Data.EvalToolFolder); folder != "" {
		tool = filepath.Join(folder, cfg.Data.EvalToolName)
	}
	logger.Info("settings snapshot",
		logging.String(logging.FieldEventType, "settings_snapshot"),
		logging.String("state_dir", cfg.Paths.StateDir),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.String("autosampler_port", cfg.Autosampler.Port),
		logging.String("spectrometer", fmt.Sprintf("%s:%d", cfg.Spectrometer.Host, cfg.Spectrometer.Port)),
		logging.String("data_folder", cfg.Data.DataFolder),
		logging.Bool("eval_tool_available", tool != "" && fileutil.IsExecutable(tool)),
		logging.String("eval_tool", tool),
	)
}
