package workflow

import (
	"context"
	"log/slog"

	"nmrauto/internal/logging"
	"nmrauto/internal/queue"
)

// ProgressMirror copies the spectrometer progress into the store.
type ProgressMirror struct {
	store   *queue.Store
	spectro Spectrometer
	logger  *slog.Logger
	last    int
}

// NewProgressMirror builds a mirror.
func NewProgressMirror(store *queue.Store, spectro Spectrometer, logger *slog.Logger) *ProgressMirror {
	return &ProgressMirror{
		store:   store,
		spectro: spectro,
		logger:  logging.NewComponentLogger(logger, "progress-mirror"),
	}
}

// Tick writes the current progress when it is non-zero and differs from the
// last value written.
func (p *ProgressMirror) Tick(ctx context.Context) error {
	progress := p.spectro.Progress()
	if progress == 0 || progress == p.last {
		return nil
	}
	shim, err := p.store.ShimState(ctx)
	if err != nil {
		return err
	}
	control, err := p.store.QueueControl(ctx)
	if err != nil {
		return err
	}
	if shim.Phase != queue.ShimIdle {
		if err := p.store.SetShimProgress(ctx, progress); err != nil {
			return err
		}
	}
	if control.Running {
		if _, err := p.store.SetRunningProgress(ctx, progress); err != nil {
			return err
		}
	}
	p.last = progress
	p.logger.Debug("progress mirrored", logging.Int("progress", progress))
	return nil
}
