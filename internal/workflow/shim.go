package workflow

import (
	"context"
	"log/slog"
	"time"

	"nmrauto/internal/logging"
	"nmrauto/internal/queue"
	"nmrauto/internal/spectrometer"
)

// runShim runs a shim job. A failed CheckShim falls through to up to three
// QuickShims (phases 2, 3, 4) before giving up with LastShim untouched.
func (o *Orchestrator) runShim(ctx context.Context, logger *slog.Logger, sample *queue.Sample) (spectrometer.Outcome, error) {
	kind := spectrometer.ShimKind(sample.Kind)
	logger.Info("begin shimming", logging.String("shim", string(kind)))
	o.setShimPhase(ctx, logger, queue.ShimCheckRequested)

	outcome, err := o.spectro.Shim(ctx, kind)
	if err != nil {
		o.setShimPhase(ctx, logger, queue.ShimIdle)
		return outcome, err
	}
	if outcome.Aborted {
		return outcome, nil
	}

	if kind != spectrometer.ShimCheck {
		if outcome.Success() {
			o.recordShimSuccess(ctx, logger, kind)
		} else {
			o.setShimPhase(ctx, logger, queue.ShimIdle)
		}
		return outcome, nil
	}

	if outcome.Success() {
		o.recordShimSuccess(ctx, logger, kind)
		return outcome, nil
	}
	return o.quickShimCascade(ctx, logger)
}

func (o *Orchestrator) quickShimCascade(ctx context.Context, logger *slog.Logger) (spectrometer.Outcome, error) {
	var (
		outcome spectrometer.Outcome
		err     error
	)
	for phase := queue.ShimQuickPass1; phase < queue.ShimGivingUp; phase++ {
		o.setShimPhase(ctx, logger, phase)
		logger.Info("performing quickshim", logging.String("phase", phase.String()))
		outcome, err = o.spectro.Shim(ctx, spectrometer.ShimQuick)
		if err != nil {
			o.setShimPhase(ctx, logger, queue.ShimIdle)
			return outcome, err
		}
		if outcome.Aborted {
			return outcome, nil
		}
		if outcome.Success() {
			o.recordShimSuccess(ctx, logger, spectrometer.ShimQuick)
			return outcome, nil
		}
	}

	o.setShimPhase(ctx, logger, queue.ShimGivingUp)
	logging.WarnWithContext(logger, "quickshim failed three times", "shim_gave_up",
		logging.String(logging.FieldErrorHint, "check that the shim sample (10% D2O in H2O) is inserted correctly and try again"),
		logging.String(logging.FieldImpact, "magnet left unshimmed; last shim time unchanged"),
	)
	o.setShimPhase(ctx, logger, queue.ShimIdle)
	return outcome, nil
}

func (o *Orchestrator) recordShimSuccess(ctx context.Context, logger *slog.Logger, kind spectrometer.ShimKind) {
	if err := o.store.RecordShimSuccess(ctx, time.Now()); err != nil {
		logger.Error("failed to persist shim success", logging.Error(err))
	}
	o.metrics.SetShimPhase(int(queue.ShimIdle))
	logger.Info("shim successful", logging.String("shim", string(kind)))
}
