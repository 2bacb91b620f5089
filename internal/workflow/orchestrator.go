package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/config"
	"nmrauto/internal/evaluation"
	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
	"nmrauto/internal/queue"
	"nmrauto/internal/services"
	"nmrauto/internal/spectrometer"
)

const escalationPoll = time.Second

// Orchestrator runs the sample queue. Its run state is only touched by the
// goroutine calling Tick.
type Orchestrator struct {
	store     *queue.Store
	sampler   Autosampler
	spectro   Spectrometer
	evaluator Evaluator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	tick           time.Duration
	backoff        time.Duration
	escalationWait time.Duration

	// firstSample is true until a sample of the current run has been seated;
	// the autosampler then skips homing for the rest of the run.
	firstSample bool
	// previousHolder and sameSample implement the same-holder latch: the
	// tube stays seated when the next queued sample uses the same holder.
	previousHolder int
	sameSample     bool
}

// NewOrchestrator builds an orchestrator from the workflow config section.
func NewOrchestrator(cfg *config.Config, store *queue.Store, sampler Autosampler, spectro Spectrometer, evaluator Evaluator, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:          store,
		sampler:        sampler,
		spectro:        spectro,
		evaluator:      evaluator,
		logger:         logging.NewComponentLogger(logger, "orchestrator"),
		metrics:        m,
		tick:           cfg.TickInterval(),
		backoff:        time.Duration(cfg.Workflow.ErrorBackoffSeconds) * time.Second,
		escalationWait: time.Duration(cfg.Workflow.EscalationWait) * time.Second,
		firstSample:    true,
	}
}

// Run ticks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started", logging.Duration("tick", o.tick))
	return Supervise(ctx, "orchestrator", o.tick, o.backoff, o.logger, o.metrics, o.Tick)
}

// Tick performs one scheduling step. At most one sample is processed.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if !o.sampler.Connected() || !o.spectro.Connected() {
		return nil
	}
	if o.ready() {
		shim, err := o.store.ShimState(ctx)
		if err != nil {
			return err
		}
		control, err := o.store.QueueControl(ctx)
		if err != nil {
			return err
		}
		o.metrics.SetQueueRunning(control.Running)
		o.metrics.SetShimPhase(int(shim.Phase))

		if control.Running {
			if err := o.runNext(ctx); err != nil {
				return err
			}
		} else if shim.Phase == queue.ShimIdle {
			o.firstSample = true
		}
	}
	return o.haltOnFault(ctx)
}

// ready reports whether the autosampler can take a command: idle, or still
// holding a tube latched for the next sample.
func (o *Orchestrator) ready() bool {
	code := o.sampler.Code()
	return code == autosampler.Ready || (o.sameSample && code == autosampler.SampleSeated)
}

func (o *Orchestrator) haltOnFault(ctx context.Context) error {
	if !o.sampler.Connected() || !o.sampler.IsError() {
		return nil
	}
	code := o.sampler.Code()
	changed, err := o.store.HaltQueue(ctx, "autosampler fault: "+code.Description())
	if err != nil {
		return err
	}
	if changed {
		logging.WarnWithContext(o.logger, "queue halted by autosampler fault", "queue_halted",
			logging.Int("errorcode", int(code)),
			logging.String("meaning", code.Description()),
			logging.String(logging.FieldErrorHint, "clear the fault on the autosampler, then restart the queue"),
			logging.String(logging.FieldImpact, "remaining samples stay queued"),
		)
		o.metrics.SetQueueRunning(false)
	}
	return nil
}

func (o *Orchestrator) runNext(ctx context.Context) error {
	sample, err := o.store.NextSample(ctx)
	if err != nil {
		return err
	}
	if sample == nil {
		changed, err := o.store.HaltQueue(ctx, "queue empty")
		if err != nil {
			return err
		}
		if changed {
			o.logger.Info("queue finished; no samples left")
			o.metrics.SetQueueRunning(false)
		}
		return nil
	}
	return o.process(ctx, sample)
}

func (o *Orchestrator) process(ctx context.Context, sample *queue.Sample) error {
	ctx = services.WithSampleID(ctx, sample.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, o.logger).With(logging.Holder(sample.Holder))

	if err := o.store.MarkRunning(ctx, sample.ID); err != nil {
		return fmt.Errorf("mark sample running: %w", err)
	}
	logger.Info("measuring sample",
		logging.String("name", sample.Name),
		logging.String("kind", string(sample.Kind)),
		logging.Bool("first_of_run", o.firstSample),
	)

	if o.sameSample && o.previousHolder != sample.Holder {
		if err := o.releaseLatchedTube(ctx, logger); err != nil {
			o.fail(ctx, logger, sample, err)
			return nil
		}
	}

	if err := o.insert(ctx, logger, sample); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown during insert; sample stays running for recovery")
			return nil
		}
		o.escalate(ctx, logger, "insert")
		if o.sampler.Code() == autosampler.TubePresent {
			err = services.Wrap(services.ErrRequeue, "autosampler", "insert", "tube found in the spectrometer before start", err)
		}
		o.fail(ctx, logger, sample, err)
		if o.sampler.Code() != autosampler.SampleSeated {
			return nil
		}
	} else {
		outcome, runErr := o.dispatch(ctx, logger, sample)
		if errors.Is(runErr, context.Canceled) {
			logger.Info("shutdown during run; sample stays running for recovery")
			return nil
		}
		o.record(ctx, logger, sample, outcome, runErr)
	}

	o.returnSample(ctx, logger, sample)
	return nil
}

func (o *Orchestrator) insert(ctx context.Context, logger *slog.Logger, sample *queue.Sample) error {
	if !o.firstSample && o.previousHolder == sample.Holder && o.sameSample {
		o.sameSample = false
		logger.Info("sample still seated; skipping insert")
		return nil
	}
	o.sameSample = false
	if err := o.sampler.InsertSample(ctx, sample.Holder, !o.firstSample); err != nil {
		logging.WarnWithContext(logger, "sample insertion failed", "autosampler_insert_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the tube in the holder and the autosampler status"),
			logging.String(logging.FieldImpact, "sample not measured"),
		)
		return err
	}
	return nil
}

// releaseLatchedTube returns a tube kept seated for a sample that has since
// left the queue.
func (o *Orchestrator) releaseLatchedTube(ctx context.Context, logger *slog.Logger) error {
	holder := o.previousHolder
	o.sameSample = false
	logger.Info("returning latched tube before next sample", logging.Int("latched_holder", holder))
	if err := o.sampler.ReturnSample(ctx, holder); err != nil {
		o.escalate(ctx, logger, "return")
		return services.Wrap(services.ErrRequeue, "autosampler", "return", fmt.Sprintf("latched tube from holder %d", holder), err)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, sample *queue.Sample) (spectrometer.Outcome, error) {
	if sample.Kind.IsShim() {
		return o.runShim(ctx, logger, sample)
	}
	m, err := BuildMeasurement(sample)
	if err != nil {
		return spectrometer.Outcome{}, services.Wrap(services.ErrValidation, "spectrometer", "measure", "", err)
	}
	logger.Info("starting measurement",
		logging.String("protocol", m.Protocol),
		logging.Int("scans", sample.Scans),
		logging.Float64("rep_time", sample.RepTime),
	)
	return o.spectro.MeasureSample(ctx, m)
}

func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, sample *queue.Sample, outcome spectrometer.Outcome, runErr error) {
	switch {
	case runErr != nil:
		o.fail(ctx, logger, sample, runErr)
	case outcome.Aborted:
		if err := o.store.MarkFailed(ctx, sample.ID, "aborted by operator"); err != nil {
			logger.Error("failed to persist abort", logging.Error(err))
		}
		o.setShimPhase(ctx, logger, queue.ShimIdle)
		o.metrics.SampleProcessed(string(sample.Kind), "aborted")
		logger.Info("measurement aborted")
	case outcome.Success():
		if err := o.store.MarkFinished(ctx, sample.ID); err != nil {
			logger.Error("failed to persist success", logging.Error(err))
		}
		o.metrics.SampleProcessed(string(sample.Kind), "finished")
		logger.Info("sample measured successfully", logging.Duration("elapsed", outcome.Elapsed))
		o.evaluate(ctx, logger, sample, outcome)
	default:
		reason := "spectrometer reported an unsuccessful run"
		if outcome.State == spectrometer.StateTimedOut {
			reason = "spectrometer did not finish in time"
		}
		o.fail(ctx, logger, sample, services.Wrap(services.ErrDeviceFault, "spectrometer", outcome.State.String(), reason, nil))
	}
}

// fail persists a failed run. Requeue-marked errors put the sample back in
// line instead.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, sample *queue.Sample, cause error) {
	status := services.FailureStatus(cause)
	var err error
	if status == queue.StatusQueued {
		err = o.store.Requeue(ctx, sample.ID)
		o.metrics.SampleProcessed(string(sample.Kind), "requeued")
	} else {
		err = o.store.MarkFailed(ctx, sample.ID, cause.Error())
		o.metrics.SampleProcessed(string(sample.Kind), "failed")
	}
	if err != nil {
		logger.Error("failed to persist sample failure", logging.Error(err))
	}
	logging.WarnWithContext(logger, "sample not measured", "sample_failed",
		logging.String("resolved_status", string(status)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "see the error message on the sample"),
	)
}

func (o *Orchestrator) evaluate(ctx context.Context, logger *slog.Logger, sample *queue.Sample, outcome spectrometer.Outcome) {
	if o.evaluator == nil {
		return
	}
	devices, err := o.store.DeviceConfig(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "evaluation skipped; device settings unreadable", "evaluation_skipped", logging.Error(err))
		return
	}
	req := evaluation.Request{
		SampleID:   sample.ID,
		SampleName: sample.Name,
		Folder:     outcome.Folder,
		MethodID:   sample.MethodID,
		ToolFolder: devices.EvalToolFolder,
	}
	id := sample.ID
	err = o.evaluator.Start(ctx, req, func(result string, evalErr error) {
		if result == "" {
			return
		}
		if err := o.store.SetSampleResult(context.WithoutCancel(ctx), id, result); err != nil {
			logger.Error("failed to store evaluation result", logging.Error(err))
		}
	})
	if err != nil {
		logger.Debug("evaluation not started", logging.Error(err))
	}
}

func (o *Orchestrator) returnSample(ctx context.Context, logger *slog.Logger, sample *queue.Sample) {
	returned := false
	if o.sampler.Code() == autosampler.SampleSeated {
		next, err := o.store.FirstQueued(ctx)
		if err != nil {
			logger.Warn("could not look ahead in queue", logging.Error(err))
		}
		if next != nil && next.Holder == sample.Holder {
			returned = true
			o.sameSample = true
			logger.Info("next sample uses the same holder; keeping tube seated", logging.Int64("next_sample_id", next.ID))
		} else {
			logger.Info("returning sample")
			if err := o.sampler.ReturnSample(ctx, sample.Holder); err != nil {
				logging.WarnWithContext(logger, "sample return failed", "autosampler_return_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check whether the tube is stuck in the spectrometer"),
				)
			} else {
				returned = true
				o.sameSample = false
			}
		}
		o.firstSample = false
		o.previousHolder = sample.Holder
	}
	if !returned {
		o.escalate(ctx, logger, "return")
		logging.WarnWithContext(logger, "sample could not be returned", "sample_not_returned",
			logging.String(logging.FieldErrorHint, "remove the tube manually and reset the autosampler"),
			logging.String(logging.FieldImpact, "queue halts on the autosampler fault"),
		)
	}
}

// escalate waits for the autosampler to report a fault on its own and
// raises one from the host otherwise, so the device stops until an operator
// intervenes.
func (o *Orchestrator) escalate(ctx context.Context, logger *slog.Logger, operation string) {
	deadline := time.Now().Add(o.escalationWait)
	for {
		if o.sampler.IsError() {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(min(remaining, escalationPoll)):
		}
	}
	logging.WarnWithContext(logger, "raising error on autosampler", "autosampler_error_raised",
		logging.String("operation", operation),
		logging.String("reason", fmt.Sprintf("failed to %s sample while errorcode is not known", operation)),
		logging.String(logging.FieldImpact, "autosampler stops until reset"),
	)
	if err := o.sampler.RaiseError(); err != nil {
		logger.Error("could not raise error on autosampler", logging.Error(err))
	}
}

func (o *Orchestrator) setShimPhase(ctx context.Context, logger *slog.Logger, phase queue.ShimPhase) {
	if err := o.store.SetShimPhase(ctx, phase); err != nil {
		logger.Error("failed to persist shim phase", logging.String("phase", phase.String()), logging.Error(err))
		return
	}
	o.metrics.SetShimPhase(int(phase))
}
