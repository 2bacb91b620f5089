// Package evaluation runs the external post-processing tool on finished
// spectra. One evaluation runs at a time; callers wait for the previous run
// to finish before theirs starts, but not for their own run to complete.
package evaluation

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nmrauto/internal/fileutil"
	"nmrauto/internal/logging"
	"nmrauto/internal/metrics"
	"nmrauto/internal/services"
)

// NotDetermined is the result recorded when the tool produced nothing usable.
const NotDetermined = "n.d."

const (
	defaultTimeout  = 60 * time.Second
	defaultGatePoll = 500 * time.Millisecond
)

// ErrSkipped is reported when no tool is configured or it is missing.
var ErrSkipped = errors.New("evaluation skipped")

// Request identifies the spectrum to evaluate.
type Request struct {
	SampleID   int64
	SampleName string
	Folder     string
	MethodID   int64
	ToolFolder string
}

// Options configures a Runner.
type Options struct {
	ToolName string
	Timeout  time.Duration
	GatePoll time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Runner owns the single evaluation slot.
type Runner struct {
	toolName string
	timeout  time.Duration
	gatePoll time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewRunner builds a Runner.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		toolName: strings.TrimSpace(opts.ToolName),
		timeout:  opts.Timeout,
		gatePoll: opts.GatePoll,
		logger:   logging.NewComponentLogger(opts.Logger, "evaluation"),
		metrics:  opts.Metrics,
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.gatePoll <= 0 {
		r.gatePoll = defaultGatePoll
	}
	return r
}

// Busy reports whether an evaluation is running.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Start waits for the slot, then evaluates req in the background and calls
// done with the result. It returns once the evaluation has started, or with
// ctx's error if the slot never freed up.
func (r *Runner) Start(ctx context.Context, req Request, done func(result string, err error)) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.Store(false)
		result, err := r.Evaluate(context.WithoutCancel(ctx), req)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

// Wait blocks until background evaluations finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire(ctx context.Context) error {
	for !r.busy.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.gatePoll):
		}
	}
	return nil
}

// Evaluate runs the tool synchronously. The result is the last non-empty
// stdout line, or NotDetermined.
func (r *Runner) Evaluate(ctx context.Context, req Request) (string, error) {
	logger := r.logger.With(logging.SampleID(req.SampleID))
	toolFolder := strings.TrimSpace(req.ToolFolder)
	if toolFolder == "" || r.toolName == "" {
		logger.Debug("evaluation tool not configured; skipping")
		r.metrics.EvaluationRun("skipped")
		return "", ErrSkipped
	}
	tool := filepath.Join(toolFolder, r.toolName)
	if !fileutil.IsExecutable(tool) {
		logging.WarnWithContext(logger, "evaluation tool not found", "evaluation_tool_missing",
			logging.String("tool", tool),
			logging.String(logging.FieldErrorHint, "check eval_tool_folder in the device settings"),
			logging.String(logging.FieldImpact, "spectrum stored without evaluation"),
		)
		r.metrics.EvaluationRun("skipped")
		return "", ErrSkipped
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, tool, req.Folder, strconv.FormatInt(req.MethodID, 10))
	cmd.Dir = toolFolder
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("evaluation started", logging.String("tool", tool), logging.String("folder", req.Folder))
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.metrics.EvaluationRun("timeout")
		logging.WarnWithContext(logger, "evaluation timed out", "evaluation_timeout",
			logging.Duration("timeout", r.timeout),
			logging.String(logging.FieldImpact, "result recorded as not determined"),
		)
		return NotDetermined, services.Wrap(services.ErrTimeout, "evaluation", "run", fmt.Sprintf("after %s", r.timeout), nil)
	}
	if err != nil {
		r.metrics.EvaluationRun("failed")
		logging.WarnWithContext(logger, "evaluation tool failed", "evaluation_failed",
			logging.Error(err),
			logging.String("stderr", strings.TrimSpace(stderr.String())),
			logging.String(logging.FieldImpact, "result recorded as not determined"),
		)
		return NotDetermined, fmt.Errorf("run evaluation tool: %w", err)
	}

	result := lastLine(stdout.Bytes())
	if result == "" {
		result = NotDetermined
	}
	r.metrics.EvaluationRun("ok")
	logger.Info("evaluation finished",
		logging.String("result", result),
		logging.Duration("elapsed", elapsed),
	)
	return result, nil
}

func lastLine(output []byte) string {
	var last string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
