package workflow

import (
	"context"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/evaluation"
	"nmrauto/internal/spectrometer"
)

// Autosampler is the part of the autosampler driver the orchestrator uses.
type Autosampler interface {
	Connected() bool
	Code() autosampler.Code
	IsError() bool
	InsertSample(ctx context.Context, holder int, inQueue bool) error
	ReturnSample(ctx context.Context, holder int) error
	RaiseError() error
}

// Spectrometer is the part of the spectrometer driver the orchestrator uses.
type Spectrometer interface {
	Connected() bool
	Progress() int
	Shim(ctx context.Context, kind spectrometer.ShimKind) (spectrometer.Outcome, error)
	MeasureSample(ctx context.Context, m spectrometer.Measurement) (spectrometer.Outcome, error)
}

// Evaluator starts post-processing of a finished spectrum.
type Evaluator interface {
	Start(ctx context.Context, req evaluation.Request, done func(result string, err error)) error
}
