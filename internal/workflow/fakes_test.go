package workflow

import (
	"context"
	"sync"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/evaluation"
	"nmrauto/internal/spectrometer"
)

type samplerCall struct {
	Op      string
	Holder  int
	InQueue bool
}

type fakeSampler struct {
	mu        sync.Mutex
	connected bool
	code      autosampler.Code
	calls     []samplerCall
	// insertFault is the code the carousel reports instead of seating.
	insertFault autosampler.Code
	insertErr   error
	returnErr   error
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{connected: true, code: autosampler.Ready}
}

func (f *fakeSampler) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSampler) Code() autosampler.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeSampler) IsError() bool {
	return f.Code().IsError()
}

func (f *fakeSampler) setCode(code autosampler.Code) {
	f.mu.Lock()
	f.code = code
	f.mu.Unlock()
}

func (f *fakeSampler) InsertSample(_ context.Context, holder int, inQueue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, samplerCall{Op: "insert", Holder: holder, InQueue: inQueue})
	if f.insertErr != nil {
		if f.insertFault != 0 {
			f.code = f.insertFault
		}
		return f.insertErr
	}
	f.code = autosampler.SampleSeated
	return nil
}

func (f *fakeSampler) ReturnSample(_ context.Context, holder int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, samplerCall{Op: "return", Holder: holder})
	if f.returnErr != nil {
		return f.returnErr
	}
	f.code = autosampler.Ready
	return nil
}

func (f *fakeSampler) RaiseError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, samplerCall{Op: "raise"})
	f.code = autosampler.HostRaised
	return nil
}

func (f *fakeSampler) Calls() []samplerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]samplerCall(nil), f.calls...)
}

type fakeSpectrometer struct {
	mu           sync.Mutex
	connected    bool
	progress     int
	shims        []spectrometer.ShimKind
	shimResults  []spectrometer.Outcome
	measurements []spectrometer.Measurement
	measureOut   spectrometer.Outcome
	measureErr   error

	// onShim runs before each scripted shim outcome is returned.
	onShim func(spectrometer.ShimKind)
}

func newFakeSpectrometer() *fakeSpectrometer {
	return &fakeSpectrometer{
		connected:  true,
		measureOut: spectrometer.Outcome{State: spectrometer.StateCompletedSuccess, Folder: "/data/run"},
	}
}

func (f *fakeSpectrometer) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSpectrometer) Progress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *fakeSpectrometer) setProgress(p int) {
	f.mu.Lock()
	f.progress = p
	f.mu.Unlock()
}

// Shim pops the next scripted outcome; an exhausted script fails.
func (f *fakeSpectrometer) Shim(_ context.Context, kind spectrometer.ShimKind) (spectrometer.Outcome, error) {
	if f.onShim != nil {
		f.onShim(kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shims = append(f.shims, kind)
	if len(f.shimResults) == 0 {
		return spectrometer.Outcome{State: spectrometer.StateCompletedFail}, nil
	}
	out := f.shimResults[0]
	f.shimResults = f.shimResults[1:]
	return out, nil
}

func (f *fakeSpectrometer) MeasureSample(_ context.Context, m spectrometer.Measurement) (spectrometer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measurements = append(f.measurements, m)
	return f.measureOut, f.measureErr
}

func (f *fakeSpectrometer) Shims() []spectrometer.ShimKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spectrometer.ShimKind(nil), f.shims...)
}

func (f *fakeSpectrometer) Measurements() []spectrometer.Measurement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spectrometer.Measurement(nil), f.measurements...)
}

type fakeEvaluator struct {
	mu       sync.Mutex
	result   string
	requests []evaluation.Request
}

func (f *fakeEvaluator) Start(_ context.Context, req evaluation.Request, done func(string, error)) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	result := f.result
	f.mu.Unlock()
	done(result, nil)
	return nil
}

func (f *fakeEvaluator) Requests() []evaluation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]evaluation.Request(nil), f.requests...)
}

var (
	succeeded = spectrometer.Outcome{State: spectrometer.StateCompletedSuccess}
	failed    = spectrometer.Outcome{State: spectrometer.StateCompletedFail}
	aborted   = spectrometer.Outcome{State: spectrometer.StateAborted, Aborted: true}
)
