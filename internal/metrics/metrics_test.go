package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordValues(t *testing.T) {
	m := New()

	m.SetAutosamplerCode(3)
	if got := testutil.ToFloat64(m.autosamplerCode); got != 3 {
		t.Fatalf("expected errorcode gauge 3, got %f", got)
	}

	m.SetQueueRunning(true)
	if got := testutil.ToFloat64(m.queueRunning); got != 1 {
		t.Fatalf("expected queue running gauge 1, got %f", got)
	}

	m.SampleProcessed("Sample", "finished")
	m.SampleProcessed("Sample", "finished")
	if got := testutil.ToFloat64(m.samples.WithLabelValues("Sample", "finished")); got != 2 {
		t.Fatalf("expected 2 finished samples, got %f", got)
	}

	m.ObserveOperation("measure", "success", 90*time.Second)
	if samples := testutil.CollectAndCount(m.operations); samples != 1 {
		t.Fatalf("expected one histogram series, got %d", samples)
	}

	m.CommandExecuted("autosampler", false)
	if got := testutil.ToFloat64(m.commands.WithLabelValues("autosampler", "failed")); got != 1 {
		t.Fatalf("expected failed command counter 1, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SetAutosamplerCode(2)
	m.SetSpectrometerConnected(true)
	m.DecodeError()
	m.WorkerRecovered("orchestrator")
	m.EvaluationRun("ok")
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.DecodeError()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "nmrauto_spectrometer_decode_errors_total 1") {
		t.Fatalf("expected decode error counter in output:\n%s", body)
	}
	if !strings.Contains(body, "nmrauto_autosampler_errorcode -1") {
		t.Fatalf("expected initial errorcode in output:\n%s", body)
	}
}
