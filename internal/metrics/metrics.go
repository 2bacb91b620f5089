// Package metrics exposes the daemon's prometheus collectors.
//
// All methods are safe on a nil *Metrics so drivers and tests can run
// without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nmrauto"

// Metrics holds the collectors registered for one daemon.
type Metrics struct {
	registry *prometheus.Registry

	autosamplerCode       prometheus.Gauge
	autosamplerConnected  prometheus.Gauge
	spectrometerConnected prometheus.Gauge
	spectrometerProgress  prometheus.Gauge
	queueRunning          prometheus.Gauge
	shimPhase             prometheus.Gauge

	samples        *prometheus.CounterVec // by kind, outcome
	operations     *prometheus.HistogramVec
	decodeErrors   prometheus.Counter
	commands       *prometheus.CounterVec // by device, outcome
	workerRestarts *prometheus.CounterVec // by worker
	evaluations    *prometheus.CounterVec // by outcome
}

// New creates collectors on a fresh registry, including Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		autosamplerCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "autosampler", Name: "errorcode",
			Help: "Last status code reported by the autosampler (-2 lost, -1 never connected)",
		}),
		autosamplerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "autosampler", Name: "connected",
			Help: "1 when the serial port is open",
		}),
		spectrometerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "spectrometer", Name: "connected",
			Help: "1 when the spectrometer socket is open",
		}),
		spectrometerProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "spectrometer", Name: "progress_percent",
			Help: "Progress of the running spectrometer operation",
		}),
		queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "running",
			Help: "QueueStat as last seen by the orchestrator",
		}),
		shimPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "shim_phase",
			Help: "Current shim cascade phase (0 idle .. 5 giving up)",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "samples_total",
			Help: "Samples processed by kind and outcome",
		}, []string{"kind", "outcome"}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "spectrometer", Name: "operation_duration_seconds",
			Help:    "Duration of spectrometer measurements and shims",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 4 * 3600, 12 * 3600, 48 * 3600},
		}, []string{"operation", "outcome"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "spectrometer", Name: "decode_errors_total",
			Help: "Status fragments that could not be parsed and were dropped",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "daemon", Name: "commands_total",
			Help: "Operator commands executed by device and outcome",
		}, []string{"device", "outcome"}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "daemon", Name: "worker_recoveries_total",
			Help: "Loop iterations that ended in an error or panic",
		}, []string{"worker"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluation", Name: "runs_total",
			Help: "Evaluation tool runs by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.autosamplerCode,
		m.autosamplerConnected,
		m.spectrometerConnected,
		m.spectrometerProgress,
		m.queueRunning,
		m.shimPhase,
		m.samples,
		m.operations,
		m.decodeErrors,
		m.commands,
		m.workerRestarts,
		m.evaluations,
	)
	m.autosamplerCode.Set(-1)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func boolGauge(g prometheus.Gauge, value bool) {
	if value {
		g.Set(1)
		return
	}
	g.Set(0)
}

func (m *Metrics) SetAutosamplerCode(code int) {
	if m == nil {
		return
	}
	m.autosamplerCode.Set(float64(code))
}

func (m *Metrics) SetAutosamplerConnected(connected bool) {
	if m == nil {
		return
	}
	boolGauge(m.autosamplerConnected, connected)
}

func (m *Metrics) SetSpectrometerConnected(connected bool) {
	if m == nil {
		return
	}
	boolGauge(m.spectrometerConnected, connected)
}

func (m *Metrics) SetSpectrometerProgress(percent int) {
	if m == nil {
		return
	}
	m.spectrometerProgress.Set(float64(percent))
}

func (m *Metrics) SetQueueRunning(running bool) {
	if m == nil {
		return
	}
	boolGauge(m.queueRunning, running)
}

func (m *Metrics) SetShimPhase(phase int) {
	if m == nil {
		return
	}
	m.shimPhase.Set(float64(phase))
}

// SampleProcessed counts one sample outcome such as finished, failed, or requeued.
func (m *Metrics) SampleProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(kind, outcome).Inc()
}

// ObserveOperation records the duration of a spectrometer operation.
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) CommandExecuted(device string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.commands.WithLabelValues(device, outcome).Inc()
}

func (m *Metrics) WorkerRecovered(worker string) {
	if m == nil {
		return
	}
	m.workerRestarts.WithLabelValues(worker).Inc()
}

func (m *Metrics) EvaluationRun(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}
