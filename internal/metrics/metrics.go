// Package metrics holds the Prometheus collectors for bridge operations.
// A nil *Metrics is valid and records nothing, so the C surface can run
// without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "llamabridge"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	loads              *prometheus.CounterVec
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	generatedTokens    prometheus.Counter
	modelsLoaded       prometheus.Gauge
	outstandingBuffers prometheus.Gauge
}

// New creates the bridge collectors and registers them with reg.
// Passing nil creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "loads_total",
				Help:      "Model load attempts by result",
			},
			[]string{"result"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "generations_total",
				Help:      "Generation calls by result",
			},
			[]string{"result"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "generation_duration_seconds",
				Help:      "Wall time of generation calls in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		generatedTokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "generated_tokens_total",
				Help:      "Tokens produced by successful generations",
			},
		),
		modelsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "models_loaded",
				Help:      "Model instances currently resident",
			},
		),
		outstandingBuffers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "outstanding_buffers",
				Help:      "Strings handed to the caller and not yet freed",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.loads, m.generations, m.generationDuration, m.generatedTokens, m.modelsLoaded, m.outstandingBuffers)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveLoad counts one load attempt.
func (m *Metrics) ObserveLoad(err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result(err)).Inc()
}

// ObserveGeneration counts one generation and, on success, its duration and tokens.
func (m *Metrics) ObserveGeneration(err error, d time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
	if tokens > 0 {
		m.generatedTokens.Add(float64(tokens))
	}
}

// SetModelsLoaded records the number of resident instances.
func (m *Metrics) SetModelsLoaded(n int) {
	if m == nil {
		return
	}
	m.modelsLoaded.Set(float64(n))
}

// SetOutstandingBuffers records the number of live caller-owned strings.
func (m *Metrics) SetOutstandingBuffers(n int) {
	if m == nil {
		return
	}
	m.outstandingBuffers.Set(float64(n))
}
