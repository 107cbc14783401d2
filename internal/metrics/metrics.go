// Package metrics holds the Prometheus collectors the runtime updates.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	resolutionTotal      *prometheus.CounterVec
	resolutionDuration   prometheus.Histogram
	unresolvedRequired   prometheus.Gauge
	unresolvedOptional   prometheus.Gauge
	wires                prometheus.Gauge
	dynamicWiresTotal    prometheus.Counter
	transitionsTotal     *prometheus.CounterVec
	modules              *prometheus.GaugeVec
	classLoadsTotal      *prometheus.CounterVec
	shutdownTimeoutTotal prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bindery_resolution_total",
				Help: "Number of resolutions by result.",
			},
			[]string{"result"},
		),
		resolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bindery_resolution_duration_seconds",
				Help:    "Time taken to resolve and commit a batch of modules.",
				Buckets: prometheus.DefBuckets,
			},
		),
		unresolvedRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bindery_resolution_unresolved_required",
				Help: "Number of unresolved mandatory requirements observed in the last resolution.",
			},
		),
		unresolvedOptional: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bindery_resolution_unresolved_optional",
				Help: "Number of unresolved optional requirements observed in the last resolution.",
			},
		),
		wires: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bindery_wiring_wires",
				Help: "Number of wires in the wiring graph.",
			},
		),
		dynamicWiresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bindery_wiring_dynamic_wires_total",
				Help: "Total number of wires created by dynamic imports.",
			},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bindery_lifecycle_transitions_total",
				Help: "Number of lifecycle transitions by kind and result.",
			},
			[]string{"kind", "result"},
		),
		modules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bindery_lifecycle_modules",
				Help: "Number of modules by lifecycle state.",
			},
			[]string{"state"},
		),
		classLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bindery_loader_lookups_total",
				Help: "Number of class and resource lookups by strategy and result.",
			},
			[]string{"strategy", "result"},
		),
		shutdownTimeoutTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bindery_scheduler_shutdown_timeout_total",
				Help: "Number of shutdowns that timed out waiting for in-flight work.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.resolutionTotal,
			m.resolutionDuration,
			m.unresolvedRequired,
			m.unresolvedOptional,
			m.wires,
			m.dynamicWiresTotal,
			m.transitionsTotal,
			m.modules,
			m.classLoadsTotal,
			m.shutdownTimeoutTotal,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveResolution records one resolve-and-commit batch.
func (m *Metrics) ObserveResolution(start time.Time, required, optional int, err error) {
	m.resolutionTotal.WithLabelValues(result(err)).Inc()
	m.resolutionDuration.Observe(time.Since(start).Seconds())
	m.unresolvedRequired.Set(float64(required))
	m.unresolvedOptional.Set(float64(optional))
}

func (m *Metrics) SetWires(n int) { m.wires.Set(float64(n)) }

func (m *Metrics) DynamicWire() { m.dynamicWiresTotal.Inc() }

func (m *Metrics) Transition(kind string, err error) {
	m.transitionsTotal.WithLabelValues(kind, result(err)).Inc()
}

// SetModules replaces the per-state module counts.
func (m *Metrics) SetModules(counts map[string]int) {
	m.modules.Reset()
	for state, n := range counts {
		m.modules.WithLabelValues(state).Set(float64(n))
	}
}

// Lookup records a class or resource lookup. An empty strategy means the
// lookup failed.
func (m *Metrics) Lookup(strategy string) {
	if strategy == "" {
		m.classLoadsTotal.WithLabelValues("none", "not_found").Inc()
		return
	}
	m.classLoadsTotal.WithLabelValues(strategy, "found").Inc()
}

func (m *Metrics) ShutdownTimeout() { m.shutdownTimeoutTotal.Inc() }
