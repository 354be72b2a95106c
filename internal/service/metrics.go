package service

import (
	"net/http"
	"time"

	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "domain_router"

// Metrics holds the Prometheus metrics of the routing service
type Metrics struct {
	validations     *prometheus.CounterVec
	compilations    *prometheus.CounterVec
	compileDuration prometheus.Histogram
	applies         *prometheus.CounterVec
	applyDuration   prometheus.Histogram
	edits           *prometheus.CounterVec
	configReloads   *prometheus.CounterVec
	domains         prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "validations_total",
				Help:      "Total number of model validations by result",
			},
			[]string{"result"},
		),
		compilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "compilations_total",
				Help:      "Total number of domain compilations by result",
			},
			[]string{"result"},
		),
		compileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "compile_duration_seconds",
				Help:      "Time spent compiling all enabled domains",
				Buckets:   prometheus.DefBuckets,
			},
		),
		applies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "applies_total",
				Help:      "Total number of apply attempts by result",
			},
			[]string{"result"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of apply attempts including check and reload",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		edits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "edits_total",
				Help:      "Total number of record edits by error code",
			},
			[]string{"code"},
		),
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration file reloads by result",
			},
			[]string{"result"},
		),
		domains: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "domains",
				Help:      "Number of domains included in the last compiled configuration",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.validations,
		m.compilations,
		m.compileDuration,
		m.applies,
		m.applyDuration,
		m.edits,
		m.configReloads,
		m.domains,
	)

	return m
}

// RecordValidation counts a validation run
func (m *Metrics) RecordValidation(valid bool) {
	m.validations.WithLabelValues(result(valid)).Inc()
}

// RecordCompilation counts compiled domains and observes the total time
func (m *Metrics) RecordCompilation(ok int, failed int, duration time.Duration) {
	m.compilations.WithLabelValues("success").Add(float64(ok))
	m.compilations.WithLabelValues("failure").Add(float64(failed))
	m.compileDuration.Observe(duration.Seconds())
	if failed == 0 {
		m.domains.Set(float64(ok))
	}
}

// RecordApply counts an apply attempt
func (m *Metrics) RecordApply(err error, unchanged bool, duration time.Duration) {
	label := "success"
	switch {
	case err != nil:
		label = "failure"
	case unchanged:
		label = "unchanged"
	}
	m.applies.WithLabelValues(label).Inc()
	m.applyDuration.Observe(duration.Seconds())
}

// RecordEdit counts an edit, labelled by the error code or "ok"
func (m *Metrics) RecordEdit(err error) {
	code := "ok"
	if err != nil {
		code = string(lberrors.GetErrorCode(err))
	}
	m.edits.WithLabelValues(code).Inc()
}

// RecordConfigReload counts a configuration file reload
func (m *Metrics) RecordConfigReload(ok bool) {
	m.configReloads.WithLabelValues(result(ok)).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
