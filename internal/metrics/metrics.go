// Package metrics exposes the engine's Prometheus metrics. Everything hangs
// off one constructor-injected Metrics value with its own registry; the zero
// value is a no-op, which is what tests and the sweep CLI pass around.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamop"

// Metrics collects reconciliation counters and timings.
type Metrics struct {
	reconciliations       *prometheus.CounterVec
	reconciliationSeconds *prometheus.HistogramVec
	lockTimeouts          prometheus.Counter
	storeFailures         *prometheus.CounterVec
	sweeps                *prometheus.CounterVec
	sweepSeconds          prometheus.Histogram
	watchRestarts         prometheus.Counter
	driftDetected         prometheus.Counter
	knownRecords          prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics registering into a fresh private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Reconciliations by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		reconciliationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconciliation_duration_seconds",
				Help:      "Duration of single-stream reconciliations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		lockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_timeouts_total",
				Help:      "Reconciliations skipped because the key lock stayed held",
			},
		),
		storeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_failures_total",
				Help:      "Backing store reconcile failures by store",
			},
			[]string{"store"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Full reconciliation sweeps by outcome",
			},
			[]string{"outcome"},
		),
		sweepSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of full reconciliation sweeps",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
			},
		),
		watchRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_restarts_total",
				Help:      "Times the notification stream was re-established",
			},
		),
		driftDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detected_total",
				Help:      "Reconciliations that found the live topic diverged",
			},
		),
		knownRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "known_records",
				Help:      "Streams with a persisted record after the last sweep",
			},
		),
	}

	registry.MustRegister(
		m.reconciliations,
		m.reconciliationSeconds,
		m.lockTimeouts,
		m.storeFailures,
		m.sweeps,
		m.sweepSeconds,
		m.watchRestarts,
		m.driftDetected,
		m.knownRecords,
	)
	return m
}

// RecordReconciliation counts one finished reconciliation.
func (m *Metrics) RecordReconciliation(trigger, outcome string, duration time.Duration) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(trigger, outcome).Inc()
	m.reconciliationSeconds.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordLockTimeout counts a reconciliation skipped on lock timeout.
func (m *Metrics) RecordLockTimeout() {
	if m == nil || m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// RecordStoreFailure counts a failed store reconcile.
func (m *Metrics) RecordStoreFailure(store string) {
	if m == nil || m.storeFailures == nil {
		return
	}
	m.storeFailures.WithLabelValues(store).Inc()
}

// RecordSweep counts one finished sweep.
func (m *Metrics) RecordSweep(outcome string, duration time.Duration) {
	if m == nil || m.sweeps == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.sweepSeconds.Observe(duration.Seconds())
}

// RecordWatchRestart counts a notification stream restart.
func (m *Metrics) RecordWatchRestart() {
	if m == nil || m.watchRestarts == nil {
		return
	}
	m.watchRestarts.Inc()
}

// RecordDrift counts a detected divergence of a live topic.
func (m *Metrics) RecordDrift() {
	if m == nil || m.driftDetected == nil {
		return
	}
	m.driftDetected.Inc()
}

// SetKnownRecords publishes how many streams have a persisted record.
func (m *Metrics) SetKnownRecords(n int) {
	if m == nil || m.knownRecords == nil {
		return
	}
	m.knownRecords.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	var registry *prometheus.Registry
	if m != nil {
		registry = m.registry
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
