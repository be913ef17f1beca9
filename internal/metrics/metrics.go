// Package metrics provides Prometheus metrics for the asset registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the registry.
type Metrics struct {
	// Registration outcomes
	Registrations *prometheus.CounterVec

	// Ledger client
	LedgerRequestDuration *prometheus.HistogramVec
	LedgerTimeouts        *prometheus.CounterVec

	// Remote asset resolution
	RemoteFetches   *prometheus.CounterVec
	CacheFills      *prometheus.CounterVec
	IntegrityErrors prometheus.Counter

	// Reconciliation
	ReconcileSweeps   prometheus.Counter
	ReconcileResolved *prometheus.CounterVec

	// Async task queue
	TaskQueueDepth prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9090"
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "asset_registry"
	}

	m := &Metrics{
		Registrations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Registration attempts by asset type and outcome",
			},
			[]string{"asset_type", "outcome"},
		),
		LedgerRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_request_duration_seconds",
				Help:      "Ledger invoke/query round-trip time",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"op", "outcome"},
		),
		LedgerTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_timeouts_total",
				Help:      "Ledger calls whose outcome is unknown",
			},
			[]string{"op"},
		),
		RemoteFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_fetches_total",
				Help:      "Peer payload fetches by outcome",
			},
			[]string{"outcome"},
		),
		CacheFills: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fills_total",
				Help:      "Local cache fills from ledger-resolved content",
			},
			[]string{"asset_type"},
		),
		IntegrityErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_errors_total",
				Help:      "Fetched payloads whose hash did not match the ledger record",
			},
		),
		ReconcileSweeps: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_sweeps_total",
				Help:      "Reconciliation passes over unvalidated records",
			},
		),
		ReconcileResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_resolved_total",
				Help:      "Pending records resolved by the sweeper",
			},
			[]string{"resolution"}, // "validated" | "abandoned"
		),
		TaskQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_queue_depth",
				Help:      "Registrations waiting in the async queue",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncRegistration counts one registration attempt.
func (m *Metrics) IncRegistration(assetType, outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(assetType, outcome).Inc()
}

// ObserveLedgerRequest records a ledger round trip.
func (m *Metrics) ObserveLedgerRequest(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.LedgerRequestDuration.WithLabelValues(op, outcome).Observe(seconds)
}

// IncLedgerTimeout counts an unknown-outcome ledger call.
func (m *Metrics) IncLedgerTimeout(op string) {
	if m == nil {
		return
	}
	m.LedgerTimeouts.WithLabelValues(op).Inc()
}

// IncRemoteFetch counts a peer fetch attempt.
func (m *Metrics) IncRemoteFetch(outcome string) {
	if m == nil {
		return
	}
	m.RemoteFetches.WithLabelValues(outcome).Inc()
}

// IncCacheFill counts a local cache fill.
func (m *Metrics) IncCacheFill(assetType string) {
	if m == nil {
		return
	}
	m.CacheFills.WithLabelValues(assetType).Inc()
}

// IncIntegrityError counts a hash-mismatch rejection.
func (m *Metrics) IncIntegrityError() {
	if m == nil {
		return
	}
	m.IntegrityErrors.Inc()
}

// IncReconcileSweep counts one sweeper pass.
func (m *Metrics) IncReconcileSweep() {
	if m == nil {
		return
	}
	m.ReconcileSweeps.Inc()
}

// IncReconcileResolved counts a record resolved by the sweeper.
func (m *Metrics) IncReconcileResolved(resolution string) {
	if m == nil {
		return
	}
	m.ReconcileResolved.WithLabelValues(resolution).Inc()
}

// SetTaskQueueDepth reports the async queue backlog.
func (m *Metrics) SetTaskQueueDepth(depth float64) {
	if m == nil {
		return
	}
	m.TaskQueueDepth.Set(depth)
}
