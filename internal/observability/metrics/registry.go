// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track the operator endpoints (health, readiness, metrics)
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Backup and recovery metrics
var (
	// BackupWritesTotal counts CreateBackup calls by outcome
	BackupWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_writes_total",
			Help: "Total number of backup writes",
		},
		[]string{"outcome"}, // outcome: success|remediated|rejected|failure
	)

	// RecoveriesTotal counts RecoverFromBackup calls by outcome
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_recoveries_total",
			Help: "Total number of backup recoveries",
		},
		[]string{"outcome"}, // outcome: ok|content_recovered|alternative|missing|failed
	)

	// RecoveryQueueDepth tracks recovery requests waiting for a slot
	RecoveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_recovery_queue_depth",
			Help: "Number of recovery requests waiting for an execution slot",
		},
	)

	// RecoveriesInFlight tracks recovery executions currently running
	RecoveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_recoveries_in_flight",
			Help: "Number of recovery executions currently running",
		},
	)

	// RecoveriesDroppedTotal counts queued requests dropped on overflow
	RecoveriesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_recoveries_dropped_total",
			Help: "Total number of queued recovery requests dropped because the queue was full",
		},
	)

	// SessionRecoveriesTotal counts authentication recoveries by outcome
	SessionRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_recoveries_total",
			Help: "Total number of session recovery attempts",
		},
		[]string{"outcome"}, // outcome: refreshed|redirected|skipped
	)
)

// Store metrics track backup store performance
var (
	// StoreOperationDuration measures backup store call duration
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_store_operation_duration_seconds",
			Help:    "Backup store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"store", "operation"},
	)

	// JanitorPrunedTotal counts backups removed by the retention janitor
	JanitorPrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_janitor_pruned_total",
			Help: "Total number of expired backups removed by the janitor",
		},
		[]string{"store"},
	)

	// JanitorRunsTotal counts janitor runs by status
	JanitorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_janitor_runs_total",
			Help: "Total number of janitor runs",
		},
		[]string{"status"}, // status: success|failure
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordStoreOperation records the duration of a backup store call
func RecordStoreOperation(store, operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}
