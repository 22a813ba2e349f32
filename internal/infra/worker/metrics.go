package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"template-studio/internal/pkg/config"
)

// JanitorMetrics provides Prometheus metrics for the janitor component.
//
// Embedded metrics (from ConfigMetrics):
//   - janitor_config_load_timestamp
//   - janitor_config_validation_errors_total
//   - janitor_config_fallbacks_total
//   - janitor_config_fallback_active
//
// Job metrics:
//   - janitor_job_duration_seconds: duration of each run
//   - janitor_job_last_success_timestamp: Unix time of the last successful run
//
// Run outcomes and pruned counts per store are business metrics and live in
// the observability metrics package (backup_janitor_runs_total,
// backup_janitor_pruned_total).
type JanitorMetrics struct {
	*config.ConfigMetrics

	JobDurationSeconds   prometheus.Histogram
	LastSuccessTimestamp prometheus.Gauge
}

// NewJanitorMetrics creates the metrics on the default registry.
// Call it once per process.
func NewJanitorMetrics() *JanitorMetrics {
	return newJanitorMetrics(prometheus.DefaultRegisterer)
}

// NewJanitorMetricsWithRegistry registers the metrics with reg.
func NewJanitorMetricsWithRegistry(reg prometheus.Registerer) *JanitorMetrics {
	return newJanitorMetrics(reg)
}

func newJanitorMetrics(reg prometheus.Registerer) *JanitorMetrics {
	factory := promauto.With(reg)
	return &JanitorMetrics{
		ConfigMetrics: config.NewConfigMetricsWithRegistry("janitor", reg),

		JobDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "janitor_job_duration_seconds",
			Help:    "Duration of backup janitor runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300},
		}),

		LastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "janitor_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful backup janitor run",
		}),
	}
}

// RecordJobDuration observes the duration of a run in seconds.
func (m *JanitorMetrics) RecordJobDuration(seconds float64) {
	m.JobDurationSeconds.Observe(seconds)
}

// RecordLastSuccess sets the last success timestamp to now.
func (m *JanitorMetrics) RecordLastSuccess() {
	m.LastSuccessTimestamp.SetToCurrentTime()
}
