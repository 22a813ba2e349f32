// Package slo tracks service level objectives of the backup layer.
package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets for backup durability and recovery.
const (
	// BackupWriteSLO is the target ratio of backup writes that end up stored
	BackupWriteSLO = 0.999

	// RecoverySLO is the target ratio of recoveries that return a document
	// when a backup exists
	RecoverySLO = 0.99

	// QueueSaturationSLO is the maximum acceptable queue fill ratio
	QueueSaturationSLO = 0.8
)

// SLO tracking gauges, refreshed by the worker on each health evaluation.
var (
	// SLOBackupWriteRatio tracks stored writes / attempted writes (0-1)
	SLOBackupWriteRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_backup_write_ratio",
			Help: "Ratio of backup writes that were stored (0-1), target: 0.999",
		},
	)

	// SLORecoveryRatio tracks recovered / (recovered + failed) (0-1)
	SLORecoveryRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_recovery_ratio",
			Help: "Ratio of recoveries that returned a document (0-1), target: 0.99",
		},
	)

	// SLOQueueSaturation tracks queue depth / queue capacity (0-1)
	SLOQueueSaturation = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_recovery_queue_saturation_ratio",
			Help: "Recovery queue fill ratio (0-1), target: below 0.8",
		},
	)
)

// Counts are the raw totals an SLO evaluation is computed from.
type Counts struct {
	WritesStored   int64
	WritesFailed   int64
	Recovered      int64
	RecoveryFailed int64
	QueueDepth     int
	QueueCapacity  int
}

// Report is the result of one evaluation.
type Report struct {
	BackupWriteRatio float64
	RecoveryRatio    float64
	QueueSaturation  float64
}

// Met reports whether every objective is currently met.
func (r Report) Met() bool {
	return r.BackupWriteRatio >= BackupWriteSLO &&
		r.RecoveryRatio >= RecoverySLO &&
		r.QueueSaturation <= QueueSaturationSLO
}

// Evaluate computes the SLO ratios from c and publishes them.
// With no traffic a ratio is 1.
func Evaluate(c Counts) Report {
	r := Report{
		BackupWriteRatio: ratio(c.WritesStored, c.WritesStored+c.WritesFailed),
		RecoveryRatio:    ratio(c.Recovered, c.Recovered+c.RecoveryFailed),
	}
	if c.QueueCapacity > 0 {
		r.QueueSaturation = float64(c.QueueDepth) / float64(c.QueueCapacity)
	}

	SLOBackupWriteRatio.Set(r.BackupWriteRatio)
	SLORecoveryRatio.Set(r.RecoveryRatio)
	SLOQueueSaturation.Set(r.QueueSaturation)
	return r
}

func ratio(ok, total int64) float64 {
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}
