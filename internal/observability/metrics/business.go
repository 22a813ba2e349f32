package metrics

// Backup write outcomes.
const (
	WriteSuccess    = "success"
	WriteRemediated = "remediated"
	WriteRejected   = "rejected"
	WriteFailure    = "failure"
)

// Recovery outcomes.
const (
	RecoveryOK               = "ok"
	RecoveryContentRecovered = "content_recovered"
	RecoveryAlternative      = "alternative"
	RecoveryMissing          = "missing"
	RecoveryFailed           = "failed"
)

// RecordBackupWrite records the outcome of a backup write.
func RecordBackupWrite(outcome string) {
	BackupWritesTotal.WithLabelValues(outcome).Inc()
}

// RecordRecovery records the outcome of a recovery from backup.
func RecordRecovery(outcome string) {
	RecoveriesTotal.WithLabelValues(outcome).Inc()
}

// UpdateRecoveryQueue publishes the coordinator's queue depth and running
// executions. Both values are gauges and reflect the latest call.
func UpdateRecoveryQueue(depth, inFlight int) {
	RecoveryQueueDepth.Set(float64(depth))
	RecoveriesInFlight.Set(float64(inFlight))
}

// RecordRecoveryDropped records a queued recovery request dropped on overflow.
func RecordRecoveryDropped() {
	RecoveriesDroppedTotal.Inc()
}

// RecordSessionRecovery records the outcome of an authentication recovery.
// Outcome is one of "refreshed", "redirected" or "skipped".
func RecordSessionRecovery(outcome string) {
	SessionRecoveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordJanitorRun records one janitor run and how many backups each store pruned.
func RecordJanitorRun(pruned map[string]int, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	JanitorRunsTotal.WithLabelValues(status).Inc()

	for store, n := range pruned {
		if n > 0 {
			JanitorPrunedTotal.WithLabelValues(store).Add(float64(n))
		}
	}
}
