// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes the application metrics:
//   - HTTP request metrics for the operator endpoints
//   - Backup write and recovery outcomes
//   - Recovery queue depth and running executions
//   - Backup store call durations and janitor pruning
//
// All metrics are registered with the Prometheus default registry and exposed
// via the /metrics endpoint of the worker health server.
//
// Example usage:
//
//	start := time.Now()
//	err := repo.Write(ctx, rec)
//	metrics.RecordStoreOperation("badger", "write", time.Since(start))
//	if err == nil {
//	    metrics.RecordBackupWrite(metrics.WriteSuccess)
//	}
package metrics
