// Package observability groups the logging, metrics, tracing and SLO
// infrastructure shared by the resilience layer.
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - slo: Backup durability and recovery objectives
//   - tracing: OpenTelemetry spans and HTTP middleware
//
// Example usage:
//
//	import (
//	    "template-studio/internal/observability/logging"
//	    "template-studio/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("recoveryctl started")
//
//	    metrics.RecordBackupWrite(metrics.WriteSuccess)
//	}
package observability
