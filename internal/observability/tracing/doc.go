// Package tracing provides OpenTelemetry tracing integration.
//
// Spans are created against the global tracer provider, so the process root
// decides where they go (an SDK provider with an exporter, or the no-op
// default). Recovery and session handling open one span per operation; the
// worker health endpoints are wrapped with Middleware.
//
//	ctx, span := tracing.StartSpan(ctx, "recovery.RecoverFromBackup",
//	    attribute.String("backup.key", key.String()))
//	defer span.End()
package tracing
