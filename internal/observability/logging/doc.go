// Package logging provides structured logging utilities with context propagation.
//
// Key features:
//   - JSON, text and colourised console output
//   - Backup key propagation through context
//   - Configurable log levels (LOG_LEVEL)
//
// Example usage:
//
//	logger := logging.NewLogger()
//	ctx = logging.ContextWithBackupKey(ctx, key.String())
//	logging.WithBackupKey(ctx, logger).Info("recovering backup")
package logging
