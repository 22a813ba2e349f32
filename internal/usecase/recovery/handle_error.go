package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"template-studio/internal/domain/entity"
	"template-studio/internal/resilience/classify"
)

// recoverableCategories are the failure kinds a backup can paper over. Other
// kinds (bad input, missing permission) would fail again with the backup.
var recoverableCategories = []classify.Category{
	classify.CategoryNetwork,
	classify.CategoryStorage,
	classify.CategoryServer,
	classify.CategoryTimeout,
}

// ErrorRecoveryResult is the outcome of HandleErrorWithRecovery.
type ErrorRecoveryResult struct {
	Recovered  bool
	Document   *entity.BackupRecord
	Classified classify.ClassifiedError
}

// HasBackupFunc reports whether a backup is available for recovery.
type HasBackupFunc func(ctx context.Context) bool

// RecoverFunc restores the backup for key, returning nil when it cannot.
type RecoverFunc func(ctx context.Context, key entity.BackupKey) *entity.BackupRecord

// HandleErrorWithRecovery classifies err in opContext and restores the backup
// for key when the failure is one a backup can cover (NETWORK, STORAGE,
// SERVER, TIMEOUT) and hasBackup reports one. Any other failure returns
// Recovered false without touching storage.
//
// A nil hasBackup uses HasBackup; a nil recoverFn uses RecoverFromBackup.
func (c *Coordinator) HandleErrorWithRecovery(
	ctx context.Context,
	err error,
	opContext string,
	key entity.BackupKey,
	hasBackup HasBackupFunc,
	recoverFn RecoverFunc,
) (result ErrorRecoveryResult) {
	result.Classified = classify.Classify(err, opContext)
	if !result.Classified.Category.In(recoverableCategories...) {
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during error recovery",
				slog.String("backup_key", key.String()),
				slog.Any("panic", r))
			result.Recovered = false
			result.Document = nil
		}
	}()

	if hasBackup == nil {
		hasBackup = func(ctx context.Context) bool { return c.HasBackup(ctx, key) }
	}
	if recoverFn == nil {
		recoverFn = c.RecoverFromBackup
	}

	if !hasBackup(ctx) {
		c.logger.Debug("no backup to recover from",
			slog.String("backup_key", key.String()),
			slog.String("category", result.Classified.Category.String()))
		return result
	}

	doc := recoverFn(ctx, key)
	if doc == nil {
		c.logger.Warn("error recovery found no usable backup",
			slog.String("backup_key", key.String()),
			slog.String("error", fmt.Sprint(err)))
		return result
	}

	result.Recovered = true
	result.Document = doc
	c.logger.Info("recovered document from backup after failure",
		slog.String("backup_key", key.String()),
		slog.String("category", result.Classified.Category.String()))
	return result
}
