package repository

import (
	"context"
	"time"

	"template-studio/internal/domain/entity"
)

// BackupRepository persists document backups. Implementations key records by
// BackupKey.String() and keep only the most recently updated record per key.
//
// Storage failures that mean "out of space" must be tagged with
// classify.Storage so callers can run quota remediation.
type BackupRepository interface {
	// Write stores rec, replacing any older record for the same key.
	Write(ctx context.Context, rec *entity.BackupRecord) error
	// Exists reports whether a record is stored for key.
	Exists(ctx context.Context, key entity.BackupKey) (bool, error)
	// Read returns the record for key, or nil, nil when there is none.
	Read(ctx context.Context, key entity.BackupKey) (*entity.BackupRecord, error)
	// Remove deletes the record for key and reports whether one existed.
	Remove(ctx context.Context, key entity.BackupKey) (bool, error)
	// PruneBefore deletes records last updated before t and returns how many were removed.
	PruneBefore(ctx context.Context, t time.Time) (int, error)
}
