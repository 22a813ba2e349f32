// Package memory keeps backups in process memory. It backs tests and the
// "memory" store setting of recoveryctl.
package memory

import (
	"context"
	"sync"
	"time"

	"template-studio/internal/domain/entity"
	"template-studio/internal/repository"
)

// BackupRepo is a concurrency-safe in-memory repository.BackupRepository.
// Records are copied on the way in and out.
type BackupRepo struct {
	mu      sync.RWMutex
	records map[string]entity.BackupRecord
}

var _ repository.BackupRepository = (*BackupRepo)(nil)

// NewBackupRepo returns an empty repository.
func NewBackupRepo() *BackupRepo {
	return &BackupRepo{records: make(map[string]entity.BackupRecord)}
}

// Write stores rec under its key. A record older than the stored one is
// dropped without error.
func (r *BackupRepo) Write(ctx context.Context, rec *entity.BackupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := rec.Key().String()
	if cur, ok := r.records[k]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
		return nil
	}
	r.records[k] = *rec
	return nil
}

// Exists reports whether a record is stored under key.
func (r *BackupRepo) Exists(ctx context.Context, key entity.BackupKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[key.String()]
	return ok, nil
}

// Read returns a copy of the record under key, or nil, nil when there is none.
func (r *BackupRepo) Read(ctx context.Context, key entity.BackupKey) (*entity.BackupRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key.String()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Remove deletes the record under key and reports whether one existed.
func (r *BackupRepo) Remove(ctx context.Context, key entity.BackupKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key.String()
	_, ok := r.records[k]
	delete(r.records, k)
	return ok, nil
}

// PruneBefore deletes records last updated before t and returns how many
// were removed.
func (r *BackupRepo) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, rec := range r.records {
		if rec.UpdatedAt.Before(t) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (r *BackupRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
