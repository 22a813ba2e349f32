package circuitbreaker

import (
	"context"
	"time"

	"template-studio/internal/domain/entity"
	"template-studio/internal/repository"
)

// BackupRepository wraps a backup repository with circuit breaker protection.
// It keeps a remote backup store (postgres, redis) from being hammered while
// it is degraded: once the breaker opens, calls fail fast with ErrOpen.
type BackupRepository struct {
	cb   *CircuitBreaker
	repo repository.BackupRepository
}

var _ repository.BackupRepository = (*BackupRepository)(nil)

// NewBackupRepository wraps repo with a breaker built from BackupStoreConfig.
func NewBackupRepository(repo repository.BackupRepository, opts ...Option) *BackupRepository {
	return NewBackupRepositoryWithBreaker(repo, New(BackupStoreConfig(), opts...))
}

// NewBackupRepositoryWithBreaker wraps repo with an existing breaker.
func NewBackupRepositoryWithBreaker(repo repository.BackupRepository, cb *CircuitBreaker) *BackupRepository {
	return &BackupRepository{cb: cb, repo: repo}
}

// Write stores rec with circuit breaker protection.
func (r *BackupRepository) Write(ctx context.Context, rec *entity.BackupRecord) error {
	return r.cb.Call(ctx, func(ctx context.Context) error {
		return r.repo.Write(ctx, rec)
	})
}

// Exists checks for a record with circuit breaker protection.
func (r *BackupRepository) Exists(ctx context.Context, key entity.BackupKey) (bool, error) {
	return Do(ctx, r.cb, func(ctx context.Context) (bool, error) {
		return r.repo.Exists(ctx, key)
	})
}

// Read fetches a record with circuit breaker protection.
func (r *BackupRepository) Read(ctx context.Context, key entity.BackupKey) (*entity.BackupRecord, error) {
	return Do(ctx, r.cb, func(ctx context.Context) (*entity.BackupRecord, error) {
		return r.repo.Read(ctx, key)
	})
}

// Remove deletes a record with circuit breaker protection.
func (r *BackupRepository) Remove(ctx context.Context, key entity.BackupKey) (bool, error) {
	return Do(ctx, r.cb, func(ctx context.Context) (bool, error) {
		return r.repo.Remove(ctx, key)
	})
}

// PruneBefore prunes old records with circuit breaker protection.
func (r *BackupRepository) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	return Do(ctx, r.cb, func(ctx context.Context) (int, error) {
		return r.repo.PruneBefore(ctx, t)
	})
}

// Breaker returns the breaker guarding the repository.
func (r *BackupRepository) Breaker() *CircuitBreaker {
	return r.cb
}

// Unwrap returns the protected repository.
func (r *BackupRepository) Unwrap() repository.BackupRepository {
	return r.repo
}
