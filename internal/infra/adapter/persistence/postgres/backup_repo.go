package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"template-studio/internal/domain/entity"
	"template-studio/internal/repository"
	"template-studio/internal/resilience/classify"
)

// SQLSTATE codes that mean the server ran out of room for the write.
const (
	codeDiskFull             = "53100"
	codeOutOfMemory          = "53200"
	codeProgramLimitExceeded = "54000"
	codeCheckViolation       = "23514"
	codeInvalidText          = "22P02"
	codeUntranslatableChar   = "22P05"
)

type BackupRepo struct{ db *sql.DB }

func NewBackupRepo(db *sql.DB) repository.BackupRepository {
	return &BackupRepo{db: db}
}

func (repo *BackupRepo) Write(ctx context.Context, rec *entity.BackupRecord) error {
	const query = `
INSERT INTO backups (id, backup_key, document_id, role, title, content, meta, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (backup_key) DO UPDATE SET
    id          = EXCLUDED.id,
    document_id = EXCLUDED.document_id,
    role        = EXCLUDED.role,
    title       = EXCLUDED.title,
    content     = EXCLUDED.content,
    meta        = EXCLUDED.meta,
    created_at  = EXCLUDED.created_at,
    updated_at  = EXCLUDED.updated_at
WHERE backups.updated_at <= EXCLUDED.updated_at`

	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("Write: marshal meta: %w", err)
	}

	_, err = repo.db.ExecContext(ctx, query,
		rec.ID, rec.Key().String(), nullString(rec.DocumentID), nullString(rec.Role),
		rec.Title, rec.Content, meta, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return translate("Write", err)
	}
	return nil
}

func (repo *BackupRepo) Exists(ctx context.Context, key entity.BackupKey) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM backups WHERE backup_key = $1)`
	var exists bool
	if err := repo.db.QueryRowContext(ctx, query, key.String()).Scan(&exists); err != nil {
		return false, translate("Exists", err)
	}
	return exists, nil
}

func (repo *BackupRepo) Read(ctx context.Context, key entity.BackupKey) (*entity.BackupRecord, error) {
	const query = `
SELECT id, document_id, role, title, content, meta, created_at, updated_at
FROM backups
WHERE backup_key = $1
LIMIT 1`
	var (
		rec        entity.BackupRecord
		documentID sql.NullString
		role       sql.NullString
		meta       []byte
	)
	err := repo.db.QueryRowContext(ctx, query, key.String()).Scan(
		&rec.ID, &documentID, &role, &rec.Title, &rec.Content, &meta,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate("Read", err)
	}

	rec.DocumentID = documentID.String
	rec.Role = role.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Meta); err != nil {
			return nil, fmt.Errorf("Read: unmarshal meta: %w", err)
		}
	}
	return &rec, nil
}

func (repo *BackupRepo) Remove(ctx context.Context, key entity.BackupKey) (bool, error) {
	const query = `DELETE FROM backups WHERE backup_key = $1`
	res, err := repo.db.ExecContext(ctx, query, key.String())
	if err != nil {
		return false, translate("Remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Remove: %w", err)
	}
	return n > 0, nil
}

func (repo *BackupRepo) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	const query = `DELETE FROM backups WHERE updated_at < $1`
	res, err := repo.db.ExecContext(ctx, query, t)
	if err != nil {
		return 0, translate("PruneBefore", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PruneBefore: %w", err)
	}
	return int(n), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// translate tags server errors whose meaning the classifier cannot read from
// the message alone.
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeDiskFull, codeOutOfMemory, codeProgramLimitExceeded:
			return classify.Storage("postgres."+op, err)
		case codeCheckViolation, codeInvalidText, codeUntranslatableChar:
			return classify.Tag(classify.CategoryValidation, "postgres."+op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
