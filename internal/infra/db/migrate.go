package db

import (
	"database/sql"
)

// MigrateUp creates the backup schema. Every statement is idempotent.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS backups (
    id          UUID PRIMARY KEY,
    backup_key  TEXT NOT NULL UNIQUE,
    document_id TEXT,
    role        TEXT,
    title       TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    meta        JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (document_id IS NOT NULL OR role IS NOT NULL)
)`); err != nil {
		return err
	}

	indexes := []string{
		// retention janitor: DELETE ... WHERE updated_at < $1
		`CREATE INDEX IF NOT EXISTS idx_backups_updated_at ON backups(updated_at)`,
		// operator lookups of role-scoped drafts
		`CREATE INDEX IF NOT EXISTS idx_backups_role ON backups(role) WHERE document_id IS NULL`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown rolls back the backup schema.
// Use with caution: this deletes every stored backup.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_backups_role`,
		`DROP INDEX IF EXISTS idx_backups_updated_at`,
		`DROP TABLE IF EXISTS backups`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
