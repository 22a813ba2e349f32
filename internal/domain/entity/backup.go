package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// BackupStatus values stored in BackupMeta.Status.
const (
	BackupStatusDraft     = "draft"
	BackupStatusRecovered = "recovered"
)

// BackupRecord is a persisted snapshot of in-progress document content.
// A record is keyed by DocumentID when present, otherwise by Role.
// Records are treated as immutable once read from a store.
type BackupRecord struct {
	ID         string     `json:"id" validate:"required"`
	DocumentID string     `json:"document_id,omitempty" validate:"required_without=Role"`
	Role       string     `json:"role,omitempty" validate:"required_without=DocumentID"`
	Title      string     `json:"title"`
	Content    string     `json:"content" validate:"required"`
	CreatedAt  time.Time  `json:"created_at" validate:"required"`
	UpdatedAt  time.Time  `json:"updated_at" validate:"required"`
	Meta       BackupMeta `json:"meta"`
}

// ContentType tells how backup content is structured. Structural checks
// (JSON syntax, balanced markup) only run for the matching type; an empty
// value means plain text.
type ContentType string

// Content types stored in BackupMeta.ContentType.
const (
	ContentText ContentType = "text"
	ContentJSON ContentType = "json"
	ContentHTML ContentType = "html"
)

// OrText returns t, or ContentText when t is empty.
func (t ContentType) OrText() ContentType {
	if t == "" {
		return ContentText
	}
	return t
}

// BackupMeta carries versioning and ownership information for a backup.
type BackupMeta struct {
	Version  int    `json:"version" validate:"gte=1"`
	OwnerID  string `json:"owner_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Checksum string `json:"checksum,omitempty" validate:"omitempty,len=64,hexadecimal"`
	// ContentType is recorded at write time; see ContentType.
	ContentType ContentType `json:"content_type,omitempty" validate:"omitempty,oneof=text json html"`
}

// Key returns the lookup key of the record.
func (r *BackupRecord) Key() BackupKey {
	return BackupKey{DocumentID: r.DocumentID, Role: r.Role}
}

// WithContent returns a copy of the record carrying the given content and a
// refreshed checksum. The receiver is not modified.
func (r *BackupRecord) WithContent(content string) *BackupRecord {
	cp := *r
	cp.Content = content
	cp.Meta.Checksum = ContentChecksum(content)
	return &cp
}

// BackupKey identifies the backup slot of a document. DocumentID takes
// precedence over Role.
type BackupKey struct {
	DocumentID string
	Role       string
}

// DocumentKey returns a key addressing a document's backup.
func DocumentKey(documentID string) BackupKey {
	return BackupKey{DocumentID: documentID}
}

// RoleKey returns a key addressing the role-scoped backup used for
// documents that have not been saved yet.
func RoleKey(role string) BackupKey {
	return BackupKey{Role: role}
}

// IsZero reports whether the key addresses nothing.
func (k BackupKey) IsZero() bool {
	return strings.TrimSpace(k.DocumentID) == "" && strings.TrimSpace(k.Role) == ""
}

// String returns the canonical storage key ("doc:<id>" or "role:<role>").
func (k BackupKey) String() string {
	if k.DocumentID != "" {
		return "doc:" + k.DocumentID
	}
	return "role:" + k.Role
}

// ContentChecksum returns the hex encoded SHA-256 of content.
func ContentChecksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
