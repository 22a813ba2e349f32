// Package integrity verifies backup records and salvages corrupted content.
// Everything here is pure: no storage access, no goroutines.
package integrity

import (
	"log/slog"
	"strings"

	"template-studio/internal/domain/entity"
)

// Status is the verdict of a verification.
type Status string

// Verification verdicts.
const (
	StatusOK        Status = "ok"
	StatusCorrupted Status = "corrupted"
)

// Result describes the outcome of Verify.
type Result struct {
	Valid   bool
	Status  Status
	Details []string
}

// Checker verifies backup records and attempts content recovery.
type Checker struct {
	logger *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger used for verification diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChecker creates a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify checks that rec is complete and that its content is intact.
//
// Required fields and metadata are always validated. When the record
// carries a checksum that matches its content, the content is exactly what
// was written and nothing else is inspected. Otherwise the content must be
// valid UTF-8 without NUL bytes and, for JSON or HTML records, parse as its
// ContentType.
//
// Every failing check adds one entry to Details.
func (c *Checker) Verify(rec *entity.BackupRecord) Result {
	if rec == nil {
		return corrupted("record is nil")
	}

	var details []string
	if err := rec.Validate(); err != nil {
		details = append(details, err.Error())
	}

	intact := false
	if rec.Meta.Checksum != "" {
		intact = rec.Meta.Checksum == entity.ContentChecksum(rec.Content)
		if !intact {
			details = append(details, "checksum mismatch")
		}
	}
	if !intact {
		details = append(details, structureProblems(rec.Content, rec.Meta.ContentType)...)
	}

	if len(details) > 0 {
		c.logger.Debug("backup failed verification",
			slog.String("backup_id", rec.ID),
			slog.String("key", rec.Key().String()),
			slog.String("details", strings.Join(details, "; ")))
		return Result{Valid: false, Status: StatusCorrupted, Details: details}
	}

	return Result{Valid: true, Status: StatusOK}
}

func corrupted(details ...string) Result {
	return Result{Valid: false, Status: StatusCorrupted, Details: details}
}

// DetectContentType returns the type to record for freshly written content.
// Content is typed JSON or HTML only when it already parses strictly as
// such, so a later Verify never rejects what the editor actually wrote.
func DetectContentType(content string) entity.ContentType {
	if hasInvalidBytes(content) {
		return entity.ContentText
	}
	switch {
	case looksStructured(content) && validJSONStream(content):
		return entity.ContentJSON
	case looksLikeMarkup(content) && checkMarkup(content) == nil:
		return entity.ContentHTML
	}
	return entity.ContentText
}

// structureProblems returns the structural defects of content read as ct.
func structureProblems(content string, ct entity.ContentType) []string {
	var problems []string

	if hasInvalidBytes(content) {
		problems = append(problems, "content contains invalid bytes")
		// Syntax checks on broken bytes would only repeat the same defect.
		return problems
	}

	switch ct.OrText() {
	case entity.ContentJSON:
		if !validJSONStream(content) {
			problems = append(problems, "content is not valid JSON")
		}
	case entity.ContentHTML:
		if err := checkMarkup(content); err != nil {
			problems = append(problems, err.Error())
		}
	}

	return problems
}

// wellFormed reports whether recovered content may replace a corrupted backup.
func wellFormed(content string, ct entity.ContentType) bool {
	return strings.TrimSpace(content) != "" && len(structureProblems(content, ct)) == 0
}
