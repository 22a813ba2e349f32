package entity

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// maxContentLength bounds a single backup so a runaway editor state cannot
// exhaust the backup store.
const maxContentLength = 5 << 20

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the structural completeness of a backup record.
// It returns a *ValidationError naming the first failing field.
func (r *BackupRecord) Validate() error {
	if r == nil {
		return &ValidationError{Field: "record", Message: "record is nil"}
	}

	if err := structValidator().Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{
				Field:   strings.ToLower(fe.Namespace()),
				Message: fmt.Sprintf("failed '%s' check", fe.Tag()),
			}
		}
		return fmt.Errorf("validate backup record: %w", err)
	}

	if strings.TrimSpace(r.Content) == "" {
		return &ValidationError{Field: "content", Message: "content is blank"}
	}

	if len(r.Content) > maxContentLength {
		return &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content must not exceed %d bytes", maxContentLength),
		}
	}

	return nil
}

// ValidateKey checks that a backup key addresses a document or a role.
func ValidateKey(k BackupKey) error {
	if k.IsZero() {
		return &ValidationError{Field: "key", Message: ErrInvalidKey.Error()}
	}
	return nil
}
