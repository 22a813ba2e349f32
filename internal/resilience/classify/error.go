package classify

import (
	"errors"
	"fmt"
)

// Error is the tagged failure produced at the boundary where an error first
// enters the application (storage adapters, session provider, backend client).
// Carrying the category explicitly means Classify does not have to guess it
// from the message.
type Error struct {
	// Category is the failure kind. Empty means "derive from StatusCode/Err".
	Category Category

	// StatusCode is the HTTP-style status reported by a remote backend, or 0.
	StatusCode int

	// Op names the operation that failed (e.g. "badger.Write").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
	default:
		return msg
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the attached status code.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// Tag wraps err with an explicit category. A nil err yields nil.
func Tag(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Op: op, Err: err}
}

// WithStatus wraps err with an HTTP-style status code. A nil err yields nil.
func WithStatus(status int, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{StatusCode: status, Op: op, Err: err}
}

// StatusCoder is implemented by errors that carry an HTTP-style status.
type StatusCoder interface {
	HTTPStatus() int
}

// Storage tags err as a storage failure (quota exceeded, disk full).
func Storage(op string, err error) error {
	return Tag(CategoryStorage, op, err)
}

// IsCategory reports whether err classifies as one of the given categories
// under the given context.
func IsCategory(err error, context string, set ...Category) bool {
	if err == nil {
		return false
	}
	return Classify(err, context).Category.In(set...)
}

// HasSignal reports whether err itself points at one of the given
// categories through a tag, a status code, a sentinel or a message pattern.
// Unlike IsCategory the operation context is never used as a fallback, so an
// unrecognised error never matches.
func HasSignal(err error, set ...Category) bool {
	if err == nil {
		return false
	}
	return Classify(err, "").Category.In(set...)
}

// taggedCategory extracts an explicit category from the error chain.
func taggedCategory(err error) (Category, bool) {
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Category != "" && tagged.Category.Valid() {
		return tagged.Category, true
	}
	return "", false
}

// statusCode extracts the first non-zero HTTP-style status from the error chain.
func statusCode(err error) int {
	for err != nil {
		var coder StatusCoder
		if !errors.As(err, &coder) {
			return 0
		}
		if code := coder.HTTPStatus(); code != 0 {
			return code
		}
		u, ok := coder.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
