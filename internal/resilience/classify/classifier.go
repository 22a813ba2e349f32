package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// Well-known operation contexts used by the editor. Any string is accepted;
// these are the ones with dedicated wording.
const (
	ContextDocumentSave  = "document.save"
	ContextDocumentLoad  = "document.load"
	ContextBackup        = "backup"
	ContextAuthLogin     = "auth.login"
	ContextAuthRefresh   = "auth.refresh"
	ContextAPI           = "api"
	ContextAuthenticated = "authentication"
)

// ClassifiedError is the normalized description of a failure.
// It is a value type; callers must not rely on identity.
type ClassifiedError struct {
	// Category is the single category of the failure
	Category Category

	// Message is safe to show to end users
	Message string

	// TechnicalMessage keeps the raw failure text for diagnostic surfaces
	TechnicalMessage string

	// IsRecoverable reports whether an automatic recovery may succeed
	IsRecoverable bool

	// SuggestedAction is a short imperative hint for the user
	SuggestedAction string
}

// messagePattern maps lower-cased substrings to a category.
type messagePattern struct {
	category Category
	needles  []string
}

// Pattern order matters: the first matching group wins, so more specific
// groups ("connection timed out" is a timeout) come first.
var messagePatterns = []messagePattern{
	{CategoryRateLimit, []string{"too many requests", "rate limit", "rate-limit", "throttl"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryAuthentication, []string{"unauthorized", "unauthenticated", "401", "token expired", "invalid token", "jwt", "session expired", "not authenticated"}},
	{CategoryPermission, []string{"forbidden", "403", "permission denied", "access denied", "not allowed"}},
	{CategoryStorage, []string{"quota", "storage", "disk full", "no space left", "txn is too big", "out of space"}},
	{CategoryNetwork, []string{"fetch", "connection", "network", "econnrefused", "econnreset", "unreachable", "dial tcp", "offline"}},
	{CategoryNotFound, []string{"not found", "404", "no such"}},
	{CategoryServer, []string{"internal server error", "bad gateway", "service unavailable", "502", "503", "500"}},
	{CategoryValidation, []string{"invalid", "validation", "malformed", "required field"}},
}

// contextRule maps an operation-context prefix to the category assumed when
// the failure itself carries no recognisable signal.
type contextRule struct {
	prefix   string
	category Category
}

var contextRules = []contextRule{
	{"auth", CategoryAuthentication},
	{"session", CategoryAuthentication},
	{"storage", CategoryStorage},
	{"backup", CategoryStorage},
	{"document.save", CategoryServer},
	{"api", CategoryNetwork},
	{"network", CategoryNetwork},
	{"fetch", CategoryNetwork},
	{"validation", CategoryValidation},
	{"form", CategoryValidation},
}

// Classify maps err to a ClassifiedError.
//
// Resolution order:
//  1. an explicit category tagged with *Error
//  2. the HTTP-style status code attached to the error chain
//  3. well-known sentinels (context deadline, net timeouts, syscall errors)
//  4. substring patterns on the lower-cased message
//  5. the operation context (e.g. "auth.login", "api")
//
// A nil err classifies as UNKNOWN. Classify never panics.
func Classify(err error, opContext string) ClassifiedError {
	if err == nil {
		return build(CategoryUnknown, "<nil>", opContext)
	}

	technical := safeMessage(err)
	return build(categorize(err, technical, opContext), technical, opContext)
}

// ClassifyValue classifies an arbitrary failure value, such as a recovered
// panic. A value that is not an error carries no signal of its own, so the
// operation context decides the category; without a matching context rule
// it is UNKNOWN.
func ClassifyValue(v any, opContext string) ClassifiedError {
	if err, ok := v.(error); ok {
		return Classify(err, opContext)
	}
	c, ok := contextCategory(opContext)
	if !ok {
		c = CategoryUnknown
	}
	return build(c, fmt.Sprint(v), opContext)
}

func categorize(err error, technical, opContext string) Category {
	if c, ok := taggedCategory(err); ok {
		return c
	}

	if code := statusCode(err); code != 0 {
		if c, ok := statusCategory(code); ok {
			return c
		}
	}

	if c, ok := sentinelCategory(err); ok {
		return c
	}

	if c, ok := patternCategory(technical); ok {
		return c
	}

	if c, ok := contextCategory(opContext); ok {
		return c
	}

	return CategoryUnknown
}

func statusCategory(code int) (Category, bool) {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return CategoryNotFound, true
	case code == http.StatusUnauthorized:
		return CategoryAuthentication, true
	case code == http.StatusForbidden:
		return CategoryPermission, true
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return CategoryTimeout, true
	case code == http.StatusTooManyRequests:
		return CategoryRateLimit, true
	case code == http.StatusRequestEntityTooLarge || code == http.StatusInsufficientStorage:
		return CategoryStorage, true
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusConflict:
		return CategoryValidation, true
	case code >= 500 && code < 600:
		return CategoryServer, true
	default:
		return "", false
	}
}

func sentinelCategory(err error) (Category, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CategoryTimeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout, true
	}

	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return CategoryStorage, true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return CategoryNetwork, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork, true
	}

	return "", false
}

func patternCategory(technical string) (Category, bool) {
	msg := strings.ToLower(technical)
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.category, true
			}
		}
	}
	return "", false
}

func contextCategory(opContext string) (Category, bool) {
	ctx := strings.ToLower(strings.TrimSpace(opContext))
	if ctx == "" {
		return "", false
	}
	for _, rule := range contextRules {
		if strings.HasPrefix(ctx, rule.prefix) {
			return rule.category, true
		}
	}
	return "", false
}

// recoverable applies context overrides on top of the category default.
// A rejected login cannot be fixed by refreshing the session.
func recoverable(c Category, opContext string) bool {
	if c == CategoryAuthentication && strings.HasPrefix(strings.ToLower(opContext), ContextAuthLogin) {
		return false
	}
	return c.Recoverable()
}

func build(c Category, technical, opContext string) ClassifiedError {
	return ClassifiedError{
		Category:         c,
		Message:          baseMessage(c, opContext),
		TechnicalMessage: technical,
		IsRecoverable:    recoverable(c, opContext),
		SuggestedAction:  suggestedAction(c, opContext),
	}
}

// safeMessage returns err.Error(), tolerating panicking Error methods.
func safeMessage(err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("%T (Error() panicked: %v)", err, r)
		}
	}()
	return err.Error()
}
