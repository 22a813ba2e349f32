package classify

import (
	"fmt"
	"strings"

	"template-studio/internal/domain/entity"
)

var categoryMessages = map[Category]string{
	CategoryNetwork:        "We couldn't reach the server. Check your connection.",
	CategoryAuthentication: "Your session has expired. Please sign in again.",
	CategoryPermission:     "You don't have permission to do that.",
	CategoryValidation:     "Some of the information entered is not valid.",
	CategoryNotFound:       "The requested item could not be found.",
	CategoryServer:         "The server ran into a problem.",
	CategoryTimeout:        "The request took too long to complete.",
	CategoryRateLimit:      "Too many requests were sent. Please wait a moment.",
	CategoryStorage:        "Local storage is full or unavailable.",
	CategoryUnknown:        "Something went wrong.",
}

var categoryActions = map[Category]string{
	CategoryNetwork:        "Retry once your connection is restored.",
	CategoryAuthentication: "Sign in again to continue.",
	CategoryPermission:     "Ask an administrator for access.",
	CategoryValidation:     "Review the highlighted fields and try again.",
	CategoryNotFound:       "Check that the item still exists.",
	CategoryServer:         "Try again in a few minutes.",
	CategoryTimeout:        "Try again.",
	CategoryRateLimit:      "Wait a few seconds before retrying.",
	CategoryStorage:        "Free up browser storage and try again.",
	CategoryUnknown:        "Reload the page and try again.",
}

// contextSubjects phrase the operation for the message prefix.
var contextSubjects = map[string]string{
	ContextDocumentSave: "Saving your document failed.",
	ContextDocumentLoad: "Loading the document failed.",
	ContextBackup:       "Backing up your draft failed.",
	ContextAuthLogin:    "Signing in failed.",
	ContextAuthRefresh:  "Refreshing your session failed.",
}

func baseMessage(c Category, opContext string) string {
	msg := categoryMessages[c]
	if msg == "" {
		msg = categoryMessages[CategoryUnknown]
	}
	if c == CategoryAuthentication && strings.HasPrefix(strings.ToLower(opContext), ContextAuthLogin) {
		msg = "The username or password is incorrect."
	}
	if subject, ok := contextSubjects[strings.ToLower(opContext)]; ok {
		return subject + " " + msg
	}
	return msg
}

func suggestedAction(c Category, opContext string) string {
	if c == CategoryAuthentication && strings.HasPrefix(strings.ToLower(opContext), ContextAuthLogin) {
		return "Check your credentials and try again."
	}
	if strings.ToLower(opContext) == ContextDocumentSave && c.Recoverable() {
		return "Your draft is kept locally. " + categoryActions[c]
	}
	if action, ok := categoryActions[c]; ok {
		return action
	}
	return categoryActions[CategoryUnknown]
}

// UserMessage derives the message shown to a user with the given role.
// The role changes the wording only; the category is the same for every role.
func UserMessage(err error, opContext string, role entity.Role) string {
	return MessageForRole(Classify(err, opContext), role)
}

// MessageForRole renders a classified error for the given role.
func MessageForRole(ce ClassifiedError, role entity.Role) string {
	var b strings.Builder
	b.WriteString(ce.Message)

	switch {
	case role.IsOperator():
		b.WriteString(" Check the server logs for details (category ")
		b.WriteString(ce.Category.String())
		b.WriteString(").")
	case role == entity.RoleViewer && !ce.IsRecoverable:
		b.WriteString(" Contact an editor if the problem persists.")
	case ce.SuggestedAction != "":
		b.WriteString(" ")
		b.WriteString(ce.SuggestedAction)
	}

	return b.String()
}

// TechnicalDetails renders the diagnostic line kept for logs and operator
// surfaces. It is never shown to end users.
func TechnicalDetails(err error, opContext string) string {
	ce := Classify(err, opContext)
	parts := []string{fmt.Sprintf("[%s]", ce.Category)}
	if opContext != "" {
		parts = append(parts, "context="+opContext)
	}
	if code := statusCode(err); code != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", code))
	}
	parts = append(parts, fmt.Sprintf("recoverable=%t", ce.IsRecoverable))
	parts = append(parts, "error="+ce.TechnicalMessage)
	return strings.Join(parts, " ")
}
