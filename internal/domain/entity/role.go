package entity

import "strings"

// Role identifies the editor role of the current user.
// Roles only change the wording of user-facing messages inside the
// resilience layer; they never change how a failure is handled.
type Role string

// Role constants mirror the roles issued by the editor's identity provider.
const (
	// RoleAdmin operates the editor and has access to server logs
	RoleAdmin Role = "admin"
	// RoleEditor curates and publishes templates
	RoleEditor Role = "editor"
	// RoleWriter drafts documents from templates
	RoleWriter Role = "writer"
	// RoleViewer has read-only access
	RoleViewer Role = "viewer"
)

// ParseRole normalises a role string. Unknown roles map to RoleViewer.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleEditor, RoleWriter, RoleViewer:
		return r
	default:
		return RoleViewer
	}
}

// IsOperator reports whether the role is expected to diagnose failures
// from server-side logs.
func (r Role) IsOperator() bool {
	return r == RoleAdmin
}
