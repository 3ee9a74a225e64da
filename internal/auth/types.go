package auth

import (
	"errors"
	"slices"
)

// Role represents an authorisation tier in the lab.
type Role string

const (
	// RoleStudent books devices and operates the ones they hold a booking on.
	RoleStudent Role = "student"

	// RoleTeacher manages any booking, runs pairing and publishes lab
	// updates and results.
	RoleTeacher Role = "teacher"

	// RoleAdmin has full control including group metadata and the audit trail.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleStudent, RoleTeacher, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// IsPrivileged reports whether r may act on other users' bookings and
// receives every booking notification.
func (r Role) IsPrivileged() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// PrivilegedRoles are the roles that receive every booking notification.
var PrivilegedRoles = []Role{RoleTeacher, RoleAdmin}

// Identity is the authenticated caller of a request or WebSocket session.
type Identity struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name,omitempty"`
	Role   Role     `json:"role"`
	Labs   []string `json:"labs,omitempty"`
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
