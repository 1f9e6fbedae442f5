// Package session holds the authenticated learner context that is passed
// explicitly to the components that need it.
package session

import (
	"context"
	"errors"
)

// Role is the user's role in the school.
type Role string

const (
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Reviewer reports whether the role previews chapters without recording progress.
func (r Role) Reviewer() bool {
	switch r {
	case RoleTeacher, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// ErrNoSession is returned when a request carries no session.
var ErrNoSession = errors.New("no active session")

// User is the authenticated user as reported by the auth service.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Role    Role   `json:"role"`
	GradeID string `json:"gradeId,omitempty"`
}

// Session is one authenticated user with the bearer token that identifies them.
type Session struct {
	Token string
	User  User
}

type ctxKey struct{}

// WithSession attaches a session to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached to ctx.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

// TokenFromContext returns the bearer token of the session on ctx, or "".
func TokenFromContext(ctx context.Context) string {
	s, _ := FromContext(ctx)
	return s.Token
}
