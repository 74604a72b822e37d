package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
)

// ErrForbidden is returned by RequireRole when the caller's role does not
// meet the minimum required.
var ErrForbidden = errors.New("auth: insufficient role")

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// Principal is the authenticated identity attached to a request context by
// the access-token middleware.
type Principal struct {
	UserID uuid.UUID
	Role   domain.Role
}

// WithPrincipal returns a context carrying p, read back by FromContext.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the authenticated Principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// RequireRole returns ErrForbidden unless p.Role.AtLeast(min).
func RequireRole(p Principal, min domain.Role) error {
	if !p.Role.AtLeast(min) {
		return ErrForbidden
	}
	return nil
}

// StatusForError maps an auth error to the HTTP status a handler should
// return for it.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrPasswordMismatch):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
