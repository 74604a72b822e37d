package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
)

func TestRequireRole_AllowsAtOrAboveMinimum(t *testing.T) {
	admin := Principal{UserID: uuid.New(), Role: domain.RoleAdmin}
	if err := RequireRole(admin, domain.RoleUser); err != nil {
		t.Fatalf("expected admin to satisfy RoleUser minimum, got %v", err)
	}
	if err := RequireRole(admin, domain.RoleAdmin); err != nil {
		t.Fatalf("expected admin to satisfy RoleAdmin minimum, got %v", err)
	}
}

func TestRequireRole_RejectsBelowMinimum(t *testing.T) {
	user := Principal{UserID: uuid.New(), Role: domain.RoleUser}
	if err := RequireRole(user, domain.RoleAdmin); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestWithPrincipal_FromContext_RoundTrip(t *testing.T) {
	want := Principal{UserID: uuid.New(), Role: domain.RoleSuperAdmin}
	ctx := WithPrincipal(context.Background(), want)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected principal to be present in context")
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestFromContext_MissingPrincipal(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no principal in a bare context")
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"password mismatch maps to unauthorized", ErrPasswordMismatch, http.StatusUnauthorized},
		{"unrecognized error maps to internal error", nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusForError(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
