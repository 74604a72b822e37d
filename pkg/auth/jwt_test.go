package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
)

func TestTokenIssuer_IssueAndParseAccessToken(t *testing.T) {
	issuer := NewTokenIssuer("a-sufficiently-long-test-signing-secret", time.Hour)
	userID := uuid.New()

	signed, expiresAt, err := issuer.IssueAccessToken(userID, domain.RoleAdmin)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatal("expected expiresAt in the future")
	}

	claims, err := issuer.ParseAccessToken(signed)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected userID %s, got %s", userID, claims.UserID)
	}
	if claims.Role != domain.RoleAdmin {
		t.Fatalf("expected role ADMIN, got %s", claims.Role)
	}
}

func TestTokenIssuer_ParseAccessToken_RejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("first-signing-secret-long-enough", time.Hour)
	signed, _, err := issuer.IssueAccessToken(uuid.New(), domain.RoleUser)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	other := NewTokenIssuer("second-signing-secret-long-enough", time.Hour)
	if _, err := other.ParseAccessToken(signed); err == nil {
		t.Fatal("expected parse to fail against a different signing secret")
	}
}

func TestTokenIssuer_ParseAccessToken_RejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("a-sufficiently-long-test-signing-secret", -time.Minute)
	signed, _, err := issuer.IssueAccessToken(uuid.New(), domain.RoleUser)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := issuer.ParseAccessToken(signed); err == nil {
		t.Fatal("expected parse to fail for an already-expired token")
	}
}

func TestNewRefreshToken_HashIsDeterministicAndRawIsNot(t *testing.T) {
	rawA, hashA, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	rawB, hashB, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if rawA == rawB {
		t.Fatal("expected distinct random raw tokens")
	}
	if hashA != HashRefreshToken(rawA) {
		t.Fatal("hash does not match HashRefreshToken(raw)")
	}
	if hashA == hashB {
		t.Fatal("expected distinct hashes for distinct raw tokens")
	}
}
