package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
)

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	UserID uuid.UUID   `json:"uid"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies access tokens and opaque refresh tokens.
type TokenIssuer struct {
	accessSecret  []byte
	accessExpires time.Duration
}

// NewTokenIssuer constructs a TokenIssuer signing with HMAC-SHA256.
func NewTokenIssuer(accessSecret string, accessExpires time.Duration) *TokenIssuer {
	return &TokenIssuer{accessSecret: []byte(accessSecret), accessExpires: accessExpires}
}

// IssueAccessToken signs a JWT access token for userID/role.
func (t *TokenIssuer) IssueAccessToken(userID uuid.UUID, role domain.Role) (string, time.Time, error) {
	expiresAt := time.Now().Add(t.accessExpires)
	claims := AccessClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature and expiry and returns the claims.
func (t *TokenIssuer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.accessSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse access token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: access token invalid")
	}
	return claims, nil
}

// NewRefreshToken returns a random opaque refresh token, plus the SHA-256
// hash that is what actually gets persisted in the sessions table. The raw
// token is handed to the client once and is not recoverable from the hash.
func NewRefreshToken() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashRefreshToken(raw), nil
}

// HashRefreshToken hashes a raw refresh token for comparison against the
// sessions table, which never stores the raw value.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
