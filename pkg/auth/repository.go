package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository persists users, sessions, and two-factor state.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// CreateUser inserts a new user row with a hashed password.
func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string) (*domain.User, error) {
	u := &domain.User{ID: uuid.New(), Email: email, PasswordHashArgon2id: passwordHash, Role: domain.RoleUser, IsActive: true}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash_argon2id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		u.ID, u.Email, u.PasswordHashArgon2id, u.Role).Scan(&u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns a user by email, or store.ErrNotFound.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u := &domain.User{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, email, password_hash_argon2id, role, email_verified, two_factor_enabled,
		       kyc_status, is_active, daily_withdrawal_limit_usd, created_at, last_login_at
		FROM users WHERE email = $1`, email).Scan(
		&u.ID, &u.Email, &u.PasswordHashArgon2id, &u.Role, &u.EmailVerified, &u.TwoFactorEnabled,
		&u.KYCStatus, &u.IsActive, &u.DailyWithdrawalLimitUsd, &u.CreatedAt, &u.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get user by email: %w", err)
	}
	return u, nil
}

// GetUserByID returns a user by id, or store.ErrNotFound.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u := &domain.User{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, email, password_hash_argon2id, role, email_verified, two_factor_enabled,
		       kyc_status, is_active, daily_withdrawal_limit_usd, created_at, last_login_at
		FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.PasswordHashArgon2id, &u.Role, &u.EmailVerified, &u.TwoFactorEnabled,
		&u.KYCStatus, &u.IsActive, &u.DailyWithdrawalLimitUsd, &u.CreatedAt, &u.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get user by id: %w", err)
	}
	return u, nil
}

// TouchLastLogin stamps a user's last_login_at to now.
func (r *Repository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auth: touch last login: %w", err)
	}
	return nil
}

// CreateSession records a new refresh-token session.
func (r *Repository) CreateSession(ctx context.Context, userID uuid.UUID, refreshTokenHash, deviceName, ip, userAgent string, expiresAt time.Time) (*domain.Session, error) {
	s := &domain.Session{
		ID: uuid.New(), UserID: userID, RefreshTokenHash: refreshTokenHash,
		DeviceName: deviceName, IPAddress: ip, UserAgent: userAgent, ExpiresAt: expiresAt,
	}
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, device_name, ip_address, user_agent, last_active_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.DeviceName, s.IPAddress, s.UserAgent, s.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("auth: create session: %w", err)
	}
	return s, nil
}

// GetSessionByRefreshHash returns the active session for a refresh-token
// hash, or store.ErrNotFound if none exists or it has been revoked.
func (r *Repository) GetSessionByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	s := &domain.Session{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token_hash, device_name, ip_address, user_agent, last_active_at, expires_at, is_revoked
		FROM sessions
		WHERE refresh_token_hash = $1 AND is_revoked = false AND expires_at > now()`, hash).Scan(
		&s.ID, &s.UserID, &s.RefreshTokenHash, &s.DeviceName, &s.IPAddress, &s.UserAgent, &s.LastActiveAt, &s.ExpiresAt, &s.IsRevoked)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get session: %w", err)
	}
	return s, nil
}

// RevokeSession marks a session revoked, used on logout and on refresh
// rotation (the consumed refresh token is never valid again).
func (r *Repository) RevokeSession(ctx context.Context, id uuid.UUID) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `UPDATE sessions SET is_revoked = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auth: revoke session: %w", err)
	}
	return nil
}

// ListSessions returns a user's active (non-revoked, unexpired) sessions,
// most recently active first.
func (r *Repository) ListSessions(ctx context.Context, userID uuid.UUID) ([]domain.Session, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, refresh_token_hash, device_name, ip_address, user_agent, last_active_at, expires_at, is_revoked
		FROM sessions
		WHERE user_id = $1 AND is_revoked = false AND expires_at > now()
		ORDER BY last_active_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.DeviceName, &s.IPAddress, &s.UserAgent,
			&s.LastActiveAt, &s.ExpiresAt, &s.IsRevoked); err != nil {
			return nil, fmt.Errorf("auth: scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SessionByID returns a session by id, or store.ErrNotFound.
func (r *Repository) SessionByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s := &domain.Session{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token_hash, device_name, ip_address, user_agent, last_active_at, expires_at, is_revoked
		FROM sessions WHERE id = $1`, id).Scan(
		&s.ID, &s.UserID, &s.RefreshTokenHash, &s.DeviceName, &s.IPAddress, &s.UserAgent, &s.LastActiveAt, &s.ExpiresAt, &s.IsRevoked)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get session by id: %w", err)
	}
	return s, nil
}

// DisableTwoFactor removes a user's TOTP secret and clears the enabled flag,
// used after recovery-code verification or an administrator reset.
func (r *Repository) DisableTwoFactor(ctx context.Context, userID uuid.UUID) error {
	return r.store.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.store.Queryer(ctx)
		if _, err := q.ExecContext(ctx, `DELETE FROM two_factor_secrets WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("auth: delete two-factor secret: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("auth: delete recovery codes: %w", err)
		}
		if _, err := q.ExecContext(ctx, `UPDATE users SET two_factor_enabled = false WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("auth: mark user 2fa disabled: %w", err)
		}
		return nil
	})
}

// StoreRecoveryCodes persists the hashes of freshly issued recovery codes,
// replacing any codes from a prior enrollment.
func (r *Repository) StoreRecoveryCodes(ctx context.Context, userID uuid.UUID, hashes []string) error {
	return r.store.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.store.Queryer(ctx)
		if _, err := q.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("auth: clear recovery codes: %w", err)
		}
		for _, h := range hashes {
			if _, err := q.ExecContext(ctx, `INSERT INTO recovery_codes (id, user_id, code_hash) VALUES ($1, $2, $3)`,
				uuid.New(), userID, h); err != nil {
				return fmt.Errorf("auth: insert recovery code: %w", err)
			}
		}
		return nil
	})
}

// ConsumeRecoveryCode marks the first unused recovery code matching hash as
// used and reports whether one was found.
func (r *Repository) ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, hash string) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE recovery_codes SET used = true
		WHERE id = (SELECT id FROM recovery_codes WHERE user_id = $1 AND code_hash = $2 AND used = false LIMIT 1)`,
		userID, hash)
	if err != nil {
		return false, fmt.Errorf("auth: consume recovery code: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertTwoFactorSecret stores (or replaces) a user's encrypted TOTP seed
// in an unverified state.
func (r *Repository) UpsertTwoFactorSecret(ctx context.Context, userID uuid.UUID, encrypted []byte) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO two_factor_secrets (user_id, encrypted_secret, is_verified)
		VALUES ($1, $2, false)
		ON CONFLICT (user_id) DO UPDATE SET encrypted_secret = EXCLUDED.encrypted_secret, is_verified = false`,
		userID, encrypted)
	if err != nil {
		return fmt.Errorf("auth: upsert two-factor secret: %w", err)
	}
	return nil
}

// GetTwoFactorSecret returns a user's encrypted TOTP seed.
func (r *Repository) GetTwoFactorSecret(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSecret, error) {
	s := &domain.TwoFactorSecret{UserID: userID}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT encrypted_secret, is_verified FROM two_factor_secrets WHERE user_id = $1`, userID).
		Scan(&s.EncryptedSecret, &s.IsVerified)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get two-factor secret: %w", err)
	}
	return s, nil
}

// MarkTwoFactorVerified flips a secret to verified and flags the user as
// having 2FA enabled, in one transaction.
func (r *Repository) MarkTwoFactorVerified(ctx context.Context, userID uuid.UUID) error {
	return r.store.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.store.Queryer(ctx)
		if _, err := q.ExecContext(ctx, `UPDATE two_factor_secrets SET is_verified = true WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("auth: mark secret verified: %w", err)
		}
		if _, err := q.ExecContext(ctx, `UPDATE users SET two_factor_enabled = true WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("auth: mark user 2fa enabled: %w", err)
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return len(s) > 0 && (contains(s, "duplicate key value violates unique constraint") || contains(s, "23505"))
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
