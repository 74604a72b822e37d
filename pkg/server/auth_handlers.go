package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
)

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (s *Server) issueTokenPair(w http.ResponseWriter, r *http.Request, user *domain.User) {
	access, expiresAt, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	refreshRaw, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		writeErr(w, err)
		return
	}
	_, err = s.authRepo.CreateSession(r.Context(), user.ID, refreshHash,
		r.UserAgent(), clientIP(r), r.UserAgent(), s.clock.Now().Add(s.cfg.JWTRefreshExpires))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken: access, RefreshToken: refreshRaw, ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeErr(w, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	user, err := s.authRepo.CreateUser(r.Context(), email, hash)
	if err != nil {
		writeErr(w, err)
		return
	}

	access, expiresAt, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	refreshRaw, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.authRepo.CreateSession(r.Context(), user.ID, refreshHash, r.UserAgent(), clientIP(r), r.UserAgent(),
		s.clock.Now().Add(s.cfg.JWTRefreshExpires)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenPairResponse{
		AccessToken: access, RefreshToken: refreshRaw, ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.authRepo.GetUserByEmail(r.Context(), email)
	if err != nil {
		// Missing user and bad password collapse to the same response so a
		// caller can't enumerate registered addresses.
		writeErr(w, errUnauthenticated)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHashArgon2id, req.Password); err != nil {
		writeErr(w, errUnauthenticated)
		return
	}
	if !user.IsActive {
		writeErr(w, auth.ErrForbidden)
		return
	}

	if user.TwoFactorEnabled {
		if req.TOTPCode == "" {
			writeErr(w, errValidation("2FA required"))
			return
		}
		if err := validateTOTP(req.TOTPCode); err != nil {
			writeErr(w, err)
			return
		}
		secret, err := s.authRepo.GetTwoFactorSecret(r.Context(), user.ID)
		if err != nil {
			writeErr(w, errUnauthenticated)
			return
		}
		plain, err := auth.DecryptTwoFactorSecret(s.cfg.MasterKey, secret.EncryptedSecret)
		if err != nil || !auth.ValidateTOTPCode(plain, req.TOTPCode) {
			writeErr(w, errUnauthenticated)
			return
		}
	} else if user.Role.AtLeast(domain.RoleAdmin) {
		// Admin accounts without 2FA enrolled may never authenticate;
		// enrollment is mandatory for privileged roles.
		writeErr(w, auth.ErrForbidden)
		return
	}

	if err := s.authRepo.TouchLastLogin(r.Context(), user.ID); err != nil {
		s.logger.Printf("⚠️  failed to touch last login for user=%s: %v", user.ID, err)
	}
	s.issueTokenPair(w, r, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.RefreshToken == "" {
		writeErr(w, errValidation("refreshToken is required"))
		return
	}
	hash := auth.HashRefreshToken(req.RefreshToken)

	var resp tokenPairResponse
	err := s.store.RunInTransaction(r.Context(), func(ctx context.Context) error {
		session, err := s.authRepo.GetSessionByRefreshHash(ctx, hash)
		if err != nil {
			return errUnauthenticated
		}
		// CAS: only the first concurrent refresh of this token wins; the
		// store's serializable isolation makes a racing second attempt
		// retry and observe is_revoked=true, falling into ErrNotFound above.
		if err := s.authRepo.RevokeSession(ctx, session.ID); err != nil {
			return err
		}
		user, err := s.authRepo.GetUserByID(ctx, session.UserID)
		if err != nil {
			return err
		}
		access, expiresAt, err := s.tokens.IssueAccessToken(user.ID, user.Role)
		if err != nil {
			return err
		}
		refreshRaw, refreshHash, err := auth.NewRefreshToken()
		if err != nil {
			return err
		}
		if _, err := s.authRepo.CreateSession(ctx, user.ID, refreshHash, session.DeviceName, clientIP(r), r.UserAgent(),
			s.clock.Now().Add(s.cfg.JWTRefreshExpires)); err != nil {
			return err
		}
		resp = tokenPairResponse{AccessToken: access, RefreshToken: refreshRaw, ExpiresIn: int64(time.Until(expiresAt).Seconds())}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout revokes the session backing the supplied refresh token; the
// access token itself carries no session id to revoke by.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req refreshRequest
	_ = decodeJSON(r, &req)
	if req.RefreshToken != "" {
		hash := auth.HashRefreshToken(req.RefreshToken)
		if session, err := s.authRepo.GetSessionByRefreshHash(r.Context(), hash); err == nil && session.UserID == p.UserID {
			if err := s.authRepo.RevokeSession(r.Context(), session.ID); err != nil {
				writeErr(w, err)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	sessions, err := s.authRepo.ListSessions(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid session id"))
		return
	}
	session, err := s.authRepo.SessionByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if session.UserID != p.UserID {
		writeErr(w, auth.ErrForbidden)
		return
	}
	if err := s.authRepo.RevokeSession(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type twoFactorSetupResponse struct {
	Secret     string `json:"secret"`
	QRCodeURL  string `json:"qrCodeUrl"`
}

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	user, err := s.authRepo.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	key, err := auth.GenerateTOTPSecret("cryptostake", user.Email)
	if err != nil {
		writeErr(w, err)
		return
	}
	encrypted, err := auth.EncryptTwoFactorSecret(s.cfg.MasterKey, key.Secret())
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.authRepo.UpsertTwoFactorSecret(r.Context(), p.UserID, encrypted); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, twoFactorSetupResponse{Secret: key.Secret(), QRCodeURL: key.String()})
}

type twoFactorVerifyRequest struct {
	TOTPCode string `json:"totpCode"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req twoFactorVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := validateTOTP(req.TOTPCode); err != nil {
		writeErr(w, err)
		return
	}
	secret, err := s.authRepo.GetTwoFactorSecret(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	plain, err := auth.DecryptTwoFactorSecret(s.cfg.MasterKey, secret.EncryptedSecret)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !auth.ValidateTOTPCode(plain, req.TOTPCode) {
		writeErr(w, errValidation("invalid totp code"))
		return
	}
	if err := s.authRepo.MarkTwoFactorVerified(r.Context(), p.UserID); err != nil {
		writeErr(w, err)
		return
	}
	codes, err := auth.GenerateRecoveryCodes(10)
	if err != nil {
		writeErr(w, err)
		return
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashRefreshToken(c)
	}
	if err := s.authRepo.StoreRecoveryCodes(r.Context(), p.UserID, hashes); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req twoFactorVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := validateTOTP(req.TOTPCode); err != nil {
		writeErr(w, err)
		return
	}
	secret, err := s.authRepo.GetTwoFactorSecret(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	plain, err := auth.DecryptTwoFactorSecret(s.cfg.MasterKey, secret.EncryptedSecret)
	if err != nil || !auth.ValidateTOTPCode(plain, req.TOTPCode) {
		writeErr(w, errValidation("invalid totp code"))
		return
	}
	if err := s.authRepo.DisableTwoFactor(r.Context(), p.UserID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
