package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
)

type createStakeRequest struct {
	PoolID uuid.UUID       `json:"poolId"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleCreateStake(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req createStakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeErr(w, errValidation("amount must be positive"))
		return
	}
	position, err := s.stakingEngine.CreateStake(r.Context(), p.UserID, req.PoolID, req.Amount, s.clock.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, position)
}

func (s *Server) ownedPosition(r *http.Request, p auth.Principal) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.UUID{}, errValidation("invalid stake id")
	}
	position, err := s.stakingRepo.PositionByID(r.Context(), id, false)
	if err != nil {
		return uuid.UUID{}, err
	}
	if position.UserID != p.UserID {
		return uuid.UUID{}, auth.ErrForbidden
	}
	return id, nil
}

type unstakeResponse struct {
	Status         domain.StakePositionStatus `json:"status"`
	CooldownEndsAt interface{}                 `json:"cooldownEndsAt,omitempty"`
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := s.ownedPosition(r, p)
	if err != nil {
		writeErr(w, err)
		return
	}
	position, cooldownEndsAt, err := s.stakingEngine.Unstake(r.Context(), id, p.UserID, s.clock.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := unstakeResponse{Status: position.Status}
	if cooldownEndsAt != nil {
		resp.CooldownEndsAt = *cooldownEndsAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimResponse struct {
	ClaimedAmount decimal.Decimal `json:"claimedAmount"`
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := s.ownedPosition(r, p)
	if err != nil {
		writeErr(w, err)
		return
	}
	claimed, err := s.stakingEngine.ClaimRewards(r.Context(), id, p.UserID, s.clock.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{ClaimedAmount: claimed})
}

func (s *Server) handleAdminCancelStake(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid stake id"))
		return
	}
	if err := s.stakingEngine.AdminCancel(r.Context(), id, s.clock.Now()); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "stake.admin_cancel", "StakePosition", id, nil, nil); err != nil {
		s.logger.Printf("⚠️  audit write failed for stake.admin_cancel: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StakeCancelled)})
}
