package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/withdrawal"
)

type submitWithdrawalRequest struct {
	AssetID            uuid.UUID       `json:"assetId"`
	ChainID            uuid.UUID       `json:"chainId"`
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destinationAddress"`
	UserNotes          *string         `json:"userNotes,omitempty"`
	IdempotencyKey     string          `json:"idempotencyKey"`
}

func (s *Server) handleSubmitWithdrawal(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req submitWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		writeErr(w, errValidation("idempotencyKey is required"))
		return
	}
	addr, err := validateAddress(req.DestinationAddress)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := validateAmount(req.Amount.String()); err != nil {
		writeErr(w, err)
		return
	}
	user, err := s.authRepo.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	request, err := s.withdrawalEngine.Submit(r.Context(), withdrawal.SubmitParams{
		User:               *user,
		AssetID:            req.AssetID,
		DestinationAddress: addr,
		Amount:             req.Amount,
		UserNotes:          req.UserNotes,
		IdempotencyKey:     req.IdempotencyKey,
		Now:                s.clock.Now(),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid withdrawal id"))
		return
	}
	request, err := s.withdrawalRepo.ByID(r.Context(), id, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	if request.UserID != p.UserID {
		writeErr(w, auth.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

type withdrawalListResponse struct {
	Items      []domain.WithdrawalRequest `json:"items"`
	Total      int                        `json:"total"`
	Page       int                        `json:"page"`
	Limit      int                        `json:"limit"`
	TotalPages int                        `json:"totalPages"`
}

func (s *Server) handleListWithdrawalsForReview(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	pg, err := parsePagination(r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	var status *domain.WithdrawalStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.WithdrawalStatus(raw)
		status = &st
	}
	items, total, err := s.withdrawalRepo.ListForReview(r.Context(), status, pg.Page, pg.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	totalPages := (total + pg.Limit - 1) / pg.Limit
	writeJSON(w, http.StatusOK, withdrawalListResponse{
		Items: items, Total: total, Page: pg.Page, Limit: pg.Limit, TotalPages: totalPages,
	})
}

type reviewRequest struct {
	AdminNotes string `json:"adminNotes"`
	ProofURL   string `json:"proofUrl,omitempty"`
}

func (s *Server) handleApproveWithdrawal(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid withdrawal id"))
		return
	}
	var req reviewRequest
	_ = decodeJSON(r, &req)
	if err := s.withdrawalEngine.Approve(r.Context(), id, p.UserID, s.clock.Now()); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "withdrawal.approve", "WithdrawalRequest", id, nil, req); err != nil {
		s.logger.Printf("⚠️  audit write failed for withdrawal.approve: %v", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRejectWithdrawal(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid withdrawal id"))
		return
	}
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.AdminNotes == "" {
		writeErr(w, errValidation("adminNotes is required"))
		return
	}
	if err := s.withdrawalEngine.Reject(r.Context(), id, p.UserID, req.AdminNotes, s.clock.Now()); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "withdrawal.reject", "WithdrawalRequest", id, nil, req); err != nil {
		s.logger.Printf("⚠️  audit write failed for withdrawal.reject: %v", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMarkWithdrawalPaid(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid withdrawal id"))
		return
	}
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.AdminNotes == "" {
		writeErr(w, errValidation("adminNotes is required"))
		return
	}
	if err := s.withdrawalEngine.MarkPaid(r.Context(), id, p.UserID, req.AdminNotes, req.ProofURL, s.clock.Now()); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "withdrawal.mark_paid", "WithdrawalRequest", id, nil, req); err != nil {
		s.logger.Printf("⚠️  audit write failed for withdrawal.mark_paid: %v", err)
	}
	w.WriteHeader(http.StatusOK)
}
