package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
)

type depositAddressRequest struct {
	ChainID uuid.UUID `json:"chainId"`
}

func (s *Server) handleDepositAddress(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req depositAddressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	addr, err := s.depositAllocator.GetOrCreate(r.Context(), p.UserID, req.ChainID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var chainID *uuid.UUID
	if raw := r.URL.Query().Get("chainId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeErr(w, errValidation("invalid chainId"))
			return
		}
		chainID = &id
	}
	var status *domain.DepositStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.DepositStatus(raw)
		status = &st
	}
	deposits, err := s.depositRepo.ForUser(r.Context(), p.UserID, chainID, status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}
