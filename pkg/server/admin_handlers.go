package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/signer"
)

type createTreasuryWalletRequest struct {
	ChainID       uuid.UUID `json:"chainId"`
	Address       string    `json:"address"`
	Label         string    `json:"label"`
	PrivateKeyHex string    `json:"privateKeyHex"`
}

func (s *Server) handleCreateTreasuryWallet(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req createTreasuryWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	addr, err := validateAddress(req.Address)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.PrivateKeyHex == "" {
		writeErr(w, errValidation("privateKeyHex is required"))
		return
	}
	encrypted, err := signer.EncryptPrivateKey(s.cfg.MasterKey, req.PrivateKeyHex)
	if err != nil {
		writeErr(w, errValidation("invalid private key: %v", err))
		return
	}
	wallet, err := s.payoutRepo.InsertTreasuryWallet(r.Context(), req.ChainID, addr, encrypted, req.Label)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "treasury.create", "TreasuryWallet", wallet.ID, nil, map[string]string{
		"chainId": req.ChainID.String(), "address": addr, "label": req.Label,
	}); err != nil {
		s.logger.Printf("⚠️  audit write failed for treasury.create: %v", err)
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleListDeadLetterJobs(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	jobs, err := s.deadLetters.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
