package server

import (
	"net/http"

	"github.com/cryptostake/platform/pkg/auth"
)

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	user, err := s.authRepo.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type dashboardResponse struct {
	Balances  interface{} `json:"balances"`
	Stakes    interface{} `json:"stakes"`
	Deposits  interface{} `json:"deposits"`
	Withdrawals interface{} `json:"withdrawals"`
}

func (s *Server) handleUserDashboard(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	balances, err := s.balanceRepo.ForUser(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	stakes, err := s.stakingRepo.ForUser(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	deposits, err := s.depositRepo.ForUser(r.Context(), p.UserID, nil, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	withdrawals, err := s.withdrawalRepo.ForUser(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Balances: balances, Stakes: stakes, Deposits: deposits, Withdrawals: withdrawals,
	})
}

func (s *Server) handleUserBalances(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	balances, err := s.balanceRepo.ForUser(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}
