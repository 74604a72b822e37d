package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
)

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.stakingRepo.ListActivePools(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	assetFilter := r.URL.Query().Get("assetId")
	typeFilter := r.URL.Query().Get("type")
	out := pools[:0:0]
	for _, p := range pools {
		if assetFilter != "" && p.AssetID.String() != assetFilter {
			continue
		}
		if typeFilter != "" && string(p.Type) != typeFilter {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

type calculatorResponse struct {
	EstimatedRewards decimal.Decimal `json:"estimatedRewards"`
	Apr              decimal.Decimal `json:"apr"`
	LockDays         int             `json:"lockDays"`
}

func (s *Server) handlePoolCalculator(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid pool id"))
		return
	}
	amountRaw := r.URL.Query().Get("amount")
	if err := validateAmount(amountRaw); err != nil {
		writeErr(w, err)
		return
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		writeErr(w, errValidation("invalid amount"))
		return
	}
	daysRaw := r.URL.Query().Get("days")
	days := 0
	if daysRaw != "" {
		d, derr := time.ParseDuration(daysRaw + "h")
		if derr == nil {
			days = int(d.Hours())
		}
	}

	pool, err := s.stakingRepo.PoolByID(r.Context(), id, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	apr, err := s.stakingRepo.EffectiveApr(r.Context(), id, s.clock.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	ratePerSecond := apr.Div(decimal.NewFromInt(100)).Div(decimal.NewFromInt(365)).Div(decimal.NewFromInt(86400))
	seconds := decimal.NewFromInt(int64(days) * 86400)
	estimated := amount.Mul(ratePerSecond).Mul(seconds)

	writeJSON(w, http.StatusOK, calculatorResponse{EstimatedRewards: estimated, Apr: apr, LockDays: pool.LockDays})
}

type createPoolRequest struct {
	Name          string           `json:"name"`
	Slug          string           `json:"slug"`
	AssetID       uuid.UUID        `json:"assetId"`
	Type          domain.PoolType  `json:"type"`
	LockDays      int              `json:"lockDays"`
	CurrentApr    decimal.Decimal  `json:"currentApr"`
	MinStake      decimal.Decimal  `json:"minStake"`
	MaxStake      *decimal.Decimal `json:"maxStake,omitempty"`
	TotalCapacity *decimal.Decimal `json:"totalCapacity,omitempty"`
	CooldownHours int              `json:"cooldownHours"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req createPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" || req.Slug == "" {
		writeErr(w, errValidation("name and slug are required"))
		return
	}
	if _, err := s.catalogRepo.AssetByID(r.Context(), req.AssetID); err != nil {
		writeErr(w, err)
		return
	}
	pool, err := s.stakingRepo.InsertPool(r.Context(), domain.Pool{
		Name: req.Name, Slug: req.Slug, AssetID: req.AssetID, Type: req.Type, LockDays: req.LockDays,
		CurrentApr: req.CurrentApr, MinStake: req.MinStake, MaxStake: req.MaxStake,
		TotalCapacity: req.TotalCapacity, CooldownHours: req.CooldownHours, IsActive: true,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "pool.create", "Pool", pool.ID, nil, pool); err != nil {
		s.logger.Printf("⚠️  audit write failed for pool.create: %v", err)
	}
	writeJSON(w, http.StatusCreated, pool)
}

type setPoolAprRequest struct {
	NewApr        decimal.Decimal `json:"newApr"`
	EffectiveFrom time.Time       `json:"effectiveFrom"`
}

func (s *Server) handleSetPoolApr(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, errValidation("invalid pool id"))
		return
	}
	var req setPoolAprRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.stakingRepo.PoolByID(r.Context(), id, false); err != nil {
		writeErr(w, err)
		return
	}
	schedule, err := s.stakingRepo.InsertAprSchedule(r.Context(), id, req.NewApr, req.EffectiveFrom)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.recordAudit(r, p, "pool.set_apr", "Pool", id, nil, schedule); err != nil {
		s.logger.Printf("⚠️  audit write failed for pool.set_apr: %v", err)
	}
	writeJSON(w, http.StatusCreated, schedule)
}
