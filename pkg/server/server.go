// Package server wires every domain component into the platform's public
// HTTP API: a bare net/http.ServeMux using Go's method+path routing, no
// router framework, matching the teacher's handler-struct-per-concern
// layout.
package server

import (
	"log"
	"net/http"

	"github.com/cryptostake/platform/pkg/audit"
	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/balance"
	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/chain"
	"github.com/cryptostake/platform/pkg/clock"
	"github.com/cryptostake/platform/pkg/config"
	"github.com/cryptostake/platform/pkg/deposit"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/health"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/metrics"
	"github.com/cryptostake/platform/pkg/payout"
	"github.com/cryptostake/platform/pkg/queue"
	"github.com/cryptostake/platform/pkg/staking"
	"github.com/cryptostake/platform/pkg/store"
	"github.com/cryptostake/platform/pkg/withdrawal"
)

// Server holds every repository and engine a handler might need, plus the
// ambient services (rate limiting, token issuance, audit logging).
type Server struct {
	cfg *config.Config

	store    *store.Client
	registry *chain.Registry
	clock    clock.Clock

	authRepo *auth.Repository
	tokens   *auth.TokenIssuer
	limiter  *auth.RateLimiter
	audit    *audit.Writer

	catalogRepo *catalog.Repository
	balanceRepo *balance.Repository

	stakingEngine *staking.Engine
	stakingRepo   *staking.Repository

	withdrawalEngine *withdrawal.Engine
	withdrawalRepo   *withdrawal.Repository

	depositAllocator *deposit.Allocator
	depositRepo      *deposit.Repository

	payoutRepo *payout.Repository
	ledger     *ledger.Ledger

	deadLetters *queue.DeadLetterStore

	health *health.Status

	logger *log.Logger
}

// Deps bundles every component Server wires together, assembled by
// cmd/stakingd's bootstrap.
type Deps struct {
	Config      *config.Config
	Store       *store.Client
	Registry    *chain.Registry
	Clock       clock.Clock
	AuthRepo    *auth.Repository
	Tokens      *auth.TokenIssuer
	Limiter     *auth.RateLimiter
	Audit       *audit.Writer
	CatalogRepo *catalog.Repository
	BalanceRepo *balance.Repository

	StakingEngine *staking.Engine
	StakingRepo   *staking.Repository

	WithdrawalEngine *withdrawal.Engine
	WithdrawalRepo   *withdrawal.Repository

	DepositAllocator *deposit.Allocator
	DepositRepo      *deposit.Repository

	PayoutRepo  *payout.Repository
	Ledger      *ledger.Ledger
	DeadLetters *queue.DeadLetterStore

	Health *health.Status

	Logger *log.Logger
}

// New constructs a Server from its wired dependencies.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	healthStatus := d.Health
	if healthStatus == nil {
		healthStatus = health.New()
	}
	return &Server{
		cfg:              d.Config,
		store:            d.Store,
		registry:         d.Registry,
		clock:            d.Clock,
		authRepo:         d.AuthRepo,
		tokens:           d.Tokens,
		limiter:          d.Limiter,
		audit:            d.Audit,
		catalogRepo:      d.CatalogRepo,
		balanceRepo:      d.BalanceRepo,
		stakingEngine:    d.StakingEngine,
		stakingRepo:      d.StakingRepo,
		withdrawalEngine: d.WithdrawalEngine,
		withdrawalRepo:   d.WithdrawalRepo,
		depositAllocator: d.DepositAllocator,
		depositRepo:      d.DepositRepo,
		payoutRepo:       d.PayoutRepo,
		ledger:           d.Ledger,
		deadLetters:      d.DeadLetters,
		health:           healthStatus,
		logger:           logger,
	}
}

// Routes builds the complete /v1 route table plus the ambient /healthz
// endpoint. /metrics is registered separately against the metrics-only
// listener in cmd/stakingd.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/register", s.withTier(s.handleRegister, auth.TierRegister))
	mux.HandleFunc("POST /v1/auth/login", s.withTier(s.handleLogin, auth.TierLogin))
	mux.HandleFunc("POST /v1/auth/refresh", s.withTier(s.handleRefresh, auth.TierRefresh))
	mux.HandleFunc("POST /v1/auth/logout", s.withAuth(s.handleLogout, domain.RoleUser))
	mux.HandleFunc("GET /v1/auth/sessions", s.withAuth(s.handleListSessions, domain.RoleUser))
	mux.HandleFunc("DELETE /v1/auth/sessions/{id}", s.withAuth(s.handleRevokeSession, domain.RoleUser))
	mux.HandleFunc("POST /v1/auth/2fa/setup", s.withAuth(s.handleTwoFactorSetup, domain.RoleUser))
	mux.HandleFunc("POST /v1/auth/2fa/verify", s.withAuth(s.handleTwoFactorVerify, domain.RoleUser))
	mux.HandleFunc("POST /v1/auth/2fa/disable", s.withAuth(s.handleTwoFactorDisable, domain.RoleUser))

	mux.HandleFunc("GET /v1/user/profile", s.withAuth(s.handleUserProfile, domain.RoleUser))
	mux.HandleFunc("GET /v1/user/dashboard", s.withAuth(s.handleUserDashboard, domain.RoleUser))
	mux.HandleFunc("GET /v1/user/balances", s.withAuth(s.handleUserBalances, domain.RoleUser))

	mux.HandleFunc("GET /v1/pools", s.withTier(s.handleListPools, auth.TierGeneral))
	mux.HandleFunc("GET /v1/pools/{id}/calculator", s.withTier(s.handlePoolCalculator, auth.TierGeneral))

	mux.HandleFunc("POST /v1/stakes", s.withAuth(s.handleCreateStake, domain.RoleUser))
	mux.HandleFunc("POST /v1/stakes/{id}/unstake", s.withAuth(s.handleUnstake, domain.RoleUser))
	mux.HandleFunc("POST /v1/stakes/{id}/claim", s.withAuth(s.handleClaimRewards, domain.RoleUser))

	mux.HandleFunc("POST /v1/deposits/address", s.withAuth(s.handleDepositAddress, domain.RoleUser))
	mux.HandleFunc("GET /v1/deposits", s.withAuth(s.handleListDeposits, domain.RoleUser))

	mux.HandleFunc("POST /v1/withdrawals", s.withAuthTier(s.handleSubmitWithdrawal, domain.RoleUser, auth.TierWithdrawal))
	mux.HandleFunc("GET /v1/withdrawals/{id}", s.withAuth(s.handleGetWithdrawal, domain.RoleUser))

	mux.HandleFunc("GET /v1/admin/withdrawals", s.withAuth(s.handleListWithdrawalsForReview, domain.RoleAdmin))
	mux.HandleFunc("POST /v1/admin/withdrawals/{id}/approve", s.withAuth(s.handleApproveWithdrawal, domain.RoleAdmin))
	mux.HandleFunc("POST /v1/admin/withdrawals/{id}/reject", s.withAuth(s.handleRejectWithdrawal, domain.RoleAdmin))
	mux.HandleFunc("POST /v1/admin/withdrawals/{id}/mark-paid", s.withAuth(s.handleMarkWithdrawalPaid, domain.RoleAdmin))

	mux.HandleFunc("POST /v1/admin/pools", s.withAuth(s.handleCreatePool, domain.RoleAdmin))
	mux.HandleFunc("POST /v1/admin/pools/{id}/apr", s.withAuth(s.handleSetPoolApr, domain.RoleAdmin))

	mux.HandleFunc("POST /v1/admin/treasury", s.withAuth(s.handleCreateTreasuryWallet, domain.RoleSuperAdmin))
	mux.HandleFunc("POST /v1/admin/stakes/{id}/cancel", s.withAuth(s.handleAdminCancelStake, domain.RoleSuperAdmin))
	mux.HandleFunc("GET /v1/admin/jobs/dead-letter", s.withAuth(s.handleListDeadLetterJobs, domain.RoleAdmin))

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return withMetrics(mux)
}

// withMetrics wraps the whole mux so every route, including 404s, is
// accounted for in http_requests_total.
func withMetrics(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, statusClass(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
