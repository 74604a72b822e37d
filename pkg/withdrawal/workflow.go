package withdrawal

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/audit"
	"github.com/cryptostake/platform/pkg/balance"
	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/fraud"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/queue"
	"github.com/cryptostake/platform/pkg/store"
)

// whitelistCooldown is the window a first-seen destination address must sit
// in before a withdrawal to it is treated as no longer "new".
const whitelistCooldown = 24 * time.Hour

// ProcessPayoutJob is the queue job name the payout executor subscribes to;
// Approve enqueues one per approved request.
const ProcessPayoutJob = "processPayout"

// FeeSchedule computes the platform fee for a withdrawal amount.
type FeeSchedule struct {
	Rate   decimal.Decimal
	MinFee decimal.Decimal
}

// Fee returns max(MinFee, amount*Rate).
func (f FeeSchedule) Fee(amount decimal.Decimal) decimal.Decimal {
	pct := amount.Mul(f.Rate)
	if pct.GreaterThan(f.MinFee) {
		return pct
	}
	return f.MinFee
}

// Engine drives the withdrawal submission and admin-review state machine.
type Engine struct {
	store   *store.Client
	repo    *Repository
	catalog *catalog.Repository
	balance *balance.Repository
	ledger  *ledger.Ledger
	audit   *audit.Writer
	queue   queue.Queue
	fees    FeeSchedule

	largeWithdrawalThresholdUsd decimal.Decimal
	maxDailyWithdrawalRequests  int

	logger *log.Logger
}

// NewEngine constructs an Engine.
func NewEngine(s *store.Client, repo *Repository, cat *catalog.Repository, bal *balance.Repository,
	l *ledger.Ledger, aw *audit.Writer, q queue.Queue, fees FeeSchedule,
	largeWithdrawalThresholdUsd decimal.Decimal, maxDailyWithdrawalRequests int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Withdrawal] ", log.LstdFlags)
	}
	return &Engine{
		store: s, repo: repo, catalog: cat, balance: bal, ledger: l, audit: aw, queue: q, fees: fees,
		largeWithdrawalThresholdUsd: largeWithdrawalThresholdUsd,
		maxDailyWithdrawalRequests:  maxDailyWithdrawalRequests,
		logger:                      logger,
	}
}

// SubmitParams bundles the inputs to Submit.
type SubmitParams struct {
	User               domain.User
	AssetID            uuid.UUID
	DestinationAddress string
	Amount             decimal.Decimal
	UserNotes          *string
	IdempotencyKey     string
	Now                time.Time
}

// Submit reserves funds for a withdrawal request, scores it for fraud, and
// leaves it in PENDING_REVIEW for an administrator to act on. It never
// executes a payout directly. A repeated call with the same idempotency
// key returns the original request rather than creating a second one.
func (e *Engine) Submit(ctx context.Context, p SubmitParams) (*domain.WithdrawalRequest, error) {
	if existing, err := e.repo.ByIdempotencyKey(ctx, p.IdempotencyKey); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	asset, err := e.catalog.AssetByID(ctx, p.AssetID)
	if err != nil {
		return nil, err
	}
	if !asset.IsActive {
		return nil, domain.NewDomainRejection(domain.CodePoolInactive, "asset %s is not active", asset.Symbol)
	}
	if p.Amount.Sign() <= 0 {
		return nil, domain.NewDomainRejection(domain.CodeAmountOutOfRange, "withdrawal amount must be positive")
	}

	fee := e.fees.Fee(p.Amount)
	netAmount := p.Amount.Sub(fee)
	if netAmount.Sign() <= 0 {
		return nil, domain.NewDomainRejection(domain.CodeAmountOutOfRange, "withdrawal amount does not cover the platform fee")
	}

	bal, err := e.balance.Get(ctx, p.User.ID, asset.ID, asset.ChainID)
	if err != nil {
		return nil, err
	}
	if bal.Available.LessThan(p.Amount) {
		return nil, domain.NewDomainRejection(domain.CodeInsufficientFunds, "available balance %s is less than requested amount %s", bal.Available, p.Amount)
	}

	whitelisted := true
	var cooldownEndsAt *time.Time
	entry, err := e.repo.WhitelistEntry(ctx, p.User.ID, asset.ChainID, p.DestinationAddress)
	switch {
	case err == store.ErrNotFound:
		whitelisted = false
	case err != nil:
		return nil, err
	default:
		cooldownEndsAt = &entry.CooldownEndsAt
	}

	since := p.Now.Add(-24 * time.Hour)
	cumulative, err := e.repo.CumulativeLast24hUsd(ctx, p.User.ID, asset.ID, asset.PriceUsd, since)
	if err != nil {
		return nil, err
	}
	requestCount, err := e.repo.RequestsLast24h(ctx, p.User.ID, since)
	if err != nil {
		return nil, err
	}

	indicators, score := fraud.Score(ctx, fraud.Inputs{
		User:                      p.User,
		DestinationWhitelisted:    whitelisted,
		WhitelistCooldownEndsAt:   cooldownEndsAt,
		Now:                       p.Now,
		AmountUsd:                 p.Amount.Mul(asset.PriceUsd),
		LargeWithdrawalThreshold:  e.largeWithdrawalThresholdUsd,
		DailyWithdrawalLimitUsd:   p.User.DailyWithdrawalLimitUsd,
		CumulativeLast24hUsd:      cumulative,
		RequestsLast24h:           requestCount,
		MaxDailyWithdrawalRequest: e.maxDailyWithdrawalRequests,
	})

	var request *domain.WithdrawalRequest
	err = e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		request, err = e.repo.Insert(ctx, domain.WithdrawalRequest{
			UserID:             p.User.ID,
			AssetID:            asset.ID,
			ChainID:            asset.ChainID,
			Amount:             p.Amount,
			Fee:                fee,
			NetAmount:          netAmount,
			DestinationAddress: p.DestinationAddress,
			UserNotes:          p.UserNotes,
			IdempotencyKey:     p.IdempotencyKey,
			FraudScore:         score,
			FraudIndicators:    indicators,
		})
		if err != nil {
			return err
		}

		if !whitelisted {
			if err := e.repo.InsertWhitelistEntry(ctx, p.User.ID, asset.ChainID, p.DestinationAddress, p.Now.Add(whitelistCooldown)); err != nil {
				return err
			}
		}

		if _, err := e.ledger.Post(ctx, ledger.Entry{
			UserID: &p.User.ID, AssetID: asset.ID, ChainID: asset.ChainID,
			EntryType: domain.EntryWithdrawalRequested, Direction: domain.Debit, Amount: p.Amount,
			ReferenceType: "WithdrawalRequest", ReferenceID: request.ID,
			BalanceField: ledger.FieldAvailable,
		}); err != nil {
			return err
		}
		if _, err := e.ledger.Post(ctx, ledger.Entry{
			UserID: &p.User.ID, AssetID: asset.ID, ChainID: asset.ChainID,
			EntryType: domain.EntryWithdrawalRequestedPending, Direction: domain.Credit, Amount: p.Amount,
			ReferenceType: "WithdrawalRequestPending", ReferenceID: request.ID,
			BalanceField: ledger.FieldWithdrawalsPending,
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("🔄 withdrawal submitted id=%s user=%s amount=%s score=%d", request.ID, p.User.ID, p.Amount, score)
	return request, nil
}

// Approve moves a request from PENDING_REVIEW to APPROVED and enqueues it
// for payout execution.
func (e *Engine) Approve(ctx context.Context, requestID, adminID uuid.UUID, now time.Time) error {
	req, err := e.repo.ByID(ctx, requestID, false)
	if err != nil {
		return err
	}
	if req.Status != domain.WithdrawalPendingReview {
		return domain.NewDomainRejection(domain.CodeInvalidState, "request %s is %s, not PENDING_REVIEW", requestID, req.Status)
	}

	err = e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := e.repo.Review(ctx, requestID, []domain.WithdrawalStatus{domain.WithdrawalPendingReview},
			domain.WithdrawalApproved, adminID, nil, nil, now); err != nil {
			return err
		}
		return e.audit.Record(ctx, audit.Entry{
			ActorID: &adminID, Action: "withdrawal.approve", Entity: "WithdrawalRequest", EntityID: requestID,
			Before: map[string]interface{}{"status": string(domain.WithdrawalPendingReview)},
			After:  map[string]interface{}{"status": string(domain.WithdrawalApproved)},
		})
	})
	if err != nil {
		return err
	}

	if err := e.queue.Enqueue(ctx, ProcessPayoutJob, []byte(requestID.String()), queue.EnqueueOptions{}); err != nil {
		e.logger.Printf("❌ withdrawal approved id=%s but enqueue failed: %v", requestID, err)
		return err
	}
	e.logger.Printf("✅ withdrawal approved id=%s admin=%s", requestID, adminID)
	return nil
}

// Reject moves a request from PENDING_REVIEW to REJECTED, releasing the
// reserved funds back to the user's available balance.
func (e *Engine) Reject(ctx context.Context, requestID, adminID uuid.UUID, adminNotes string, now time.Time) error {
	if adminNotes == "" {
		return domain.NewDomainRejection(domain.CodeInvalidState, "adminNotes is required to reject a withdrawal")
	}
	req, err := e.repo.ByID(ctx, requestID, false)
	if err != nil {
		return err
	}
	if req.Status != domain.WithdrawalPendingReview {
		return domain.NewDomainRejection(domain.CodeInvalidState, "request %s is %s, not PENDING_REVIEW", requestID, req.Status)
	}

	return e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := e.repo.Review(ctx, requestID, []domain.WithdrawalStatus{domain.WithdrawalPendingReview},
			domain.WithdrawalRejected, adminID, &adminNotes, nil, now); err != nil {
			return err
		}
		if _, err := e.ledger.Post(ctx, ledger.Entry{
			UserID: &req.UserID, AssetID: req.AssetID, ChainID: req.ChainID,
			EntryType: domain.EntryWithdrawalRejected, Direction: domain.Credit, Amount: req.Amount,
			ReferenceType: "WithdrawalRequest", ReferenceID: req.ID,
			BalanceField: ledger.FieldAvailable,
		}); err != nil {
			return err
		}
		if _, err := e.ledger.Post(ctx, ledger.Entry{
			UserID: &req.UserID, AssetID: req.AssetID, ChainID: req.ChainID,
			EntryType: domain.EntryWithdrawalRejectedPending, Direction: domain.Debit, Amount: req.Amount,
			ReferenceType: "WithdrawalRequestPending", ReferenceID: req.ID,
			BalanceField: ledger.FieldWithdrawalsPending,
		}); err != nil {
			return err
		}
		if err := e.audit.Record(ctx, audit.Entry{
			ActorID: &adminID, Action: "withdrawal.reject", Entity: "WithdrawalRequest", EntityID: requestID,
			Before: map[string]interface{}{"status": string(domain.WithdrawalPendingReview)},
			After:  map[string]interface{}{"status": string(domain.WithdrawalRejected), "adminNotes": adminNotes},
		}); err != nil {
			return err
		}
		e.logger.Printf("⚠️  withdrawal rejected id=%s admin=%s", requestID, adminID)
		return nil
	})
}

// MarkPaid records that an administrator paid a request out-of-band (wire,
// manual chain send from a non-custodial wallet), closing the reservation
// without a tracked PayoutTx.
func (e *Engine) MarkPaid(ctx context.Context, requestID, adminID uuid.UUID, adminNotes, proofURL string, now time.Time) error {
	if adminNotes == "" {
		return domain.NewDomainRejection(domain.CodeInvalidState, "adminNotes is required to mark a withdrawal paid")
	}
	req, err := e.repo.ByID(ctx, requestID, false)
	if err != nil {
		return err
	}
	allowed := map[domain.WithdrawalStatus]bool{
		domain.WithdrawalPendingReview: true,
		domain.WithdrawalApproved:      true,
		domain.WithdrawalFailed:        true,
	}
	if !allowed[req.Status] {
		return domain.NewDomainRejection(domain.CodeInvalidState, "request %s is %s, cannot be marked paid", requestID, req.Status)
	}

	return e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := e.repo.Review(ctx, requestID, []domain.WithdrawalStatus{req.Status},
			domain.WithdrawalPaidManually, adminID, &adminNotes, &proofURL, now); err != nil {
			return err
		}
		if _, err := e.ledger.Post(ctx, ledger.Entry{
			UserID: &req.UserID, AssetID: req.AssetID, ChainID: req.ChainID,
			EntryType: domain.EntryWithdrawalPaid, Direction: domain.Debit, Amount: req.Amount,
			ReferenceType: "WithdrawalRequestPending", ReferenceID: req.ID,
			BalanceField: ledger.FieldWithdrawalsPending,
		}); err != nil {
			return err
		}
		if err := e.audit.Record(ctx, audit.Entry{
			ActorID: &adminID, Action: "withdrawal.mark_paid", Entity: "WithdrawalRequest", EntityID: requestID,
			Before: map[string]interface{}{"status": string(req.Status)},
			After:  map[string]interface{}{"status": string(domain.WithdrawalPaidManually), "adminNotes": adminNotes, "proofUrl": proofURL},
		}); err != nil {
			return err
		}
		e.logger.Printf("✅ withdrawal marked paid manually id=%s admin=%s", requestID, adminID)
		return nil
	})
}
