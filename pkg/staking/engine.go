package staking

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/balance"
	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/store"
)

// Engine implements the stake lifecycle: create, claim, unstake, and
// admin-cancel, each transactional and each keeping pools.total_staked and
// balance_cache in lockstep with the ledger. The chain a position settles
// against is always resolved from its pool's underlying asset, never
// passed in by the caller, so a client can't mismatch a stake against the
// wrong network.
type Engine struct {
	store   *store.Client
	repo    *Repository
	catalog *catalog.Repository
	balance *balance.Repository
	ledger  *ledger.Ledger
	logger  *log.Logger
}

// NewEngine constructs an Engine.
func NewEngine(s *store.Client, repo *Repository, cat *catalog.Repository, bal *balance.Repository, l *ledger.Ledger, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Staking] ", log.LstdFlags)
	}
	return &Engine{store: s, repo: repo, catalog: cat, balance: bal, ledger: l, logger: logger}
}

// CreateStake opens a new position against pool for userID, debiting the
// user's available balance by amount.
func (e *Engine) CreateStake(ctx context.Context, userID, poolID uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.StakePosition, error) {
	var position *domain.StakePosition
	err := e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		pool, err := e.repo.PoolByID(ctx, poolID, true)
		if err != nil {
			return err
		}
		if !pool.IsActive {
			return domain.NewDomainRejection(domain.CodePoolInactive, "pool %s is not accepting new stakes", pool.Slug)
		}
		if amount.LessThan(pool.MinStake) {
			return domain.NewDomainRejection(domain.CodeAmountOutOfRange, "amount %s is below pool minimum %s", amount, pool.MinStake)
		}
		if pool.MaxStake != nil && amount.GreaterThan(*pool.MaxStake) {
			return domain.NewDomainRejection(domain.CodeAmountOutOfRange, "amount %s exceeds pool maximum %s", amount, *pool.MaxStake)
		}
		if pool.TotalCapacity != nil && pool.TotalStaked.Add(amount).GreaterThan(*pool.TotalCapacity) {
			return domain.NewDomainRejection(domain.CodeCapacityExceeded, "pool %s capacity would be exceeded", pool.Slug)
		}

		asset, err := e.catalog.AssetByID(ctx, pool.AssetID)
		if err != nil {
			return err
		}

		bal, err := e.balance.Get(ctx, userID, pool.AssetID, asset.ChainID)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(amount) {
			return domain.NewDomainRejection(domain.CodeInsufficientFunds, "available balance %s is less than requested stake %s", bal.Available, amount)
		}

		var lockedUntil *time.Time
		if pool.LockDays > 0 {
			t := now.Add(time.Duration(pool.LockDays) * 24 * time.Hour)
			lockedUntil = &t
		}

		inserted, err := e.repo.InsertPosition(ctx, domain.StakePosition{
			UserID: userID, PoolID: poolID, Amount: amount,
			LastRewardCalculation: now, Status: domain.StakeActive, LockedUntil: lockedUntil,
		})
		if err != nil {
			return err
		}

		if err := e.repo.AddToTotalStaked(ctx, poolID, amount); err != nil {
			return err
		}

		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &userID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryStakeCreated, Direction: domain.Debit, Amount: amount,
			ReferenceType: "StakePosition", ReferenceID: inserted.ID, BalanceField: ledger.FieldAvailable,
		})
		if err != nil {
			return err
		}
		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &userID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryStakeCreated, Direction: domain.Credit, Amount: amount,
			ReferenceType: "StakePositionStaked", ReferenceID: inserted.ID, BalanceField: ledger.FieldStaked,
		})
		if err != nil {
			return err
		}

		position = inserted
		e.logger.Printf("✅ stake created position=%s user=%s pool=%s amount=%s", inserted.ID, userID, pool.Slug, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return position, nil
}

// accrue computes and applies one reward-accrual step for position as of
// now, returning the pool and asset it resolved (for callers that need
// them for a subsequent settlement) and the Δreward applied (zero if
// Δt < 1s, the idempotency guard against double-accrual within the same
// second).
func (e *Engine) accrue(ctx context.Context, position domain.StakePosition, now time.Time) (*domain.Pool, *domain.Asset, decimal.Decimal, error) {
	pool, err := e.repo.PoolByID(ctx, position.PoolID, false)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	asset, err := e.catalog.AssetByID(ctx, pool.AssetID)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}

	deltaT := now.Sub(position.LastRewardCalculation)
	if deltaT < time.Second {
		return pool, asset, decimal.Zero, nil
	}

	apr, err := e.repo.EffectiveApr(ctx, position.PoolID, now)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	ratePerSecond := apr.Div(decimal.NewFromInt(100)).Div(decimal.NewFromInt(365)).Div(decimal.NewFromInt(86400))
	reward := position.Amount.Mul(ratePerSecond).Mul(decimal.NewFromFloat(deltaT.Seconds()))
	if reward.Sign() <= 0 {
		return pool, asset, decimal.Zero, nil
	}

	applied, err := e.repo.ApplyAccrual(ctx, position.ID, now, reward)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	if !applied {
		// Position was unstaked/cancelled concurrently; nothing to accrue.
		return pool, asset, decimal.Zero, nil
	}
	_, err = e.ledger.Post(ctx, ledger.Entry{
		UserID: &position.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
		EntryType: domain.EntryRewardAccrued, Direction: domain.Credit, Amount: reward,
		ReferenceType: "StakePosition", ReferenceID: uuid.New(), BalanceField: ledger.FieldRewardsAccrued,
	})
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	return pool, asset, reward, nil
}

// AccruePosition runs one accrual step for a single position in its own
// transaction, used by the background accrual worker's per-position sweep.
func (e *Engine) AccruePosition(ctx context.Context, positionID uuid.UUID, now time.Time) (decimal.Decimal, error) {
	var reward decimal.Decimal
	err := e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		position, err := e.repo.PositionByID(ctx, positionID, true)
		if err != nil {
			return err
		}
		if position.Status != domain.StakeActive {
			return nil
		}
		_, _, r, err := e.accrue(ctx, *position, now)
		if err != nil {
			return err
		}
		reward = r
		return nil
	})
	return reward, err
}

// ClaimRewards settles a position's accrued rewards into the user's
// available balance.
func (e *Engine) ClaimRewards(ctx context.Context, positionID, userID uuid.UUID, now time.Time) (decimal.Decimal, error) {
	var claimed decimal.Decimal
	err := e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		position, err := e.repo.PositionByID(ctx, positionID, true)
		if err != nil {
			return err
		}
		if position.UserID != userID {
			return store.ErrNotFound
		}
		if position.Status != domain.StakeActive {
			return domain.NewDomainRejection(domain.CodeInvalidState, "position %s is not active", positionID)
		}

		if _, _, _, err := e.accrue(ctx, *position, now); err != nil {
			return err
		}
		refreshed, err := e.repo.PositionByID(ctx, positionID, true)
		if err != nil {
			return err
		}
		if refreshed.RewardsAccrued.IsZero() {
			claimed = decimal.Zero
			return nil
		}

		pool, err := e.repo.PoolByID(ctx, refreshed.PoolID, false)
		if err != nil {
			return err
		}
		asset, err := e.catalog.AssetByID(ctx, pool.AssetID)
		if err != nil {
			return err
		}

		ok, err := e.repo.ClaimAccrued(ctx, positionID)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrCASFailed
		}

		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &userID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryRewardClaimed, Direction: domain.Credit, Amount: refreshed.RewardsAccrued,
			ReferenceType: "StakePosition", ReferenceID: positionID, BalanceField: ledger.FieldAvailable,
		})
		if err != nil {
			return err
		}
		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &userID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryRewardClaimed, Direction: domain.Debit, Amount: refreshed.RewardsAccrued,
			ReferenceType: "StakePositionRewardsAccrued", ReferenceID: positionID, BalanceField: ledger.FieldRewardsAccrued,
		})
		if err != nil {
			return err
		}
		claimed = refreshed.RewardsAccrued
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return claimed, nil
}

// Unstake begins or finalizes a withdrawal from a stake position,
// depending on the pool's cooldown configuration. It returns the refreshed
// position and, if the pool has a cooldown, the time it ends.
func (e *Engine) Unstake(ctx context.Context, positionID, userID uuid.UUID, now time.Time) (*domain.StakePosition, *time.Time, error) {
	var cooldownEndsAt *time.Time
	err := e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		position, err := e.repo.PositionByID(ctx, positionID, true)
		if err != nil {
			return err
		}
		if position.UserID != userID {
			return store.ErrNotFound
		}
		if position.Status != domain.StakeActive {
			return domain.NewDomainRejection(domain.CodeInvalidState, "position %s is not active", positionID)
		}
		if position.LockedUntil != nil && position.LockedUntil.After(now) {
			return domain.NewDomainRejection(domain.CodeStakeLocked, "position is locked until %s", position.LockedUntil.Format(time.RFC3339))
		}

		pool, err := e.repo.PoolByID(ctx, position.PoolID, false)
		if err != nil {
			return err
		}

		if pool.CooldownHours > 0 {
			endsAt := now.Add(time.Duration(pool.CooldownHours) * time.Hour)
			ok, err := e.repo.BeginUnstaking(ctx, positionID, endsAt)
			if err != nil {
				return err
			}
			if !ok {
				return store.ErrCASFailed
			}
			cooldownEndsAt = &endsAt
			return nil
		}

		return e.finalize(ctx, *position, pool, now)
	})
	if err != nil {
		return nil, nil, err
	}
	final, err := e.repo.PositionByID(ctx, positionID, false)
	if err != nil {
		return nil, nil, err
	}
	return final, cooldownEndsAt, nil
}

// FinalizeCooldownDue finalizes one UNSTAKING position whose cooldown has
// elapsed, used by the background cooldown sweep.
func (e *Engine) FinalizeCooldownDue(ctx context.Context, position domain.StakePosition, now time.Time) error {
	return e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := e.repo.PositionByID(ctx, position.ID, true)
		if err != nil {
			return err
		}
		if locked.Status != domain.StakeUnstaking {
			return nil
		}
		pool, err := e.repo.PoolByID(ctx, locked.PoolID, false)
		if err != nil {
			return err
		}
		return e.finalize(ctx, *locked, pool, now)
	})
}

// finalize computes final accrual, pays out amount+rewards, and completes
// the position. Called either directly (no cooldown) or by the cooldown
// sweep once a position's cooldownEndsAt has elapsed. Must run inside an
// already-open transaction (the position row is locked by the caller).
func (e *Engine) finalize(ctx context.Context, position domain.StakePosition, pool *domain.Pool, now time.Time) error {
	_, asset, _, err := e.accrue(ctx, position, now)
	if err != nil {
		return err
	}
	refreshed, err := e.repo.PositionByID(ctx, position.ID, true)
	if err != nil {
		return err
	}
	if refreshed.Status != domain.StakeActive && refreshed.Status != domain.StakeUnstaking {
		return nil
	}

	totalAmount := refreshed.Amount.Add(refreshed.RewardsAccrued)

	ok, err := e.repo.Finalize(ctx, refreshed.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.repo.AddToTotalStaked(ctx, refreshed.PoolID, refreshed.Amount.Neg()); err != nil {
		return err
	}

	_, err = e.ledger.Post(ctx, ledger.Entry{
		UserID: &refreshed.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
		EntryType: domain.EntryUnstakeCompleted, Direction: domain.Credit, Amount: totalAmount,
		ReferenceType: "StakePosition", ReferenceID: refreshed.ID, BalanceField: ledger.FieldAvailable,
	})
	if err != nil {
		return err
	}
	_, err = e.ledger.Post(ctx, ledger.Entry{
		UserID: &refreshed.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
		EntryType: domain.EntryUnstakeCompleted, Direction: domain.Debit, Amount: refreshed.Amount,
		ReferenceType: "StakePositionStaked", ReferenceID: refreshed.ID, BalanceField: ledger.FieldStaked,
	})
	if err != nil {
		return err
	}
	if refreshed.RewardsAccrued.IsPositive() {
		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &refreshed.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryUnstakeCompleted, Direction: domain.Debit, Amount: refreshed.RewardsAccrued,
			ReferenceType: "StakePositionRewardsAccrued", ReferenceID: refreshed.ID, BalanceField: ledger.FieldRewardsAccrued,
		})
		if err != nil {
			return err
		}
	}
	e.logger.Printf("✅ unstake completed position=%s user=%s payout=%s", refreshed.ID, refreshed.UserID, totalAmount)
	return nil
}

// AdminCancel forcibly closes an ACTIVE position, forfeiting accrued
// rewards via an audited ADJUSTMENT entry.
func (e *Engine) AdminCancel(ctx context.Context, positionID uuid.UUID, now time.Time) error {
	return e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		position, err := e.repo.PositionByID(ctx, positionID, true)
		if err != nil {
			return err
		}
		if position.Status != domain.StakeActive {
			return domain.NewDomainRejection(domain.CodeInvalidState, "position %s is not active", positionID)
		}
		pool, err := e.repo.PoolByID(ctx, position.PoolID, false)
		if err != nil {
			return err
		}
		asset, err := e.catalog.AssetByID(ctx, pool.AssetID)
		if err != nil {
			return err
		}

		ok, err := e.repo.Cancel(ctx, positionID, now)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrCASFailed
		}
		if err := e.repo.AddToTotalStaked(ctx, position.PoolID, position.Amount.Neg()); err != nil {
			return err
		}

		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &position.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryStakeCancelled, Direction: domain.Credit, Amount: position.Amount,
			ReferenceType: "StakePosition", ReferenceID: position.ID, BalanceField: ledger.FieldAvailable,
		})
		if err != nil {
			return err
		}
		_, err = e.ledger.Post(ctx, ledger.Entry{
			UserID: &position.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
			EntryType: domain.EntryStakeCancelled, Direction: domain.Debit, Amount: position.Amount,
			ReferenceType: "StakePositionStaked", ReferenceID: position.ID, BalanceField: ledger.FieldStaked,
		})
		if err != nil {
			return err
		}
		if position.RewardsAccrued.IsPositive() {
			_, err = e.ledger.Post(ctx, ledger.Entry{
				UserID: &position.UserID, AssetID: pool.AssetID, ChainID: asset.ChainID,
				EntryType: domain.EntryAdjustment, Direction: domain.Debit, Amount: position.RewardsAccrued,
				ReferenceType: "StakePositionForfeitedRewards", ReferenceID: position.ID, BalanceField: ledger.FieldNone,
				Metadata: map[string]interface{}{"reason": "admin_cancel_forfeiture"},
			})
			if err != nil {
				return err
			}
		}
		e.logger.Printf("⚠️  stake admin-cancelled position=%s forfeited_rewards=%s", position.ID, position.RewardsAccrued)
		return nil
	})
}
