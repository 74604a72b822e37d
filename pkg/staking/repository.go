// Package staking implements pool/AprSchedule lookups, the stake lifecycle
// (create, accrue, claim, unstake/cooldown, admin-cancel), and the
// background reward accrual worker described by the staking engine
// component.
package staking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository persists Pool, AprSchedule, and StakePosition rows.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// PoolBySlug returns a pool by its public slug.
func (r *Repository) PoolBySlug(ctx context.Context, slug string) (*domain.Pool, error) {
	return r.scanOnePool(ctx, `WHERE slug = $1`, slug)
}

// PoolByID returns a pool by its primary key, locking the row FOR UPDATE
// when called inside a transaction so concurrent stakes against the same
// pool serialize on totalStaked/totalCapacity checks.
func (r *Repository) PoolByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Pool, error) {
	clause := `WHERE id = $1`
	if forUpdate {
		clause += ` FOR UPDATE`
	}
	return r.scanOnePool(ctx, clause, id)
}

func (r *Repository) scanOnePool(ctx context.Context, whereClause string, arg interface{}) (*domain.Pool, error) {
	p := &domain.Pool{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, slug, asset_id, type, lock_days, current_apr, min_stake, max_stake,
		       total_capacity, total_staked, cooldown_hours, is_active
		FROM pools %s`, whereClause), arg).Scan(
		&p.ID, &p.Name, &p.Slug, &p.AssetID, &p.Type, &p.LockDays, &p.CurrentApr, &p.MinStake, &p.MaxStake,
		&p.TotalCapacity, &p.TotalStaked, &p.CooldownHours, &p.IsActive)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("staking: pool: %w", err)
	}
	return p, nil
}

// ListActivePools returns every active pool, for the public pool catalog.
func (r *Repository) ListActivePools(ctx context.Context) ([]domain.Pool, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, name, slug, asset_id, type, lock_days, current_apr, min_stake, max_stake,
		       total_capacity, total_staked, cooldown_hours, is_active
		FROM pools WHERE is_active = true ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("staking: list pools: %w", err)
	}
	defer rows.Close()
	var out []domain.Pool
	for rows.Next() {
		var p domain.Pool
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.AssetID, &p.Type, &p.LockDays, &p.CurrentApr, &p.MinStake,
			&p.MaxStake, &p.TotalCapacity, &p.TotalStaked, &p.CooldownHours, &p.IsActive); err != nil {
			return nil, fmt.Errorf("staking: scan pool: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPool creates a new staking product, used by the admin pool-creation
// endpoint.
func (r *Repository) InsertPool(ctx context.Context, p domain.Pool) (*domain.Pool, error) {
	p.ID = uuid.New()
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO pools (id, name, slug, asset_id, type, lock_days, current_apr, min_stake, max_stake,
			total_capacity, total_staked, cooldown_hours, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12)`,
		p.ID, p.Name, p.Slug, p.AssetID, p.Type, p.LockDays, p.CurrentApr, p.MinStake, p.MaxStake,
		p.TotalCapacity, p.CooldownHours, p.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("staking: insert pool: %w", err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, needle := range []string{"duplicate key value violates unique constraint", "23505"} {
		if containsStr(s, needle) {
			return true
		}
	}
	return false
}

func containsStr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// AddToTotalStaked adds delta (which may be negative) to pool.totalStaked.
func (r *Repository) AddToTotalStaked(ctx context.Context, poolID uuid.UUID, delta decimal.Decimal) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE pools SET total_staked = total_staked + $2 WHERE id = $1`, poolID, delta)
	if err != nil {
		return fmt.Errorf("staking: add to total staked: %w", err)
	}
	return nil
}

// EffectiveApr returns the APR from the AprSchedule row active at instant
// t (effectiveFrom <= t < effectiveTo, or effectiveTo IS NULL), per the
// resolved Open Question that reward accrual must never read
// pool.currentApr, which is display-cache-only.
func (r *Repository) EffectiveApr(ctx context.Context, poolID uuid.UUID, t time.Time) (decimal.Decimal, error) {
	var apr decimal.Decimal
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT apr FROM apr_schedules
		WHERE pool_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY effective_from DESC LIMIT 1`, poolID, t).Scan(&apr)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("staking: no active apr schedule for pool %s at %s", poolID, t)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("staking: effective apr: %w", err)
	}
	return apr, nil
}

// InsertAprSchedule adds a new rate, closing out the prior open-ended
// schedule row (if any) at effectiveFrom so the two never overlap.
func (r *Repository) InsertAprSchedule(ctx context.Context, poolID uuid.UUID, apr decimal.Decimal, effectiveFrom time.Time) (*domain.AprSchedule, error) {
	s := &domain.AprSchedule{ID: uuid.New(), PoolID: poolID, Apr: apr, EffectiveFrom: effectiveFrom}
	return s, r.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.store.Queryer(ctx).ExecContext(ctx, `
			UPDATE apr_schedules SET effective_to = $2
			WHERE pool_id = $1 AND effective_to IS NULL`, poolID, effectiveFrom); err != nil {
			return fmt.Errorf("staking: close prior apr schedule: %w", err)
		}
		_, err := r.store.Queryer(ctx).ExecContext(ctx, `
			INSERT INTO apr_schedules (id, pool_id, apr, effective_from, effective_to)
			VALUES ($1, $2, $3, $4, NULL)`, s.ID, s.PoolID, s.Apr, s.EffectiveFrom)
		if err != nil {
			return fmt.Errorf("staking: insert apr schedule: %w", err)
		}
		return nil
	})
}

// InsertPosition inserts a new stake position.
func (r *Repository) InsertPosition(ctx context.Context, p domain.StakePosition) (*domain.StakePosition, error) {
	p.ID = uuid.New()
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO stake_positions
			(id, user_id, pool_id, amount, rewards_accrued, rewards_claimed, last_reward_calculation, status, locked_until)
		VALUES ($1,$2,$3,$4,0,0,$5,$6,$7)`,
		p.ID, p.UserID, p.PoolID, p.Amount, p.LastRewardCalculation, p.Status, p.LockedUntil)
	if err != nil {
		return nil, fmt.Errorf("staking: insert position: %w", err)
	}
	return &p, nil
}

// PositionByID returns a stake position, optionally locking it FOR UPDATE.
func (r *Repository) PositionByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.StakePosition, error) {
	clause := `WHERE id = $1`
	if forUpdate {
		clause += ` FOR UPDATE`
	}
	return r.scanOnePosition(ctx, clause, id)
}

func (r *Repository) scanOnePosition(ctx context.Context, whereClause string, arg interface{}) (*domain.StakePosition, error) {
	p := &domain.StakePosition{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, pool_id, amount, rewards_accrued, rewards_claimed, last_reward_calculation,
		       status, locked_until, cooldown_ends_at, unstaked_at
		FROM stake_positions %s`, whereClause), arg).Scan(
		&p.ID, &p.UserID, &p.PoolID, &p.Amount, &p.RewardsAccrued, &p.RewardsClaimed, &p.LastRewardCalculation,
		&p.Status, &p.LockedUntil, &p.CooldownEndsAt, &p.UnstakedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("staking: position: %w", err)
	}
	return p, nil
}

// ForUser returns a user's stake positions, most recently created first.
func (r *Repository) ForUser(ctx context.Context, userID uuid.UUID) ([]domain.StakePosition, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, pool_id, amount, rewards_accrued, rewards_claimed, last_reward_calculation,
		       status, locked_until, cooldown_ends_at, unstaked_at
		FROM stake_positions WHERE user_id = $1 ORDER BY last_reward_calculation DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("staking: for user: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListActive returns every ACTIVE position, for the accrual worker.
func (r *Repository) ListActive(ctx context.Context) ([]domain.StakePosition, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, pool_id, amount, rewards_accrued, rewards_claimed, last_reward_calculation,
		       status, locked_until, cooldown_ends_at, unstaked_at
		FROM stake_positions WHERE status = 'ACTIVE'`)
	if err != nil {
		return nil, fmt.Errorf("staking: list active: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListCooldownDue returns every UNSTAKING position whose cooldown has
// elapsed, for the cooldown sweep.
func (r *Repository) ListCooldownDue(ctx context.Context, now time.Time) ([]domain.StakePosition, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, pool_id, amount, rewards_accrued, rewards_claimed, last_reward_calculation,
		       status, locked_until, cooldown_ends_at, unstaked_at
		FROM stake_positions WHERE status = 'UNSTAKING' AND cooldown_ends_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("staking: list cooldown due: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]domain.StakePosition, error) {
	var out []domain.StakePosition
	for rows.Next() {
		var p domain.StakePosition
		if err := rows.Scan(&p.ID, &p.UserID, &p.PoolID, &p.Amount, &p.RewardsAccrued, &p.RewardsClaimed,
			&p.LastRewardCalculation, &p.Status, &p.LockedUntil, &p.CooldownEndsAt, &p.UnstakedAt); err != nil {
			return nil, fmt.Errorf("staking: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyAccrual advances a position's accrual bookkeeping by delta,
// guarded by a status='ACTIVE' compare-and-swap so a position that was
// concurrently unstaked doesn't receive a phantom accrual after the fact.
func (r *Repository) ApplyAccrual(ctx context.Context, id uuid.UUID, lastCalc time.Time, delta decimal.Decimal) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE stake_positions
		SET rewards_accrued = rewards_accrued + $2, last_reward_calculation = $3
		WHERE id = $1 AND status = 'ACTIVE'`, id, delta, lastCalc)
	if err != nil {
		return false, fmt.Errorf("staking: apply accrual: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimAccrued zeroes rewardsAccrued and folds it into rewardsClaimed.
// Callers fetch the position FOR UPDATE first so they already know the
// amount being claimed before this runs.
func (r *Repository) ClaimAccrued(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE stake_positions
		SET rewards_claimed = rewards_claimed + rewards_accrued, rewards_accrued = 0
		WHERE id = $1 AND status = 'ACTIVE'`, id)
	if err != nil {
		return false, fmt.Errorf("staking: claim accrued: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BeginUnstaking transitions ACTIVE -> UNSTAKING with a cooldown deadline.
func (r *Repository) BeginUnstaking(ctx context.Context, id uuid.UUID, cooldownEndsAt time.Time) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE stake_positions SET status = 'UNSTAKING', cooldown_ends_at = $2
		WHERE id = $1 AND status = 'ACTIVE'`, id, cooldownEndsAt)
	if err != nil {
		return false, fmt.Errorf("staking: begin unstaking: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Finalize transitions ACTIVE or UNSTAKING -> COMPLETED, zeroing the
// accrual counter now that it has been rolled into the payout.
func (r *Repository) Finalize(ctx context.Context, id uuid.UUID, unstakedAt time.Time) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE stake_positions
		SET status = 'COMPLETED', unstaked_at = $2, rewards_accrued = 0
		WHERE id = $1 AND status IN ('ACTIVE', 'UNSTAKING')`, id, unstakedAt)
	if err != nil {
		return false, fmt.Errorf("staking: finalize: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Cancel transitions ACTIVE -> CANCELLED, forfeiting accrued rewards.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE stake_positions
		SET status = 'CANCELLED', unstaked_at = $2, rewards_accrued = 0
		WHERE id = $1 AND status = 'ACTIVE'`, id, at)
	if err != nil {
		return false, fmt.Errorf("staking: cancel: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
