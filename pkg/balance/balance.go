// Package balance provides read access to the BalanceCache projection and a
// reconciler that recomputes it from the ledger to detect drift.
package balance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository reads the materialized balance projection.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// Get returns a user's balance row for (asset, chain), or a zeroed row if
// none exists yet (a user with no activity has no balance_cache row).
func (r *Repository) Get(ctx context.Context, userID, assetID, chainID uuid.UUID) (domain.BalanceCache, error) {
	var b domain.BalanceCache
	b.UserID, b.AssetID, b.ChainID = userID, assetID, chainID

	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT available, staked, rewards_accrued, withdrawals_pending, updated_at
		FROM balance_cache
		WHERE user_id = $1 AND asset_id = $2 AND chain_id = $3`,
		userID, assetID, chainID,
	).Scan(&b.Available, &b.Staked, &b.RewardsAccrued, &b.WithdrawalsPending, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		// A user with no activity against this (asset, chain) pair simply
		// has no row yet; that is a valid zero balance, not an error.
		b.Available, b.Staked, b.RewardsAccrued, b.WithdrawalsPending = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
		return b, nil
	}
	if err != nil {
		return domain.BalanceCache{}, fmt.Errorf("balance: get: %w", err)
	}
	return b, nil
}

// ForUser returns every balance row the user holds across assets/chains.
func (r *Repository) ForUser(ctx context.Context, userID uuid.UUID) ([]domain.BalanceCache, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT user_id, asset_id, chain_id, available, staked, rewards_accrued, withdrawals_pending, updated_at
		FROM balance_cache
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("balance: list for user: %w", err)
	}
	defer rows.Close()

	var out []domain.BalanceCache
	for rows.Next() {
		var b domain.BalanceCache
		if err := rows.Scan(&b.UserID, &b.AssetID, &b.ChainID, &b.Available, &b.Staked,
			&b.RewardsAccrued, &b.WithdrawalsPending, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("balance: scan row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
