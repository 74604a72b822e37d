package balance

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/store"
)

// Discrepancy describes a mismatch between the balance_cache projection and
// the value recomputed from ledger_entries for one (user, asset, chain, field).
type Discrepancy struct {
	UserID     uuid.UUID
	AssetID    uuid.UUID
	ChainID    uuid.UUID
	Field      ledger.Field
	Cached     decimal.Decimal
	Recomputed decimal.Decimal
}

// validBalanceFields whitelists the balance_field values that may be
// interpolated into a balance_cache column reference, since the column
// name can't be parameterized. Every value ledger.Post actually writes
// appears here; anything else (including the empty string recorded for
// entries with no balance effect) is skipped rather than trusted.
var validBalanceFields = map[ledger.Field]bool{
	ledger.FieldAvailable:          true,
	ledger.FieldStaked:             true,
	ledger.FieldRewardsAccrued:     true,
	ledger.FieldWithdrawalsPending: true,
}

// Reconciler recomputes balance_cache from ledger_entries and reports or
// fixes any drift. It is invoked by the stakingd -reconcile CLI path, never
// from request-serving code.
type Reconciler struct {
	store  *store.Client
	logger *log.Logger
}

// NewReconciler constructs a Reconciler backed by the given store client.
func NewReconciler(s *store.Client, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{store: s, logger: logger}
}

// Run recomputes every (user, asset, chain, field) balance from the ledger
// and compares it against balance_cache. When fix is true, mismatching rows
// are corrected in place inside a single transaction.
func (r *Reconciler) Run(ctx context.Context, fix bool) ([]Discrepancy, error) {
	var discrepancies []Discrepancy

	err := r.store.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.store.Queryer(ctx)

		rows, err := q.QueryContext(ctx, `
			SELECT user_id, asset_id, chain_id, balance_field, direction, amount
			FROM ledger_entries
			WHERE user_id IS NOT NULL AND balance_field != ''
			ORDER BY user_id, asset_id, chain_id`)
		if err != nil {
			return fmt.Errorf("reconcile: scan ledger: %w", err)
		}

		type key struct {
			user, asset, chain uuid.UUID
			field              ledger.Field
		}
		totals := make(map[key]decimal.Decimal)

		for rows.Next() {
			var userID, assetID, chainID uuid.UUID
			var field ledger.Field
			var direction domain.Direction
			var amount decimal.Decimal
			if err := rows.Scan(&userID, &assetID, &chainID, &field, &direction, &amount); err != nil {
				rows.Close()
				return fmt.Errorf("reconcile: scan row: %w", err)
			}
			if !validBalanceFields[field] {
				continue
			}
			k := key{userID, assetID, chainID, field}
			if direction == domain.Debit {
				amount = amount.Neg()
			}
			totals[k] = totals[k].Add(amount)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for k, recomputed := range totals {
			var cached decimal.Decimal
			col := string(k.field)
			selErr := q.QueryRowContext(ctx, fmt.Sprintf(`
				SELECT %s FROM balance_cache WHERE user_id=$1 AND asset_id=$2 AND chain_id=$3`, col),
				k.user, k.asset, k.chain).Scan(&cached)
			if selErr != nil {
				cached = decimal.Zero
			}
			if !cached.Equal(recomputed) {
				discrepancies = append(discrepancies, Discrepancy{
					UserID: k.user, AssetID: k.asset, ChainID: k.chain,
					Field: k.field, Cached: cached, Recomputed: recomputed,
				})
				if fix {
					_, err := q.ExecContext(ctx, fmt.Sprintf(`
						INSERT INTO balance_cache (user_id, asset_id, chain_id, %s, updated_at)
						VALUES ($1,$2,$3,$4,now())
						ON CONFLICT (user_id, asset_id, chain_id)
						DO UPDATE SET %s = EXCLUDED.%s, updated_at = now()`, col, col, col),
						k.user, k.asset, k.chain, recomputed)
					if err != nil {
						return fmt.Errorf("reconcile: fix %s for user %s: %w", col, k.user, err)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range discrepancies {
		r.logger.Printf("⚠️  balance drift user=%s field=%s cached=%s recomputed=%s", d.UserID, d.Field, d.Cached, d.Recomputed)
	}
	return discrepancies, nil
}
