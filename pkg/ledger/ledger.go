// Package ledger implements the append-only double-entry journal described
// by the platform's data model: every balance-affecting event is recorded
// as one or more LedgerEntry rows before the BalanceCache projection is
// updated in the same transaction.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// metadataJSON marshals an entry's metadata map for the JSONB column,
// treating a nil map as an empty JSON object.
func metadataJSON(m map[string]interface{}) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// oneShotTypes lists the LedgerEntryTypes that are posted at most once per
// (referenceType, referenceId). Post does not consult this set.
var oneShotTypes = map[domain.LedgerEntryType]bool{
	domain.EntryDepositConfirmed:           true,
	domain.EntryWithdrawalRequested:        true,
	domain.EntryWithdrawalRequestedPending: true,
	domain.EntryWithdrawalRejected:         true,
	domain.EntryWithdrawalRejectedPending:  true,
	domain.EntryWithdrawalPaid:             true,
	domain.EntryStakeCreated:               true,
	domain.EntryUnstakeCompleted:           true,
	domain.EntryRewardClaimed:              true,
}

// Entry is the input to Post: everything needed to append one journal row
// and apply its effect to the balance projection.
type Entry struct {
	UserID        *uuid.UUID
	AssetID       uuid.UUID
	ChainID       uuid.UUID
	EntryType     domain.LedgerEntryType
	Direction     domain.Direction
	Amount        decimal.Decimal
	ReferenceType string
	ReferenceID   uuid.UUID
	Metadata      map[string]interface{}

	// BalanceField selects which BalanceCache column this entry moves.
	// Empty means the entry is informational only (no balance effect),
	// used for pool-level bookkeeping entries that have no UserID.
	BalanceField Field
}

// Field names a BalanceCache column an Entry can move.
type Field string

const (
	FieldAvailable          Field = "available"
	FieldStaked             Field = "staked"
	FieldRewardsAccrued     Field = "rewards_accrued"
	FieldWithdrawalsPending Field = "withdrawals_pending"
	FieldNone               Field = ""
)

// Ledger posts journal entries and keeps the balance projection in lockstep.
type Ledger struct {
	store *store.Client
}

// New constructs a Ledger backed by the given store client.
func New(s *store.Client) *Ledger {
	return &Ledger{store: s}
}

// Post appends e to the journal and applies its balance effect, all inside
// the caller's transaction (joined via ctx, or opened fresh if ctx carries
// none). The (entryType, referenceType, referenceId) uniqueness constraint
// enforced by the schema makes one-shot entry types idempotent: a repeated
// Post for the same reference returns store.ErrConflict instead of
// double-applying the movement.
func (l *Ledger) Post(ctx context.Context, e Entry) (*domain.LedgerEntry, error) {
	if e.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("ledger: amount must be positive, got %s", e.Amount)
	}

	var entry *domain.LedgerEntry
	err := l.store.RunInTransaction(ctx, func(ctx context.Context) error {
		q := l.store.Queryer(ctx)

		id := uuid.New()
		row := q.QueryRowContext(ctx, `
			INSERT INTO ledger_entries
				(id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_field, reference_type, reference_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at`,
			id, e.UserID, e.AssetID, e.ChainID, e.EntryType, e.Direction, e.Amount, string(e.BalanceField), e.ReferenceType, e.ReferenceID, metadataJSON(e.Metadata))

		entry = &domain.LedgerEntry{
			ID: id, UserID: e.UserID, AssetID: e.AssetID, ChainID: e.ChainID,
			EntryType: e.EntryType, Direction: e.Direction, Amount: e.Amount, BalanceField: string(e.BalanceField),
			ReferenceType: e.ReferenceType, ReferenceID: e.ReferenceID, Metadata: e.Metadata,
		}
		if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return fmt.Errorf("ledger: insert entry: %w", err)
		}

		if e.BalanceField == FieldNone || e.UserID == nil {
			return nil
		}
		delta := e.Amount
		if e.Direction == domain.Debit {
			delta = delta.Neg()
		}
		balAfter, err := applyBalanceDelta(ctx, q, *e.UserID, e.AssetID, e.ChainID, e.BalanceField, delta)
		if err != nil {
			return fmt.Errorf("ledger: apply balance delta: %w", err)
		}
		entry.BalanceAfter = &balAfter
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// applyBalanceDelta adds delta to the named field of the (user, asset,
// chain) balance row, creating the row with zero balances first if it does
// not exist, and returns the resulting value of that field. The UPSERT is
// a single statement so concurrent posts against the same balance serialize
// correctly under the ledger's SERIALIZABLE isolation.
func applyBalanceDelta(ctx context.Context, q store.Queryer, userID, assetID, chainID uuid.UUID, field Field, delta decimal.Decimal) (decimal.Decimal, error) {
	col := string(field)
	query := fmt.Sprintf(`
		INSERT INTO balance_cache (user_id, asset_id, chain_id, %s, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, asset_id, chain_id)
		DO UPDATE SET %s = balance_cache.%s + EXCLUDED.%s, updated_at = now()
		RETURNING %s`, col, col, col, col, col)

	var result decimal.Decimal
	err := q.QueryRowContext(ctx, query, userID, assetID, chainID, delta).Scan(&result)
	if err != nil {
		return decimal.Zero, err
	}
	if result.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("balance_cache.%s would go negative for user %s", col, userID)
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// Checked by substring rather than a *pq.Error type assertion so the
	// same logic works against sqlmock-driven repository tests.
	s := err.Error()
	return strings.Contains(s, "duplicate key value violates unique constraint") || strings.Contains(s, "23505")
}
