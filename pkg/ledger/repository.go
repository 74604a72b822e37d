package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository provides read access to the journal for statements and audits.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// ForUser returns a user's ledger entries, most recent first, bounded by
// limit.
func (r *Repository) ForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_after,
		       reference_type, reference_id, metadata, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list for user: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByReference returns every ledger entry posted against a given
// (referenceType, referenceId) pair, used to check whether a one-shot
// event has already been recorded before retrying it.
func (r *Repository) ByReference(ctx context.Context, referenceType string, referenceID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, asset_id, chain_id, entry_type, direction, amount, balance_after,
		       reference_type, reference_id, metadata, created_at
		FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at ASC`, referenceType, referenceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by reference: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AlreadyPosted reports whether a one-shot entry of entryType already
// exists for the given reference, used by callers that want to check
// before attempting a Post that would otherwise surface store.ErrConflict.
func (r *Repository) AlreadyPosted(ctx context.Context, entryType domain.LedgerEntryType, referenceType string, referenceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE entry_type = $1 AND reference_type = $2 AND reference_id = $3
		)`, entryType, referenceType, referenceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: already posted check: %w", err)
	}
	return exists, nil
}

func scanEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.AssetID, &e.ChainID, &e.EntryType, &e.Direction,
			&e.Amount, &e.BalanceAfter, &e.ReferenceType, &e.ReferenceID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
