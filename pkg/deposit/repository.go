// Package deposit implements address allocation, the chain scanner, and
// the confirmation tracker described by the deposit pipeline component:
// every incoming transfer to a platform-controlled address is observed,
// tracked to finality, and credited to the user's available balance
// exactly once.
package deposit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository persists DepositAddress and Deposit rows.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// AddressFor returns a user's existing deposit address on chainID, or
// store.ErrNotFound if none has been allocated yet.
func (r *Repository) AddressFor(ctx context.Context, userID, chainID uuid.UUID) (*domain.DepositAddress, error) {
	a := &domain.DepositAddress{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, chain_id, address, derivation_path, derivation_index
		FROM deposit_addresses WHERE user_id = $1 AND chain_id = $2`, userID, chainID).Scan(
		&a.ID, &a.UserID, &a.ChainID, &a.Address, &a.DerivationPath, &a.DerivationIndex)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deposit: address for: %w", err)
	}
	return a, nil
}

// NextDerivationIndex returns one greater than the highest derivation index
// already allocated on chainID. Call sites must hold the enclosing
// transaction open across this read and the subsequent insert so two
// concurrent allocations can't compute the same index; a unique index on
// (chain_id, derivation_index) is the backstop if they still race.
func (r *Repository) NextDerivationIndex(ctx context.Context, chainID uuid.UUID) (int64, error) {
	var max sql.NullInt64
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT MAX(derivation_index) FROM deposit_addresses WHERE chain_id = $1`, chainID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("deposit: next derivation index: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64 + 1, nil
}

// InsertAddress inserts a newly derived deposit address.
func (r *Repository) InsertAddress(ctx context.Context, userID, chainID uuid.UUID, address, path string, index int64) (*domain.DepositAddress, error) {
	a := &domain.DepositAddress{
		ID: uuid.New(), UserID: userID, ChainID: chainID, Address: address,
		DerivationPath: &path, DerivationIndex: &index,
	}
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO deposit_addresses (id, user_id, chain_id, address, derivation_path, derivation_index)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.ChainID, a.Address, a.DerivationPath, a.DerivationIndex)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("deposit: insert address: %w", err)
	}
	return a, nil
}

// AddressesOnChain returns every deposit address allocated on chainID, for
// the scanner to match Transfer log recipients against.
func (r *Repository) AddressesOnChain(ctx context.Context, chainID uuid.UUID) ([]domain.DepositAddress, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, chain_id, address, derivation_path, derivation_index
		FROM deposit_addresses WHERE chain_id = $1`, chainID)
	if err != nil {
		return nil, fmt.Errorf("deposit: addresses on chain: %w", err)
	}
	defer rows.Close()
	var out []domain.DepositAddress
	for rows.Next() {
		var a domain.DepositAddress
		if err := rows.Scan(&a.ID, &a.UserID, &a.ChainID, &a.Address, &a.DerivationPath, &a.DerivationIndex); err != nil {
			return nil, fmt.Errorf("deposit: scan address: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertObserved inserts a newly observed deposit, returning store.ErrConflict
// (not an error to the caller, just a signal to ignore) when the
// (txHash, logIndex, chainId) unique constraint already has a row — the
// scanner treats re-observation of the same log as a no-op.
func (r *Repository) InsertObserved(ctx context.Context, d domain.Deposit) (*domain.Deposit, error) {
	d.ID = uuid.New()
	d.Status = domain.DepositAwaiting
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		INSERT INTO deposits (id, user_id, asset_id, chain_id, deposit_address_id, tx_hash, log_index, from_address, amount, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		d.ID, d.UserID, d.AssetID, d.ChainID, d.DepositAddressID, d.TxHash, d.LogIndex, d.FromAddress, d.Amount, d.Status,
	).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("deposit: insert observed: %w", err)
	}
	return &d, nil
}

// ListByStatus returns a chain's deposits in the given status, used by the
// confirmation tracker to find work.
func (r *Repository) ListByStatus(ctx context.Context, chainID uuid.UUID, status domain.DepositStatus) ([]domain.Deposit, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, asset_id, chain_id, deposit_address_id, tx_hash, log_index, from_address,
		       amount, confirmations, status, confirmed_at, created_at
		FROM deposits WHERE chain_id = $1 AND status = $2`, chainID, status)
	if err != nil {
		return nil, fmt.Errorf("deposit: list by status: %w", err)
	}
	defer rows.Close()
	return scanDeposits(rows)
}

// ForUser returns a user's deposits, optionally filtered by chain/status.
func (r *Repository) ForUser(ctx context.Context, userID uuid.UUID, chainID *uuid.UUID, status *domain.DepositStatus) ([]domain.Deposit, error) {
	query := `
		SELECT id, user_id, asset_id, chain_id, deposit_address_id, tx_hash, log_index, from_address,
		       amount, confirmations, status, confirmed_at, created_at
		FROM deposits WHERE user_id = $1`
	args := []interface{}{userID}
	if chainID != nil {
		args = append(args, *chainID)
		query += fmt.Sprintf(" AND chain_id = $%d", len(args))
	}
	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deposit: for user: %w", err)
	}
	defer rows.Close()
	return scanDeposits(rows)
}

// UpdateConfirmations bumps a deposit's confirmation count and flips an
// AWAITING deposit to CONFIRMING on the first update, leaving any other
// status unchanged. The tracker calls it while the count is still below
// chain.confirmationsRequired.
func (r *Repository) UpdateConfirmations(ctx context.Context, id uuid.UUID, confirmations int) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE deposits SET confirmations = $2,
		  status = CASE WHEN status = 'AWAITING' THEN 'CONFIRMING' ELSE status END
		WHERE id = $1`, id, confirmations)
	if err != nil {
		return fmt.Errorf("deposit: update confirmations: %w", err)
	}
	return nil
}

// MarkConfirmed transitions a deposit to CONFIRMED, guarded by a
// compare-and-swap on status so two concurrent tracker passes can't both
// apply the transition.
func (r *Repository) MarkConfirmed(ctx context.Context, id uuid.UUID, confirmations int) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE deposits SET status = 'CONFIRMED', confirmations = $2, confirmed_at = now()
		WHERE id = $1 AND status != 'CONFIRMED'`, id, confirmations)
	if err != nil {
		return false, fmt.Errorf("deposit: mark confirmed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetLastScannedBlock reads SystemConfig["lastScannedBlock_<chainSlug>"].
func (r *Repository) GetLastScannedBlock(ctx context.Context, chainSlug string) (uint64, error) {
	var height uint64
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT (value->>'height')::bigint FROM system_config WHERE key = $1`,
		lastScannedKey(chainSlug)).Scan(&height)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("deposit: get last scanned block: %w", err)
	}
	return height, nil
}

// SetLastScannedBlock persists SystemConfig["lastScannedBlock_<chainSlug>"]
// inside the caller's transaction, so it commits atomically with the
// window's new Deposit inserts.
func (r *Repository) SetLastScannedBlock(ctx context.Context, chainSlug string, height uint64) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO system_config (key, value) VALUES ($1, jsonb_build_object('height', $2::bigint))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		lastScannedKey(chainSlug), height)
	if err != nil {
		return fmt.Errorf("deposit: set last scanned block: %w", err)
	}
	return nil
}

func lastScannedKey(chainSlug string) string { return "lastScannedBlock_" + chainSlug }

func scanDeposits(rows *sql.Rows) ([]domain.Deposit, error) {
	var out []domain.Deposit
	for rows.Next() {
		var d domain.Deposit
		if err := rows.Scan(&d.ID, &d.UserID, &d.AssetID, &d.ChainID, &d.DepositAddressID, &d.TxHash, &d.LogIndex,
			&d.FromAddress, &d.Amount, &d.Confirmations, &d.Status, &d.ConfirmedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("deposit: scan row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
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
