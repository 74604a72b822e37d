// Package payout executes approved withdrawal requests: it signs and
// broadcasts the on-chain transfer via the treasury signer, tracks the
// resulting PayoutTx to confirmation, and completes the withdrawal once
// enough confirmations have accumulated.
package payout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository persists PayoutTx and TreasuryWallet rows.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// ActiveTreasuryWallet returns the active treasury wallet authorized to
// disburse funds on chainID. A chain is expected to have exactly one.
func (r *Repository) ActiveTreasuryWallet(ctx context.Context, chainID uuid.UUID) (*domain.TreasuryWallet, error) {
	w := &domain.TreasuryWallet{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, chain_id, address, encrypted_private_key, is_active, label
		FROM treasury_wallets WHERE chain_id = $1 AND is_active = true LIMIT 1`, chainID).Scan(
		&w.ID, &w.ChainID, &w.Address, &w.EncryptedPrivateKey, &w.IsActive, &w.Label)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payout: active treasury wallet: %w", err)
	}
	return w, nil
}

// InsertTreasuryWallet registers a treasury wallet for a chain. The caller
// supplies the already-encrypted private key envelope; this repository never
// sees plaintext key material.
func (r *Repository) InsertTreasuryWallet(ctx context.Context, chainID uuid.UUID, address string, encryptedPrivateKey []byte, label string) (*domain.TreasuryWallet, error) {
	w := &domain.TreasuryWallet{
		ID: uuid.New(), ChainID: chainID, Address: address,
		EncryptedPrivateKey: encryptedPrivateKey, IsActive: true, Label: label,
	}
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO treasury_wallets (id, chain_id, address, encrypted_private_key, is_active, label)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.ChainID, w.Address, w.EncryptedPrivateKey, w.IsActive, w.Label)
	if err != nil {
		return nil, fmt.Errorf("payout: insert treasury wallet: %w", err)
	}
	return w, nil
}

// InsertPending creates the PayoutTx row for a request as soon as the
// payout executor starts working it.
func (r *Repository) InsertPending(ctx context.Context, requestID uuid.UUID) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO payout_txs (withdrawal_request_id, status, attempts)
		VALUES ($1, $2, 0)
		ON CONFLICT (withdrawal_request_id) DO NOTHING`, requestID, domain.PayoutPending)
	if err != nil {
		return fmt.Errorf("payout: insert pending: %w", err)
	}
	return nil
}

// ByRequestID returns a PayoutTx by its withdrawal request, optionally
// locked FOR UPDATE.
func (r *Repository) ByRequestID(ctx context.Context, requestID uuid.UUID, forUpdate bool) (*domain.PayoutTx, error) {
	clause := `WHERE withdrawal_request_id = $1`
	if forUpdate {
		clause += ` FOR UPDATE`
	}
	p := &domain.PayoutTx{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT withdrawal_request_id, tx_hash, nonce, gas_used, status, confirmations, error_message,
		       sent_at, confirmed_at, attempts
		FROM payout_txs %s`, clause), requestID).Scan(
		&p.WithdrawalRequestID, &p.TxHash, &p.Nonce, &p.GasUsed, &p.Status, &p.Confirmations, &p.ErrorMessage,
		&p.SentAt, &p.ConfirmedAt, &p.Attempts)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payout: by request id: %w", err)
	}
	return p, nil
}

// MarkSent records a successful broadcast: the tx hash, nonce used, and
// bumps the attempt counter.
func (r *Repository) MarkSent(ctx context.Context, requestID uuid.UUID, txHash string, nonce uint64, sentAt time.Time) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE payout_txs
		SET status = $2, tx_hash = $3, nonce = $4, sent_at = $5, attempts = attempts + 1
		WHERE withdrawal_request_id = $1`, requestID, domain.PayoutSent, txHash, nonce, sentAt)
	if err != nil {
		return fmt.Errorf("payout: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a broadcast or on-chain failure.
func (r *Repository) MarkFailed(ctx context.Context, requestID uuid.UUID, errMsg string) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE payout_txs SET status = $2, error_message = $3, attempts = attempts + 1
		WHERE withdrawal_request_id = $1`, requestID, domain.PayoutFailed, errMsg)
	if err != nil {
		return fmt.Errorf("payout: mark failed: %w", err)
	}
	return nil
}

// UpdateConfirmations bumps the tracked confirmation count for an in-flight
// payout and sets its status to CONFIRMING.
func (r *Repository) UpdateConfirmations(ctx context.Context, requestID uuid.UUID, confirmations int) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE payout_txs SET confirmations = $2, status = $3
		WHERE withdrawal_request_id = $1`, requestID, confirmations, domain.PayoutConfirming)
	if err != nil {
		return fmt.Errorf("payout: update confirmations: %w", err)
	}
	return nil
}

// MarkConfirmed finalizes a PayoutTx once it has reached the required
// confirmation depth, CAS-guarded against double application.
func (r *Repository) MarkConfirmed(ctx context.Context, requestID uuid.UUID, confirmations int, gasUsed uint64, confirmedAt time.Time) (bool, error) {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE payout_txs
		SET status = $2, confirmations = $3, gas_used = $4, confirmed_at = $5
		WHERE withdrawal_request_id = $1 AND status != $2`,
		requestID, domain.PayoutConfirmed, confirmations, gasUsed, confirmedAt)
	if err != nil {
		return false, fmt.Errorf("payout: mark confirmed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
