// Package withdrawal implements the admin-gated withdrawal state machine:
// idempotent submission, fraud-scored review queue, and the CAS-guarded
// transitions an administrator drives from PENDING_REVIEW through to a
// terminal state.
package withdrawal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository persists WithdrawalRequest and AddressWhitelistEntry rows.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// ByIdempotencyKey returns an existing request for key, or store.ErrNotFound.
func (r *Repository) ByIdempotencyKey(ctx context.Context, key string) (*domain.WithdrawalRequest, error) {
	return r.scanOne(ctx, `WHERE idempotency_key = $1`, key)
}

// ByID returns a request by primary key, optionally locked FOR UPDATE.
func (r *Repository) ByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.WithdrawalRequest, error) {
	clause := `WHERE id = $1`
	if forUpdate {
		clause += ` FOR UPDATE`
	}
	return r.scanOne(ctx, clause, id)
}

func (r *Repository) scanOne(ctx context.Context, whereClause string, arg interface{}) (*domain.WithdrawalRequest, error) {
	w := &domain.WithdrawalRequest{}
	var indicators []byte
	err := r.store.Queryer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, asset_id, chain_id, amount, fee, net_amount, destination_address, status,
		       user_notes, admin_notes, reviewed_by, reviewed_at, manual_proof_url, idempotency_key,
		       fraud_score, fraud_indicators, created_at
		FROM withdrawal_requests %s`, whereClause), arg).Scan(
		&w.ID, &w.UserID, &w.AssetID, &w.ChainID, &w.Amount, &w.Fee, &w.NetAmount, &w.DestinationAddress, &w.Status,
		&w.UserNotes, &w.AdminNotes, &w.ReviewedBy, &w.ReviewedAt, &w.ManualProofUrl, &w.IdempotencyKey,
		&w.FraudScore, &indicators, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawal: scan: %w", err)
	}
	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &w.FraudIndicators); err != nil {
			return nil, fmt.Errorf("withdrawal: unmarshal fraud indicators: %w", err)
		}
	}
	return w, nil
}

// ForUser returns a user's withdrawal requests, most recent first.
func (r *Repository) ForUser(ctx context.Context, userID uuid.UUID) ([]domain.WithdrawalRequest, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, asset_id, chain_id, amount, fee, net_amount, destination_address, status,
		       user_notes, admin_notes, reviewed_by, reviewed_at, manual_proof_url, idempotency_key,
		       fraud_score, fraud_indicators, created_at
		FROM withdrawal_requests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("withdrawal: for user: %w", err)
	}
	defer rows.Close()
	return scanMany(rows)
}

// ListForReview returns withdrawal requests for the admin queue, optionally
// filtered by status, newest first, paginated.
func (r *Repository) ListForReview(ctx context.Context, status *domain.WithdrawalStatus, page, limit int) ([]domain.WithdrawalRequest, int, error) {
	args := []interface{}{}
	where := ""
	if status != nil {
		args = append(args, *status)
		where = "WHERE status = $1"
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM withdrawal_requests %s`, where)
	if err := r.store.Queryer(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("withdrawal: count for review: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`
		SELECT id, user_id, asset_id, chain_id, amount, fee, net_amount, destination_address, status,
		       user_notes, admin_notes, reviewed_by, reviewed_at, manual_proof_url, idempotency_key,
		       fraud_score, fraud_indicators, created_at
		FROM withdrawal_requests %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("withdrawal: list for review: %w", err)
	}
	defer rows.Close()
	items, err := scanMany(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListByStatus returns every request in the given status.
func (r *Repository) ListByStatus(ctx context.Context, status domain.WithdrawalStatus) ([]domain.WithdrawalRequest, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, user_id, asset_id, chain_id, amount, fee, net_amount, destination_address, status,
		       user_notes, admin_notes, reviewed_by, reviewed_at, manual_proof_url, idempotency_key,
		       fraud_score, fraud_indicators, created_at
		FROM withdrawal_requests WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("withdrawal: list by status: %w", err)
	}
	defer rows.Close()
	return scanMany(rows)
}

func scanMany(rows *sql.Rows) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	for rows.Next() {
		w := domain.WithdrawalRequest{}
		var indicators []byte
		if err := rows.Scan(&w.ID, &w.UserID, &w.AssetID, &w.ChainID, &w.Amount, &w.Fee, &w.NetAmount, &w.DestinationAddress,
			&w.Status, &w.UserNotes, &w.AdminNotes, &w.ReviewedBy, &w.ReviewedAt, &w.ManualProofUrl, &w.IdempotencyKey,
			&w.FraudScore, &indicators, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("withdrawal: scan row: %w", err)
		}
		if len(indicators) > 0 {
			if err := json.Unmarshal(indicators, &w.FraudIndicators); err != nil {
				return nil, fmt.Errorf("withdrawal: unmarshal fraud indicators: %w", err)
			}
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Insert persists a new withdrawal request in PENDING_REVIEW.
func (r *Repository) Insert(ctx context.Context, w domain.WithdrawalRequest) (*domain.WithdrawalRequest, error) {
	w.ID = uuid.New()
	w.Status = domain.WithdrawalPendingReview
	indicators, err := json.Marshal(w.FraudIndicators)
	if err != nil {
		indicators = []byte("[]")
	}
	err = r.store.Queryer(ctx).QueryRowContext(ctx, `
		INSERT INTO withdrawal_requests
			(id, user_id, asset_id, chain_id, amount, fee, net_amount, destination_address, status,
			 user_notes, idempotency_key, fraud_score, fraud_indicators)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		w.ID, w.UserID, w.AssetID, w.ChainID, w.Amount, w.Fee, w.NetAmount, w.DestinationAddress, w.Status,
		w.UserNotes, w.IdempotencyKey, w.FraudScore, indicators,
	).Scan(&w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("withdrawal: insert: %w", err)
	}
	return &w, nil
}

// CompareAndSwapStatus transitions a request from expected to next,
// returning store.ErrCASFailed if the current status no longer matches.
func (r *Repository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, expected, next domain.WithdrawalStatus) error {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $3 WHERE id = $1 AND status = $2`, id, expected, next)
	if err != nil {
		return fmt.Errorf("withdrawal: cas status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrCASFailed
	}
	return nil
}

// Review applies an admin decision (approve/reject/mark-paid) alongside the
// status CAS, recording the reviewer and notes.
func (r *Repository) Review(ctx context.Context, id uuid.UUID, expected []domain.WithdrawalStatus, next domain.WithdrawalStatus, reviewerID uuid.UUID, adminNotes *string, proofURL *string, reviewedAt time.Time) error {
	res, err := r.store.Queryer(ctx).ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4, admin_notes = COALESCE($5, admin_notes), manual_proof_url = COALESCE($6, manual_proof_url)
		WHERE id = $1 AND status = ANY($7)`,
		id, next, reviewerID, reviewedAt, adminNotes, proofURL, statusArray(expected))
	if err != nil {
		return fmt.Errorf("withdrawal: review: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrCASFailed
	}
	return nil
}

func statusArray(statuses []domain.WithdrawalStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// WhitelistEntry returns a user's whitelist row for (chainID, address), or
// store.ErrNotFound if the destination has never been used before.
func (r *Repository) WhitelistEntry(ctx context.Context, userID, chainID uuid.UUID, address string) (*domain.AddressWhitelistEntry, error) {
	e := &domain.AddressWhitelistEntry{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT user_id, chain_id, address, label, cooldown_ends_at
		FROM address_whitelist WHERE user_id = $1 AND chain_id = $2 AND address = $3`,
		userID, chainID, address).Scan(&e.UserID, &e.ChainID, &e.Address, &e.Label, &e.CooldownEndsAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawal: whitelist entry: %w", err)
	}
	return e, nil
}

// InsertWhitelistEntry adds a new destination with a cooldown, a no-op if
// the row already exists (first-time addition only; the cooldown is never
// refreshed by a later withdrawal to the same address).
func (r *Repository) InsertWhitelistEntry(ctx context.Context, userID, chainID uuid.UUID, address string, cooldownEndsAt time.Time) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO address_whitelist (user_id, chain_id, address, cooldown_ends_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chain_id, address) DO NOTHING`, userID, chainID, address, cooldownEndsAt)
	if err != nil {
		return fmt.Errorf("withdrawal: insert whitelist entry: %w", err)
	}
	return nil
}

// CumulativeLast24hUsd sums the USD value (at the given asset price) of a
// user's non-rejected withdrawal amounts over the trailing 24h, for the
// DAILY_LIMIT fraud rule.
func (r *Repository) CumulativeLast24hUsd(ctx context.Context, userID uuid.UUID, assetID uuid.UUID, priceUsd decimal.Decimal, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
		WHERE user_id = $1 AND asset_id = $2 AND created_at >= $3 AND status != 'REJECTED'`,
		userID, assetID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("withdrawal: cumulative 24h: %w", err)
	}
	return sum.Mul(priceUsd), nil
}

// RequestsLast24h counts a user's withdrawal requests over the trailing
// 24h, for the VELOCITY fraud rule.
func (r *Repository) RequestsLast24h(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT count(*) FROM withdrawal_requests WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("withdrawal: requests last 24h: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, needle := range []string{"duplicate key value violates unique constraint", "23505"} {
		if contains(s, needle) {
			return true
		}
	}
	return false
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
