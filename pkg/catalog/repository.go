// Package catalog provides read/write access to the reference data every
// other component joins against: configured Chains and the Assets that
// trade on them. Rows here change rarely (operator-driven), unlike the
// high-churn ledger/balance/position tables.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// Repository persists Chain and Asset rows.
type Repository struct {
	store *store.Client
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client) *Repository {
	return &Repository{store: s}
}

// ChainBySlug returns a chain by its configured slug (e.g. "ETHEREUM").
func (r *Repository) ChainBySlug(ctx context.Context, slug string) (*domain.Chain, error) {
	c := &domain.Chain{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, slug, chain_id, rpc_endpoint, explorer_url, confirmations_required, is_active
		FROM chains WHERE slug = $1`, slug).Scan(
		&c.ID, &c.Slug, &c.ChainID, &c.RPCEndpoint, &c.ExplorerURL, &c.ConfirmationsRequired, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: chain by slug: %w", err)
	}
	return c, nil
}

// ChainByID returns a chain by its primary key.
func (r *Repository) ChainByID(ctx context.Context, id uuid.UUID) (*domain.Chain, error) {
	c := &domain.Chain{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, slug, chain_id, rpc_endpoint, explorer_url, confirmations_required, is_active
		FROM chains WHERE id = $1`, id).Scan(
		&c.ID, &c.Slug, &c.ChainID, &c.RPCEndpoint, &c.ExplorerURL, &c.ConfirmationsRequired, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: chain by id: %w", err)
	}
	return c, nil
}

// ActiveChains returns every chain flagged active, used by background
// workers to decide which chains to scan/sweep/poll.
func (r *Repository) ActiveChains(ctx context.Context) ([]domain.Chain, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, slug, chain_id, rpc_endpoint, explorer_url, confirmations_required, is_active
		FROM chains WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("catalog: active chains: %w", err)
	}
	defer rows.Close()
	var out []domain.Chain
	for rows.Next() {
		var c domain.Chain
		if err := rows.Scan(&c.ID, &c.Slug, &c.ChainID, &c.RPCEndpoint, &c.ExplorerURL, &c.ConfirmationsRequired, &c.IsActive); err != nil {
			return nil, fmt.Errorf("catalog: scan chain: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AssetByID returns an asset by its primary key.
func (r *Repository) AssetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	a := &domain.Asset{}
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		SELECT id, chain_id, symbol, decimals, contract_address, is_native, is_active, price_usd
		FROM assets WHERE id = $1`, id).Scan(
		&a.ID, &a.ChainID, &a.Symbol, &a.Decimals, &a.ContractAddress, &a.IsNative, &a.IsActive, &a.PriceUsd)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: asset by id: %w", err)
	}
	return a, nil
}

// ActiveAssetsOnChain returns every active, non-native asset with a
// contract address on the given chain, the set the deposit scanner polls
// ERC-20 Transfer logs for.
func (r *Repository) ActiveAssetsOnChain(ctx context.Context, chainID uuid.UUID) ([]domain.Asset, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, chain_id, symbol, decimals, contract_address, is_native, is_active, price_usd
		FROM assets
		WHERE chain_id = $1 AND is_active = true AND is_native = false AND contract_address IS NOT NULL`, chainID)
	if err != nil {
		return nil, fmt.Errorf("catalog: active assets on chain: %w", err)
	}
	defer rows.Close()
	var out []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.ChainID, &a.Symbol, &a.Decimals, &a.ContractAddress, &a.IsNative, &a.IsActive, &a.PriceUsd); err != nil {
			return nil, fmt.Errorf("catalog: scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertChain inserts or updates a chain row keyed by slug, used by the
// YAML catalog seed loader to reconcile a deployment's chains with an
// operator-maintained file instead of hand-written migrations.
func (r *Repository) UpsertChain(ctx context.Context, c domain.Chain) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.store.Queryer(ctx).QueryRowContext(ctx, `
		INSERT INTO chains (slug, chain_id, rpc_endpoint, explorer_url, confirmations_required, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET
			chain_id = EXCLUDED.chain_id,
			rpc_endpoint = EXCLUDED.rpc_endpoint,
			explorer_url = EXCLUDED.explorer_url,
			confirmations_required = EXCLUDED.confirmations_required,
			is_active = EXCLUDED.is_active
		RETURNING id`,
		c.Slug, c.ChainID, c.RPCEndpoint, c.ExplorerURL, c.ConfirmationsRequired, c.IsActive).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("catalog: upsert chain %s: %w", c.Slug, err)
	}
	return id, nil
}

// UpsertAsset inserts or updates an asset row keyed by (chain, symbol).
func (r *Repository) UpsertAsset(ctx context.Context, a domain.Asset) error {
	_, err := r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO assets (chain_id, symbol, decimals, contract_address, is_native, is_active, price_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain_id, symbol) DO UPDATE SET
			decimals = EXCLUDED.decimals,
			contract_address = EXCLUDED.contract_address,
			is_native = EXCLUDED.is_native,
			is_active = EXCLUDED.is_active,
			price_usd = EXCLUDED.price_usd`,
		a.ChainID, a.Symbol, a.Decimals, a.ContractAddress, a.IsNative, a.IsActive, a.PriceUsd)
	if err != nil {
		return fmt.Errorf("catalog: upsert asset %s: %w", a.Symbol, err)
	}
	return nil
}

// ListAssets returns every asset on every chain, ordered by symbol, for the
// public /v1/pools listing to join against.
func (r *Repository) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, chain_id, symbol, decimals, contract_address, is_native, is_active, price_usd
		FROM assets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list assets: %w", err)
	}
	defer rows.Close()
	var out []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.ChainID, &a.Symbol, &a.Decimals, &a.ContractAddress, &a.IsNative, &a.IsActive, &a.PriceUsd); err != nil {
			return nil, fmt.Errorf("catalog: scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
