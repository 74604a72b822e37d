package deposit

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/signer"
	"github.com/cryptostake/platform/pkg/store"
)

// Allocator hands out platform-controlled deposit addresses, deriving a
// fresh one the first time a user asks for a given chain and returning the
// existing row on every subsequent call.
type Allocator struct {
	store   *store.Client
	repo    *Repository
	chains  *catalog.Repository
	signer  signer.HDSigner
	logger  *log.Logger
}

// NewAllocator constructs an Allocator.
func NewAllocator(s *store.Client, repo *Repository, chains *catalog.Repository, hd signer.HDSigner, logger *log.Logger) *Allocator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Deposit] ", log.LstdFlags)
	}
	return &Allocator{store: s, repo: repo, chains: chains, signer: hd, logger: logger}
}

// GetOrCreate returns the user's existing deposit address on chainID, or
// derives and persists a new one. Derivation-index assignment happens
// inside a transaction guarded by pg_advisory_xact_lock(chainId) so two
// concurrent allocation requests for the same chain (different users, or a
// racing double-click from the same user) can't compute the same index;
// the unique constraint on derivation_index is the backstop if the lock is
// ever bypassed.
func (a *Allocator) GetOrCreate(ctx context.Context, userID, chainID uuid.UUID) (*domain.DepositAddress, error) {
	if existing, err := a.repo.AddressFor(ctx, userID, chainID); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	chain, err := a.chains.ChainByID(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("deposit: allocate: load chain: %w", err)
	}

	var addr *domain.DepositAddress
	err = a.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := a.store.Queryer(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chain.ChainID); err != nil {
			return fmt.Errorf("deposit: advisory lock: %w", err)
		}

		// Re-check inside the lock: another request may have allocated
		// between our first read and acquiring the lock.
		if existing, err := a.repo.AddressFor(ctx, userID, chainID); err == nil {
			addr = existing
			return nil
		} else if err != store.ErrNotFound {
			return err
		}

		index, err := a.repo.NextDerivationIndex(ctx, chainID)
		if err != nil {
			return err
		}
		address, path, err := a.signer.DeriveAddress(ctx, chain.Slug, index)
		if err != nil {
			return fmt.Errorf("deposit: derive address: %w", err)
		}
		inserted, err := a.repo.InsertAddress(ctx, userID, chainID, address, path, index)
		if err != nil {
			return err
		}
		addr = inserted
		a.logger.Printf("✅ allocated deposit address chain=%s user=%s index=%d", chain.Slug, userID, index)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}
