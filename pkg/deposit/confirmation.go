package deposit

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/chain"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/notify"
	"github.com/cryptostake/platform/pkg/store"
)

// ConfirmationTracker advances AWAITING and CONFIRMING deposits to
// CONFIRMED once they
// accumulate enough block confirmations, emitting the DEPOSIT_CONFIRMED
// ledger credit exactly once per deposit.
type ConfirmationTracker struct {
	store    *store.Client
	repo     *Repository
	chains   *catalog.Repository
	registry *chain.Registry
	ledger   *ledger.Ledger
	notify   *notify.Repository
	logger   *log.Logger
}

// NewConfirmationTracker constructs a ConfirmationTracker.
func NewConfirmationTracker(s *store.Client, repo *Repository, chains *catalog.Repository, registry *chain.Registry, l *ledger.Ledger, n *notify.Repository, logger *log.Logger) *ConfirmationTracker {
	if logger == nil {
		logger = log.New(log.Writer(), "[Deposit] ", log.LstdFlags)
	}
	return &ConfirmationTracker{store: s, repo: repo, chains: chains, registry: registry, ledger: l, notify: n, logger: logger}
}

// RunAll sweeps every active chain's unconfirmed deposits, logging and
// continuing past a single chain's failure.
func (t *ConfirmationTracker) RunAll(ctx context.Context) {
	chains, err := t.chains.ActiveChains(ctx)
	if err != nil {
		t.logger.Printf("❌ confirmation sweep: list active chains: %v", err)
		return
	}
	for _, c := range chains {
		if err := t.RunChain(ctx, c); err != nil {
			t.logger.Printf("⚠️  confirmation sweep %s: %v", c.Slug, err)
		}
	}
}

// RunChain advances every AWAITING and CONFIRMING deposit on one chain.
func (t *ConfirmationTracker) RunChain(ctx context.Context, c domain.Chain) error {
	client, ok := t.registry.BySlug(c.Slug)
	if !ok {
		return nil
	}
	deposits, err := t.repo.ListByStatus(ctx, c.ID, domain.DepositAwaiting)
	if err != nil {
		return err
	}
	confirming, err := t.repo.ListByStatus(ctx, c.ID, domain.DepositConfirming)
	if err != nil {
		return err
	}
	deposits = append(deposits, confirming...)
	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	for _, d := range deposits {
		if err := t.advance(ctx, client, c, d, head); err != nil {
			t.logger.Printf("⚠️  confirmation advance deposit=%s: %v", d.ID, err)
		}
	}
	return nil
}

func (t *ConfirmationTracker) advance(ctx context.Context, client *chain.Client, c domain.Chain, d domain.Deposit, head uint64) error {
	receipt, err := client.Receipt(ctx, common.HexToHash(d.TxHash))
	if err == chain.ErrPending {
		return nil
	}
	if err != nil {
		return err
	}
	blockNum := receipt.BlockNumber.Uint64()
	if head < blockNum {
		return nil
	}
	confirmations := int(head-blockNum) + 1

	if confirmations < c.ConfirmationsRequired {
		return t.repo.UpdateConfirmations(ctx, d.ID, confirmations)
	}

	return t.store.RunInTransaction(ctx, func(ctx context.Context) error {
		confirmed, err := t.repo.MarkConfirmed(ctx, d.ID, confirmations)
		if err != nil {
			return err
		}
		if !confirmed {
			// Another pass already finalized this deposit.
			return nil
		}
		_, err = t.ledger.Post(ctx, ledger.Entry{
			UserID:        &d.UserID,
			AssetID:       d.AssetID,
			ChainID:       d.ChainID,
			EntryType:     domain.EntryDepositConfirmed,
			Direction:     domain.Credit,
			Amount:        d.Amount,
			ReferenceType: "Deposit",
			ReferenceID:   d.ID,
			BalanceField:  ledger.FieldAvailable,
			Metadata: map[string]interface{}{
				"txHash": d.TxHash,
			},
		})
		if err != nil {
			return err
		}
		t.notify.Emit(ctx, d.UserID, "DEPOSIT_CONFIRMED", "Deposit confirmed",
			"Your deposit has been confirmed and credited to your available balance.",
			map[string]interface{}{"depositId": d.ID.String(), "amount": d.Amount.String()})
		t.logger.Printf("✅ deposit confirmed id=%s user=%s amount=%s", d.ID, d.UserID, d.Amount)
		return nil
	})
}
