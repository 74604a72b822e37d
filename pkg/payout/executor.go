package payout

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/chain"
	"github.com/cryptostake/platform/pkg/clock"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/notify"
	"github.com/cryptostake/platform/pkg/queue"
	"github.com/cryptostake/platform/pkg/signer"
	"github.com/cryptostake/platform/pkg/store"
	"github.com/cryptostake/platform/pkg/withdrawal"
)

// CheckPayoutStatusJob is the queue job name scheduled after a broadcast,
// polling the chain for confirmation.
const CheckPayoutStatusJob = "checkPayoutStatus"

// maxStatusCheckAttempts bounds how many times checkPayoutStatus re-polls
// before giving up and letting the job fall to the dead-letter queue for
// manual investigation.
const maxStatusCheckAttempts = 20

// transferSelector is the first four bytes of keccak256("transfer(address,uint256)"),
// the ERC-20 method ID the executor encodes for non-native payouts.
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// Executor signs, broadcasts, and tracks approved withdrawal payouts. It
// subscribes to the withdrawal engine's processPayout queue with
// concurrency 1 per chain, serializing broadcasts through the shared
// NonceTracker.
type Executor struct {
	store    *store.Client
	repo     *Repository
	wreqs    *withdrawal.Repository
	catalog  *catalog.Repository
	registry *chain.Registry
	ledger   *ledger.Ledger
	notify   *notify.Repository
	signer   signer.TreasurySigner
	nonces   *NonceTracker
	queue    queue.Queue
	clock    clock.Clock

	logger *log.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(s *store.Client, repo *Repository, wreqs *withdrawal.Repository, cat *catalog.Repository,
	registry *chain.Registry, l *ledger.Ledger, n *notify.Repository, sgn signer.TreasurySigner,
	nonces *NonceTracker, q queue.Queue, clk clock.Clock, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[Payout] ", log.LstdFlags)
	}
	return &Executor{
		store: s, repo: repo, wreqs: wreqs, catalog: cat, registry: registry, ledger: l, notify: n,
		signer: sgn, nonces: nonces, queue: q, clock: clk, logger: logger,
	}
}

// Subscribe registers the executor's job handlers on q: a single
// processPayout worker, so payout broadcasts never race each other over the
// same treasury nonce, and four checkPayoutStatus workers.
func (e *Executor) Subscribe(ctx context.Context, q queue.Queue) error {
	if err := q.Subscribe(ctx, withdrawal.ProcessPayoutJob, 1, e.handleProcessPayout); err != nil {
		return fmt.Errorf("payout: subscribe processPayout: %w", err)
	}
	if err := q.Subscribe(ctx, CheckPayoutStatusJob, 4, e.handleCheckStatus); err != nil {
		return fmt.Errorf("payout: subscribe checkPayoutStatus: %w", err)
	}
	return nil
}

func (e *Executor) handleProcessPayout(ctx context.Context, job queue.Job) error {
	requestID, err := uuid.Parse(string(job.Payload))
	if err != nil {
		return fmt.Errorf("payout: invalid requestID payload %q: %w", job.Payload, err)
	}
	return e.process(ctx, requestID)
}

func (e *Executor) process(ctx context.Context, requestID uuid.UUID) error {
	req, err := e.wreqs.ByID(ctx, requestID, false)
	if err != nil {
		return err
	}
	if req.Status != domain.WithdrawalApproved {
		e.logger.Printf("⚠️  payout requestId=%s is %s, not APPROVED; skipping", requestID, req.Status)
		return nil
	}

	asset, err := e.catalog.AssetByID(ctx, req.AssetID)
	if err != nil {
		return err
	}
	ch, err := e.catalog.ChainByID(ctx, req.ChainID)
	if err != nil {
		return err
	}
	client, ok := e.registry.ByChainID(ch.ChainID)
	if !ok {
		return fmt.Errorf("payout: no dialed client for chain %s", ch.Slug)
	}
	wallet, err := e.repo.ActiveTreasuryWallet(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("payout: no active treasury wallet for chain %s: %w", ch.Slug, err)
	}

	if err := e.wreqs.CompareAndSwapStatus(ctx, requestID, domain.WithdrawalApproved, domain.WithdrawalProcessing); err != nil {
		return err
	}
	if err := e.repo.InsertPending(ctx, requestID); err != nil {
		return err
	}

	envelope, err := e.buildEnvelope(ctx, client, wallet.Address, asset, req)
	if err != nil {
		e.failPayout(ctx, requestID, err)
		return err
	}

	signed, err := e.signer.Sign(ctx, big.NewInt(client.ChainID), wallet.EncryptedPrivateKey, envelope)
	if err != nil {
		e.nonces.MarkFailed(client.ChainID, envelope.Nonce)
		e.failPayout(ctx, requestID, err)
		return err
	}

	txHash, nonce, err := client.Send(ctx, signed)
	if err != nil {
		e.nonces.MarkFailed(client.ChainID, envelope.Nonce)
		if !chain.IsTransient(err) {
			e.failPayout(ctx, requestID, err)
		}
		return err
	}
	e.nonces.MarkSubmitted(client.ChainID, nonce)

	if err := e.repo.MarkSent(ctx, requestID, txHash, nonce, e.clock.Now()); err != nil {
		return err
	}
	if err := e.wreqs.CompareAndSwapStatus(ctx, requestID, domain.WithdrawalProcessing, domain.WithdrawalSent); err != nil {
		return err
	}
	e.logger.Printf("✅ payout broadcast requestId=%s txHash=%s chain=%s", requestID, txHash, ch.Slug)

	payload := []byte(requestID.String())
	if err := e.queue.Enqueue(ctx, CheckPayoutStatusJob, payload, queue.EnqueueOptions{InitialDelay: 30 * time.Second, MaxAttempts: maxStatusCheckAttempts}); err != nil {
		e.logger.Printf("❌ payout requestId=%s sent but failed to schedule confirmation poll: %v", requestID, err)
	}
	return nil
}

func (e *Executor) buildEnvelope(ctx context.Context, client *chain.Client, from string, asset *domain.Asset, req *domain.WithdrawalRequest) (signer.TxEnvelope, error) {
	nonce, err := e.nonces.Next(ctx, client, from)
	if err != nil {
		return signer.TxEnvelope{}, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return signer.TxEnvelope{}, err
	}

	rawAmount := req.NetAmount.Shift(int32(asset.Decimals)).BigInt()

	if asset.IsNative {
		return signer.TxEnvelope{
			Nonce: nonce, To: req.DestinationAddress, ValueWei: rawAmount, GasLimit: 21_000, GasPrice: gasPrice,
		}, nil
	}
	if asset.ContractAddress == nil {
		return signer.TxEnvelope{}, fmt.Errorf("payout: asset %s has no contract address", asset.Symbol)
	}
	data := encodeTransferCall(req.DestinationAddress, rawAmount)
	return signer.TxEnvelope{
		Nonce: nonce, To: *asset.ContractAddress, ValueWei: common.Big0, Data: data, GasLimit: 80_000, GasPrice: gasPrice,
	}, nil
}

func encodeTransferCall(to string, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func (e *Executor) failPayout(ctx context.Context, requestID uuid.UUID, cause error) {
	if err := e.repo.MarkFailed(ctx, requestID, cause.Error()); err != nil {
		e.logger.Printf("❌ payout requestId=%s: failed to record failure: %v", requestID, err)
	}
	if err := e.wreqs.CompareAndSwapStatus(ctx, requestID, domain.WithdrawalProcessing, domain.WithdrawalFailed); err != nil {
		e.logger.Printf("❌ payout requestId=%s: failed to mark request FAILED: %v", requestID, err)
	}
	e.logger.Printf("❌ payout requestId=%s failed: %v", requestID, cause)
}

func (e *Executor) handleCheckStatus(ctx context.Context, job queue.Job) error {
	requestID, err := uuid.Parse(string(job.Payload))
	if err != nil {
		return fmt.Errorf("payout: invalid requestID payload %q: %w", job.Payload, err)
	}
	return e.checkStatus(ctx, requestID, job.Attempt)
}

func (e *Executor) checkStatus(ctx context.Context, requestID uuid.UUID, attempt int) error {
	req, err := e.wreqs.ByID(ctx, requestID, false)
	if err != nil {
		return err
	}
	if req.Status != domain.WithdrawalSent && req.Status != domain.WithdrawalConfirming {
		return nil
	}
	tx, err := e.repo.ByRequestID(ctx, requestID, false)
	if err != nil {
		return err
	}
	if tx.TxHash == nil {
		return fmt.Errorf("payout: requestId=%s has no broadcast tx hash", requestID)
	}

	ch, err := e.catalog.ChainByID(ctx, req.ChainID)
	if err != nil {
		return err
	}
	client, ok := e.registry.ByChainID(ch.ChainID)
	if !ok {
		return fmt.Errorf("payout: no dialed client for chain %s", ch.Slug)
	}

	receipt, err := client.Receipt(ctx, common.HexToHash(*tx.TxHash))
	if err == chain.ErrPending {
		return e.reschedule(ctx, requestID, attempt)
	}
	if err != nil {
		if chain.IsTransient(err) {
			return e.reschedule(ctx, requestID, attempt)
		}
		return err
	}

	if receipt.Status == types.ReceiptStatusFailed {
		e.nonces.MarkFailed(client.ChainID, *tx.Nonce)
		e.failPayout(ctx, requestID, fmt.Errorf("transaction reverted on-chain"))
		return nil
	}

	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return e.reschedule(ctx, requestID, attempt)
	}
	confirmations := int(head-receipt.BlockNumber.Uint64()) + 1
	if confirmations < ch.ConfirmationsRequired {
		if err := e.repo.UpdateConfirmations(ctx, requestID, confirmations); err != nil {
			return err
		}
		if err := e.wreqs.CompareAndSwapStatus(ctx, requestID, domain.WithdrawalSent, domain.WithdrawalConfirming); err != nil && err != store.ErrCASFailed {
			return err
		}
		return e.reschedule(ctx, requestID, attempt)
	}

	e.nonces.MarkConfirmed(client.ChainID, *tx.Nonce)

	applied, err := e.repo.MarkConfirmed(ctx, requestID, confirmations, receipt.GasUsed, e.clock.Now())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	err = e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := e.wreqs.CompareAndSwapStatus(ctx, requestID, req.Status, domain.WithdrawalCompleted); err != nil {
			return err
		}
		_, err := e.ledger.Post(ctx, ledger.Entry{
			UserID: &req.UserID, AssetID: req.AssetID, ChainID: req.ChainID,
			EntryType: domain.EntryWithdrawalPaid, Direction: domain.Debit, Amount: req.Amount,
			ReferenceType: "WithdrawalRequestPending", ReferenceID: req.ID,
			BalanceField: ledger.FieldWithdrawalsPending,
		})
		return err
	})
	if err != nil {
		return err
	}

	e.notify.Emit(ctx, req.UserID, "withdrawal_completed", "Withdrawal complete",
		fmt.Sprintf("Your withdrawal of %s has been confirmed on-chain.", req.NetAmount), map[string]interface{}{
			"withdrawalRequestId": req.ID.String(), "txHash": *tx.TxHash,
		})
	e.logger.Printf("✅ payout confirmed requestId=%s txHash=%s confirmations=%d", requestID, *tx.TxHash, confirmations)
	return nil
}

// reschedule returns an error so the queue redelivers the checkPayoutStatus
// job with its backoff; the job carries MaxAttempts = maxStatusCheckAttempts,
// so the queue dead-letters it after the last poll.
func (e *Executor) reschedule(ctx context.Context, requestID uuid.UUID, attempt int) error {
	if attempt >= maxStatusCheckAttempts {
		return fmt.Errorf("payout: requestId=%s exceeded %d confirmation polls", requestID, maxStatusCheckAttempts)
	}
	return fmt.Errorf("payout: requestId=%s not final yet (poll %d/%d)", requestID, attempt, maxStatusCheckAttempts)
}
