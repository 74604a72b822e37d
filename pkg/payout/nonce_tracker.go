package payout

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptostake/platform/pkg/chain"
)

// nonceState tracks one reserved nonce through broadcast and confirmation.
type nonceState struct {
	status      string // "reserved", "submitted", "confirmed", "failed"
	reservedAt  time.Time
	submittedAt time.Time
}

// chainNonces is the per-chain nonce bookkeeping a NonceTracker multiplexes
// over; every chain the treasury disburses on gets its own sequence rooted
// at the account's on-chain pending nonce.
type chainNonces struct {
	lastKnown uint64
	pending   map[uint64]*nonceState
	lastQuery time.Time
}

// NonceTracker serializes nonce assignment for the treasury wallet on each
// chain, so concurrent payout attempts never reuse a nonce and stall each
// other out. One instance is shared across all payout executor goroutines;
// the payout queue subscription itself runs with concurrency 1 per chain,
// but a tracker also protects manual/administrative broadcasts run out of
// band.
type NonceTracker struct {
	mu     sync.Mutex
	byChain map[int64]*chainNonces

	queryInterval time.Duration
	maxPending    int

	logger *log.Logger
}

// NewNonceTracker constructs a NonceTracker.
func NewNonceTracker(logger *log.Logger) *NonceTracker {
	if logger == nil {
		logger = log.New(log.Writer(), "[NonceTracker] ", log.LstdFlags)
	}
	return &NonceTracker{
		byChain:       make(map[int64]*chainNonces),
		queryInterval: 30 * time.Second,
		maxPending:    100,
		logger:        logger,
	}
}

// Next reserves the next nonce to use for address on client's chain,
// refreshing the cached on-chain nonce if it is stale.
func (t *NonceTracker) Next(ctx context.Context, client *chain.Client, address string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cn, ok := t.byChain[client.ChainID]
	if !ok {
		cn = &chainNonces{pending: make(map[uint64]*nonceState)}
		t.byChain[client.ChainID] = cn
	}

	if time.Since(cn.lastQuery) > t.queryInterval {
		if err := t.refresh(ctx, client, address, cn); err != nil {
			t.logger.Printf("⚠️  chain=%d refresh nonce failed, using cached value: %v", client.ChainID, err)
		}
	}

	next := cn.lastKnown
	for {
		if state, exists := cn.pending[next]; exists && (state.status == "reserved" || state.status == "submitted") {
			next++
			continue
		}
		break
	}

	if len(cn.pending) >= t.maxPending {
		return 0, fmt.Errorf("payout: chain=%d too many pending nonces: %d", client.ChainID, len(cn.pending))
	}

	cn.pending[next] = &nonceState{status: "reserved", reservedAt: time.Now()}
	return next, nil
}

// MarkSubmitted records that the reserved nonce was broadcast successfully.
func (t *NonceTracker) MarkSubmitted(chainID int64, nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cn, ok := t.byChain[chainID]; ok {
		if state, exists := cn.pending[nonce]; exists {
			state.status = "submitted"
			state.submittedAt = time.Now()
		}
	}
}

// MarkConfirmed records that nonce has been mined and advances the
// chain's known nonce floor past it.
func (t *NonceTracker) MarkConfirmed(chainID int64, nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cn, ok := t.byChain[chainID]
	if !ok {
		return
	}
	if state, exists := cn.pending[nonce]; exists {
		state.status = "confirmed"
	}
	if nonce >= cn.lastKnown {
		cn.lastKnown = nonce + 1
	}
	t.cleanup(cn)
}

// MarkFailed frees a reserved nonce so a subsequent Next call can reuse it.
func (t *NonceTracker) MarkFailed(chainID int64, nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cn, ok := t.byChain[chainID]; ok {
		delete(cn.pending, nonce)
	}
}

func (t *NonceTracker) refresh(ctx context.Context, client *chain.Client, address string, cn *chainNonces) error {
	nonce, err := client.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return err
	}
	cn.lastKnown = nonce
	cn.lastQuery = time.Now()
	return nil
}

func (t *NonceTracker) cleanup(cn *chainNonces) {
	threshold := time.Now().Add(-5 * time.Minute)
	for nonce, state := range cn.pending {
		if state.status == "confirmed" && state.reservedAt.Before(threshold) {
			delete(cn.pending, nonce)
		}
	}
}
