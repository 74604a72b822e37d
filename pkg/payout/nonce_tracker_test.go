package payout

import (
	"context"
	"testing"
	"time"

	"github.com/cryptostake/platform/pkg/chain"
)

// freshClient avoids Dial/ethclient entirely: as long as the tracker already
// has a recent cached nonce for the chain, Next never calls refresh, so the
// embedded *ethclient.Client staying nil is never touched.
func freshClient(chainID int64) *chain.Client {
	return &chain.Client{ChainID: chainID}
}

func primedTracker(chainID int64, lastKnown uint64) *NonceTracker {
	tr := NewNonceTracker(nil)
	tr.byChain[chainID] = &chainNonces{
		lastKnown: lastKnown,
		pending:   make(map[uint64]*nonceState),
		lastQuery: time.Now(),
	}
	return tr
}

func TestNonceTracker_Next_StartsAtLastKnown(t *testing.T) {
	tr := primedTracker(1, 5)
	n, err := tr.Next(context.Background(), freshClient(1), "0xabc")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected first reserved nonce to be 5, got %d", n)
	}
}

func TestNonceTracker_Next_SkipsReservedAndSubmittedNonces(t *testing.T) {
	tr := primedTracker(1, 5)
	ctx := context.Background()
	client := freshClient(1)

	first, err := tr.Next(ctx, client, "0xabc")
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	tr.MarkSubmitted(1, first)

	second, err := tr.Next(ctx, client, "0xabc")
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if second == first {
		t.Fatalf("expected a distinct nonce while %d is still reserved/submitted", first)
	}
}

func TestNonceTracker_MarkFailed_FreesNonceForReuse(t *testing.T) {
	tr := primedTracker(1, 5)
	ctx := context.Background()
	client := freshClient(1)

	first, err := tr.Next(ctx, client, "0xabc")
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	tr.MarkFailed(1, first)

	second, err := tr.Next(ctx, client, "0xabc")
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if second != first {
		t.Fatalf("expected the freed nonce %d to be reused, got %d", first, second)
	}
}

func TestNonceTracker_MarkConfirmed_AdvancesLastKnown(t *testing.T) {
	tr := primedTracker(1, 5)
	ctx := context.Background()
	client := freshClient(1)

	first, err := tr.Next(ctx, client, "0xabc")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	tr.MarkSubmitted(1, first)
	tr.MarkConfirmed(1, first)

	if got := tr.byChain[1].lastKnown; got != first+1 {
		t.Fatalf("expected lastKnown to advance past the confirmed nonce %d, got %d", first, got)
	}
}

func TestNonceTracker_Next_RejectsWhenPendingPoolIsFull(t *testing.T) {
	tr := primedTracker(1, 0)
	tr.maxPending = 2
	ctx := context.Background()
	client := freshClient(1)

	if _, err := tr.Next(ctx, client, "0xabc"); err != nil {
		t.Fatalf("Next (1/2): %v", err)
	}
	if _, err := tr.Next(ctx, client, "0xabc"); err != nil {
		t.Fatalf("Next (2/2): %v", err)
	}
	if _, err := tr.Next(ctx, client, "0xabc"); err == nil {
		t.Fatal("expected an error once the pending pool is at capacity")
	}
}

func TestNonceTracker_PerChainIsolation(t *testing.T) {
	tr := primedTracker(1, 10)
	tr.byChain[2] = &chainNonces{lastKnown: 99, pending: make(map[uint64]*nonceState), lastQuery: time.Now()}
	ctx := context.Background()

	n1, err := tr.Next(ctx, freshClient(1), "0xabc")
	if err != nil {
		t.Fatalf("Next chain 1: %v", err)
	}
	n2, err := tr.Next(ctx, freshClient(2), "0xdef")
	if err != nil {
		t.Fatalf("Next chain 2: %v", err)
	}
	if n1 != 10 {
		t.Fatalf("expected chain 1 nonce 10, got %d", n1)
	}
	if n2 != 99 {
		t.Fatalf("expected chain 2 nonce 99, got %d", n2)
	}
}
