package payout

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cryptostake/platform/pkg/config"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

var testStore *store.Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("STAKING_TEST_DB")
	if dsn == "" {
		os.Exit(0)
	}
	cfg := &config.Config{DatabaseURL: dsn, DatabaseMaxConns: 5, DatabaseMinConns: 1, DatabaseMaxIdleTime: 60, DatabaseMaxLifetime: 300}
	var err error
	testStore, err = store.NewClient(cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := testStore.MigrateUp(context.Background()); err != nil {
		panic("failed to migrate test database: " + err.Error())
	}
	code := m.Run()
	testStore.Close()
	os.Exit(code)
}

// seedWithdrawalRequest creates the minimal user/asset/chain/withdrawal_request
// row graph a PayoutTx's foreign key requires.
func seedWithdrawalRequest(t *testing.T, ctx context.Context) (requestID, chainID uuid.UUID) {
	t.Helper()
	userID, assetID, chainID := uuid.New(), uuid.New(), uuid.New()
	db := testStore.DB()
	if _, err := db.ExecContext(ctx, `INSERT INTO chains (id, slug, chain_id, rpc_endpoint, explorer_url, confirmations_required) VALUES ($1,$2,1,'http://x','http://x',1)`, chainID, "test-"+chainID.String()[:8]); err != nil {
		t.Fatalf("seed chain: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO assets (id, chain_id, symbol, decimals, is_native, is_active, price_usd) VALUES ($1,$2,'TST',18,true,true,1)`, assetID, chainID); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO users (id, email, password_hash_argon2id, role) VALUES ($1,$2,'x','USER')`, userID, userID.String()+"@test.invalid"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	requestID = uuid.New()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, asset_id, chain_id, amount, fee, net_amount, destination_address, idempotency_key)
		VALUES ($1,$2,$3,$4,100,1,99,'0xdead',$5)`,
		requestID, userID, assetID, chainID, requestID.String()); err != nil {
		t.Fatalf("seed withdrawal request: %v", err)
	}
	return requestID, chainID
}

func TestRepository_InsertPending_IsIdempotent(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	requestID, _ := seedWithdrawalRequest(t, ctx)
	repo := NewRepository(testStore)

	if err := repo.InsertPending(ctx, requestID); err != nil {
		t.Fatalf("InsertPending (first): %v", err)
	}
	if err := repo.InsertPending(ctx, requestID); err != nil {
		t.Fatalf("InsertPending (second, should no-op on conflict): %v", err)
	}

	p, err := repo.ByRequestID(ctx, requestID, false)
	if err != nil {
		t.Fatalf("ByRequestID: %v", err)
	}
	if p.Status != domain.PayoutPending {
		t.Fatalf("expected status PENDING, got %s", p.Status)
	}
	if p.Attempts != 0 {
		t.Fatalf("expected the second InsertPending to have been a no-op, attempts=%d", p.Attempts)
	}
}

func TestRepository_ByRequestID_ReturnsErrNotFoundForUnknownRequest(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	repo := NewRepository(testStore)

	if _, err := repo.ByRequestID(ctx, uuid.New(), false); err != store.ErrNotFound {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestRepository_MarkSent_RecordsTxHashAndBumpsAttempts(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	requestID, _ := seedWithdrawalRequest(t, ctx)
	repo := NewRepository(testStore)

	if err := repo.InsertPending(ctx, requestID); err != nil {
		t.Fatalf("InsertPending: %v", err)
	}
	if err := repo.MarkSent(ctx, requestID, "0xfeedbeef", 7, time.Now()); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	p, err := repo.ByRequestID(ctx, requestID, false)
	if err != nil {
		t.Fatalf("ByRequestID: %v", err)
	}
	if p.Status != domain.PayoutSent {
		t.Fatalf("expected status SENT, got %s", p.Status)
	}
	if p.TxHash == nil || *p.TxHash != "0xfeedbeef" {
		t.Fatalf("expected tx_hash 0xfeedbeef, got %v", p.TxHash)
	}
	if p.Nonce == nil || *p.Nonce != 7 {
		t.Fatalf("expected nonce 7, got %v", p.Nonce)
	}
	if p.Attempts != 1 {
		t.Fatalf("expected attempts=1 after one broadcast, got %d", p.Attempts)
	}
}

func TestRepository_MarkConfirmed_IsCompareAndSwap(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	requestID, _ := seedWithdrawalRequest(t, ctx)
	repo := NewRepository(testStore)

	if err := repo.InsertPending(ctx, requestID); err != nil {
		t.Fatalf("InsertPending: %v", err)
	}
	if err := repo.MarkSent(ctx, requestID, "0xabc123", 1, time.Now()); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	first, err := repo.MarkConfirmed(ctx, requestID, 12, 21000, time.Now())
	if err != nil {
		t.Fatalf("MarkConfirmed (first): %v", err)
	}
	if !first {
		t.Fatal("expected the first MarkConfirmed call to apply the transition")
	}

	second, err := repo.MarkConfirmed(ctx, requestID, 12, 21000, time.Now())
	if err != nil {
		t.Fatalf("MarkConfirmed (second): %v", err)
	}
	if second {
		t.Fatal("expected a repeat MarkConfirmed call to report no-op")
	}
}

func TestRepository_TreasuryWallet_RoundTrip(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	_, chainID := seedWithdrawalRequest(t, ctx)
	repo := NewRepository(testStore)

	inserted, err := repo.InsertTreasuryWallet(ctx, chainID, "0xtreasury", []byte("ciphertext"), "primary")
	if err != nil {
		t.Fatalf("InsertTreasuryWallet: %v", err)
	}
	if !inserted.IsActive {
		t.Fatal("expected a newly inserted treasury wallet to be active")
	}

	active, err := repo.ActiveTreasuryWallet(ctx, chainID)
	if err != nil {
		t.Fatalf("ActiveTreasuryWallet: %v", err)
	}
	if active.Address != "0xtreasury" {
		t.Fatalf("expected address 0xtreasury, got %s", active.Address)
	}
}

func TestRepository_ActiveTreasuryWallet_ReturnsErrNotFoundWhenNoneActive(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	_, chainID := seedWithdrawalRequest(t, ctx)
	repo := NewRepository(testStore)

	if _, err := repo.ActiveTreasuryWallet(ctx, chainID); err != store.ErrNotFound {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}
