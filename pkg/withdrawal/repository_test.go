package withdrawal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

func seedUserAssetChain(t *testing.T, ctx context.Context) (userID, assetID, chainID uuid.UUID) {
	t.Helper()
	userID, assetID, chainID = uuid.New(), uuid.New(), uuid.New()
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
	return
}

func TestRepository_InsertAndByIdempotencyKey(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	repo := NewRepository(testStore)
	userID, assetID, chainID := seedUserAssetChain(t, ctx)

	w, err := repo.Insert(ctx, domain.WithdrawalRequest{
		UserID: userID, AssetID: assetID, ChainID: chainID,
		Amount: decimal.NewFromInt(100), Fee: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(99),
		DestinationAddress: "0xabc", IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if w.Status != domain.WithdrawalPendingReview {
		t.Fatalf("expected PENDING_REVIEW, got %s", w.Status)
	}

	got, err := repo.ByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("ByIdempotencyKey: %v", err)
	}
	if got.ID != w.ID {
		t.Fatalf("expected same request, got different id")
	}
}

func TestRepository_CompareAndSwapStatus(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	repo := NewRepository(testStore)
	userID, assetID, chainID := seedUserAssetChain(t, ctx)

	w, err := repo.Insert(ctx, domain.WithdrawalRequest{
		UserID: userID, AssetID: assetID, ChainID: chainID,
		Amount: decimal.NewFromInt(100), Fee: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(99),
		DestinationAddress: "0xabc", IdempotencyKey: "key-2",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := repo.CompareAndSwapStatus(ctx, w.ID, domain.WithdrawalPendingReview, domain.WithdrawalApproved); err != nil {
		t.Fatalf("CompareAndSwapStatus: %v", err)
	}

	// Repeating the same CAS against the now-stale expected status must fail.
	if err := repo.CompareAndSwapStatus(ctx, w.ID, domain.WithdrawalPendingReview, domain.WithdrawalApproved); err != store.ErrCASFailed {
		t.Fatalf("expected ErrCASFailed on stale CAS, got %v", err)
	}
}

func TestRepository_WhitelistEntryFirstSeenThenFound(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	repo := NewRepository(testStore)
	userID, _, chainID := seedUserAssetChain(t, ctx)

	if _, err := repo.WhitelistEntry(ctx, userID, chainID, "0xdeadbeef"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound before insert, got %v", err)
	}

	cooldown := time.Now().Add(24 * time.Hour)
	if err := repo.InsertWhitelistEntry(ctx, userID, chainID, "0xdeadbeef", cooldown); err != nil {
		t.Fatalf("InsertWhitelistEntry: %v", err)
	}

	entry, err := repo.WhitelistEntry(ctx, userID, chainID, "0xdeadbeef")
	if err != nil {
		t.Fatalf("WhitelistEntry: %v", err)
	}
	if entry.Address != "0xdeadbeef" {
		t.Fatalf("unexpected address: %s", entry.Address)
	}
}
