package deposit

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/config"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/signer"
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
	if _, err := db.ExecContext(ctx, `INSERT INTO chains (id, slug, chain_id, rpc_endpoint, explorer_url, confirmations_required) VALUES ($1,$2,1,'http://x','http://x',3)`, chainID, "test-"+chainID.String()[:8]); err != nil {
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

func TestAllocator_GetOrCreate_IsIdempotent(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, _, chainID := seedUserAssetChain(t, ctx)

	repo := NewRepository(testStore)
	cat := catalog.NewRepository(testStore)
	hd := signer.NewSoftwareHDSigner([]byte("a-master-key-at-least-32-bytes-long"))
	alloc := NewAllocator(testStore, repo, cat, hd, nil)

	first, err := alloc.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate (first): %v", err)
	}
	if first.Address == "" {
		t.Fatal("expected a derived address")
	}

	second, err := alloc.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if second.Address != first.Address || second.ID != first.ID {
		t.Fatalf("expected the same address to be returned on a repeat call, got %+v then %+v", first, second)
	}
}

func TestAllocator_GetOrCreate_DistinctUsersGetDistinctAddresses(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userA, _, chainID := seedUserAssetChain(t, ctx)
	userB, _, _ := seedUserAssetChain(t, ctx)

	repo := NewRepository(testStore)
	cat := catalog.NewRepository(testStore)
	hd := signer.NewSoftwareHDSigner([]byte("a-master-key-at-least-32-bytes-long"))
	alloc := NewAllocator(testStore, repo, cat, hd, nil)

	a, err := alloc.GetOrCreate(ctx, userA, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate userA: %v", err)
	}
	b, err := alloc.GetOrCreate(ctx, userB, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate userB: %v", err)
	}
	if a.Address == b.Address {
		t.Fatal("expected distinct users on the same chain to receive distinct addresses")
	}
}

func TestRepository_InsertObserved_RejectsDuplicateTxLogChain(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	repo := NewRepository(testStore)
	cat := catalog.NewRepository(testStore)
	hd := signer.NewSoftwareHDSigner([]byte("a-master-key-at-least-32-bytes-long"))
	alloc := NewAllocator(testStore, repo, cat, hd, nil)

	addr, err := alloc.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	logIndex := 2
	d := domain.Deposit{
		UserID: userID, AssetID: assetID, ChainID: chainID, DepositAddressID: addr.ID,
		TxHash: "0xabc", LogIndex: &logIndex, FromAddress: "0xdef", Amount: decimal.NewFromInt(100),
	}

	if _, err := repo.InsertObserved(ctx, d); err != nil {
		t.Fatalf("first InsertObserved: %v", err)
	}
	if _, err := repo.InsertObserved(ctx, d); err != store.ErrConflict {
		t.Fatalf("expected store.ErrConflict re-observing the same (txHash, logIndex, chainId), got %v", err)
	}
}

func TestRepository_UpdateConfirmations_AdvancesAwaitingToConfirming(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	repo := NewRepository(testStore)
	cat := catalog.NewRepository(testStore)
	hd := signer.NewSoftwareHDSigner([]byte("a-master-key-at-least-32-bytes-long"))
	alloc := NewAllocator(testStore, repo, cat, hd, nil)

	addr, err := alloc.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	logIndex := 0
	inserted, err := repo.InsertObserved(ctx, domain.Deposit{
		UserID: userID, AssetID: assetID, ChainID: chainID, DepositAddressID: addr.ID,
		TxHash: "0xfeed", LogIndex: &logIndex, FromAddress: "0xdef", Amount: decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("InsertObserved: %v", err)
	}
	if inserted.Status != domain.DepositAwaiting {
		t.Fatalf("expected freshly observed deposit to start AWAITING, got %s", inserted.Status)
	}

	if err := repo.UpdateConfirmations(ctx, inserted.ID, 1); err != nil {
		t.Fatalf("UpdateConfirmations: %v", err)
	}

	confirming, err := repo.ListByStatus(ctx, chainID, domain.DepositConfirming)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	found := false
	for _, dep := range confirming {
		if dep.ID == inserted.ID {
			found = true
			if dep.Confirmations != 1 {
				t.Fatalf("expected confirmations=1, got %d", dep.Confirmations)
			}
		}
	}
	if !found {
		t.Fatal("expected the deposit to have transitioned to CONFIRMING")
	}
}

func TestRepository_MarkConfirmed_IsCompareAndSwap(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	repo := NewRepository(testStore)
	cat := catalog.NewRepository(testStore)
	hd := signer.NewSoftwareHDSigner([]byte("a-master-key-at-least-32-bytes-long"))
	alloc := NewAllocator(testStore, repo, cat, hd, nil)

	addr, err := alloc.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	logIndex := 1
	inserted, err := repo.InsertObserved(ctx, domain.Deposit{
		UserID: userID, AssetID: assetID, ChainID: chainID, DepositAddressID: addr.ID,
		TxHash: "0xbeef", LogIndex: &logIndex, FromAddress: "0xdef", Amount: decimal.NewFromInt(75),
	})
	if err != nil {
		t.Fatalf("InsertObserved: %v", err)
	}

	first, err := repo.MarkConfirmed(ctx, inserted.ID, 3)
	if err != nil {
		t.Fatalf("MarkConfirmed (first): %v", err)
	}
	if !first {
		t.Fatal("expected the first MarkConfirmed call to report it applied the transition")
	}

	second, err := repo.MarkConfirmed(ctx, inserted.ID, 3)
	if err != nil {
		t.Fatalf("MarkConfirmed (second): %v", err)
	}
	if second {
		t.Fatal("expected a repeat MarkConfirmed call to report no-op, the deposit is already CONFIRMED")
	}
}
