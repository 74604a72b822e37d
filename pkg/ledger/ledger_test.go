package ledger

import (
	"context"
	"os"
	"testing"

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

func TestPost_CreditIncreasesAvailableBalance(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	l := New(testStore)
	ctx := context.Background()

	userID, assetID, chainID, refID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	seedBalanceDependencies(t, ctx, userID, assetID, chainID)

	entry, err := l.Post(ctx, Entry{
		UserID: &userID, AssetID: assetID, ChainID: chainID,
		EntryType: domain.EntryDepositConfirmed, Direction: domain.Credit,
		Amount: decimal.NewFromInt(100), ReferenceType: "deposit", ReferenceID: refID,
		BalanceField: FieldAvailable,
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if !entry.BalanceAfter.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance 100, got %s", entry.BalanceAfter)
	}

	// Reposting against the same reference must fail the one-shot
	// uniqueness constraint rather than double-crediting the balance.
	_, err = l.Post(ctx, Entry{
		UserID: &userID, AssetID: assetID, ChainID: chainID,
		EntryType: domain.EntryDepositConfirmed, Direction: domain.Credit,
		Amount: decimal.NewFromInt(100), ReferenceType: "deposit", ReferenceID: refID,
		BalanceField: FieldAvailable,
	})
	if err != store.ErrConflict {
		t.Fatalf("expected ErrConflict on duplicate reference, got %v", err)
	}
}

func TestPost_DebitCannotExceedZero(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	l := New(testStore)
	ctx := context.Background()

	userID, assetID, chainID := uuid.New(), uuid.New(), uuid.New()
	seedBalanceDependencies(t, ctx, userID, assetID, chainID)

	_, err := l.Post(ctx, Entry{
		UserID: &userID, AssetID: assetID, ChainID: chainID,
		EntryType: domain.EntryStakeCreated, Direction: domain.Debit,
		Amount: decimal.NewFromInt(50), ReferenceType: "stake", ReferenceID: uuid.New(),
		BalanceField: FieldAvailable,
	})
	if err == nil {
		t.Fatal("expected error debiting below zero balance")
	}
}

func seedBalanceDependencies(t *testing.T, ctx context.Context, userID, assetID, chainID uuid.UUID) {
	t.Helper()
	db := testStore.DB()
	if _, err := db.ExecContext(ctx, `INSERT INTO chains (id, slug, chain_id, rpc_endpoint, explorer_url, confirmations_required) VALUES ($1,'test',1,'http://x','http://x',1)`, chainID); err != nil {
		t.Fatalf("seed chain: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO assets (id, chain_id, symbol, decimals, is_native, is_active, price_usd) VALUES ($1,$2,'TST',18,true,true,1)`, assetID, chainID); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO users (id, email, password_hash_argon2id, role) VALUES ($1,$2,'x','USER')`, userID, userID.String()+"@test.invalid"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}
