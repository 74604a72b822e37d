package staking

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cryptostake/platform/pkg/balance"
	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/config"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/ledger"
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

func newTestEngine() (*Engine, *Repository) {
	repo := NewRepository(testStore)
	cat := catalog.NewRepository(testStore)
	bal := balance.NewRepository(testStore)
	led := ledger.New(testStore)
	return NewEngine(testStore, repo, cat, bal, led, nil), repo
}

// creditAvailable simulates a confirmed deposit, giving the user spendable
// balance to stake from.
func creditAvailable(t *testing.T, ctx context.Context, led *ledger.Ledger, userID, assetID, chainID uuid.UUID, amount decimal.Decimal) {
	t.Helper()
	_, err := led.Post(ctx, ledger.Entry{
		UserID: &userID, AssetID: assetID, ChainID: chainID,
		EntryType: domain.EntryDepositConfirmed, Direction: domain.Credit, Amount: amount,
		ReferenceType: "Deposit", ReferenceID: uuid.New(), BalanceField: ledger.FieldAvailable,
	})
	if err != nil {
		t.Fatalf("credit available balance: %v", err)
	}
}

func TestEngine_CreateStake_DebitsAvailableCreditsStaked(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	engine, repo := newTestEngine()
	led := ledger.New(testStore)
	now := time.Now()

	creditAvailable(t, ctx, led, userID, assetID, chainID, decimal.NewFromInt(1000))

	pool, err := repo.InsertPool(ctx, domain.Pool{
		Name: "Flexible TST", Slug: "flexible-tst-" + userID.String()[:8], AssetID: assetID,
		Type: domain.PoolFlexible, CurrentApr: decimal.NewFromInt(10), MinStake: decimal.NewFromInt(10),
		CooldownHours: 0, IsActive: true,
	})
	if err != nil {
		t.Fatalf("insert pool: %v", err)
	}
	if _, err := repo.InsertAprSchedule(ctx, pool.ID, decimal.NewFromInt(10), now.Add(-time.Hour)); err != nil {
		t.Fatalf("insert apr schedule: %v", err)
	}

	position, err := engine.CreateStake(ctx, userID, pool.ID, decimal.NewFromInt(500), now)
	if err != nil {
		t.Fatalf("CreateStake: %v", err)
	}
	if !position.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected position amount 500, got %s", position.Amount)
	}

	bal := balance.NewRepository(testStore)
	b, err := bal.Get(ctx, userID, assetID, chainID)
	if err != nil {
		t.Fatalf("balance get: %v", err)
	}
	if !b.Available.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected available 500 after staking 500 of 1000, got %s", b.Available)
	}
	if !b.Staked.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected staked 500, got %s", b.Staked)
	}
}

func TestEngine_CreateStake_RejectsBelowPoolMinimum(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	engine, repo := newTestEngine()
	led := ledger.New(testStore)
	now := time.Now()

	creditAvailable(t, ctx, led, userID, assetID, chainID, decimal.NewFromInt(1000))

	pool, err := repo.InsertPool(ctx, domain.Pool{
		Name: "Flexible TST", Slug: "flexible-tst-min-" + userID.String()[:8], AssetID: assetID,
		Type: domain.PoolFlexible, CurrentApr: decimal.NewFromInt(10), MinStake: decimal.NewFromInt(100),
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("insert pool: %v", err)
	}

	if _, err := engine.CreateStake(ctx, userID, pool.ID, decimal.NewFromInt(10), now); err == nil {
		t.Fatal("expected rejection for amount below pool minimum")
	}
}

func TestEngine_AccruePosition_AppliesRewardAfterOneDay(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	engine, repo := newTestEngine()
	led := ledger.New(testStore)
	now := time.Now()

	creditAvailable(t, ctx, led, userID, assetID, chainID, decimal.NewFromInt(1000))

	pool, err := repo.InsertPool(ctx, domain.Pool{
		Name: "Flexible TST", Slug: "flexible-tst-accrue-" + userID.String()[:8], AssetID: assetID,
		Type: domain.PoolFlexible, CurrentApr: decimal.NewFromFloat(36.5), MinStake: decimal.NewFromInt(10),
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("insert pool: %v", err)
	}
	if _, err := repo.InsertAprSchedule(ctx, pool.ID, decimal.NewFromFloat(36.5), now.Add(-time.Hour)); err != nil {
		t.Fatalf("insert apr schedule: %v", err)
	}

	position, err := engine.CreateStake(ctx, userID, pool.ID, decimal.NewFromInt(1000), now)
	if err != nil {
		t.Fatalf("CreateStake: %v", err)
	}

	// 36.5% APR => 0.1% per day; after exactly one day a 1000-unit stake
	// should accrue ~1 unit of reward.
	oneDayLater := now.Add(24 * time.Hour)
	reward, err := engine.AccruePosition(ctx, position.ID, oneDayLater)
	if err != nil {
		t.Fatalf("AccruePosition: %v", err)
	}
	if reward.LessThan(decimal.NewFromFloat(0.99)) || reward.GreaterThan(decimal.NewFromFloat(1.01)) {
		t.Fatalf("expected reward close to 1.0, got %s", reward)
	}

	bal := balance.NewRepository(testStore)
	b, err := bal.Get(ctx, userID, assetID, chainID)
	if err != nil {
		t.Fatalf("balance get: %v", err)
	}
	if !b.RewardsAccrued.Equal(reward) {
		t.Fatalf("expected rewards_accrued %s, got %s", reward, b.RewardsAccrued)
	}
}

func TestEngine_AccruePosition_IsNoOpWithinOneSecond(t *testing.T) {
	if testStore == nil {
		t.Skip("STAKING_TEST_DB not configured")
	}
	ctx := context.Background()
	userID, assetID, chainID := seedUserAssetChain(t, ctx)
	engine, repo := newTestEngine()
	led := ledger.New(testStore)
	now := time.Now()

	creditAvailable(t, ctx, led, userID, assetID, chainID, decimal.NewFromInt(1000))

	pool, err := repo.InsertPool(ctx, domain.Pool{
		Name: "Flexible TST", Slug: "flexible-tst-noop-" + userID.String()[:8], AssetID: assetID,
		Type: domain.PoolFlexible, CurrentApr: decimal.NewFromInt(10), MinStake: decimal.NewFromInt(10),
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("insert pool: %v", err)
	}
	if _, err := repo.InsertAprSchedule(ctx, pool.ID, decimal.NewFromInt(10), now.Add(-time.Hour)); err != nil {
		t.Fatalf("insert apr schedule: %v", err)
	}

	position, err := engine.CreateStake(ctx, userID, pool.ID, decimal.NewFromInt(1000), now)
	if err != nil {
		t.Fatalf("CreateStake: %v", err)
	}

	reward, err := engine.AccruePosition(ctx, position.ID, now.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("AccruePosition: %v", err)
	}
	if !reward.IsZero() {
		t.Fatalf("expected zero reward for sub-second delta, got %s", reward)
	}
}
