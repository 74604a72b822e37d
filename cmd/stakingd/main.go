// Command stakingd runs the custodial staking platform: the public HTTP
// API, the background deposit scanner and confirmation tracker, the
// reward-accrual and cooldown-sweep workers, and the payout executor. It
// also exposes a -reconcile flag for an operator-invoked, non-serving pass
// over the balance projection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/audit"
	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/balance"
	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/chain"
	"github.com/cryptostake/platform/pkg/clock"
	"github.com/cryptostake/platform/pkg/config"
	"github.com/cryptostake/platform/pkg/deposit"
	"github.com/cryptostake/platform/pkg/health"
	"github.com/cryptostake/platform/pkg/ledger"
	"github.com/cryptostake/platform/pkg/metrics"
	"github.com/cryptostake/platform/pkg/notify"
	"github.com/cryptostake/platform/pkg/payout"
	"github.com/cryptostake/platform/pkg/queue"
	"github.com/cryptostake/platform/pkg/server"
	"github.com/cryptostake/platform/pkg/signer"
	"github.com/cryptostake/platform/pkg/staking"
	"github.com/cryptostake/platform/pkg/store"
	"github.com/cryptostake/platform/pkg/withdrawal"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configFile  = flag.String("config", "", "path to an optional .env-style file loaded before environment variables are read")
		migrateOnly = flag.String("migrate-only", "", "apply embedded migrations against this DSN via golang-migrate and exit, without starting the service")
		reconcile   = flag.Bool("reconcile", false, "recompute the balance_cache projection from ledger_entries and exit")
		fix         = flag.Bool("fix", false, "with -reconcile, correct mismatching rows instead of only reporting them")
		seedFile    = flag.String("seed-catalog", "", "path to a YAML file describing chains/assets to upsert at startup")
	)
	flag.Parse()

	log.Printf("🚀 Starting cryptostake staking platform")

	if *configFile != "" {
		if err := godotenv.Load(*configFile); err != nil {
			log.Fatalf("❌ failed to load -config file %s: %v", *configFile, err)
		}
		log.Printf("✅ loaded configuration overrides from %s", *configFile)
	}

	if *migrateOnly != "" {
		log.Printf("🗄️ applying migrations against %s (migrate-only mode)", *migrateOnly)
		if err := store.MigrateStandalone(*migrateOnly); err != nil {
			log.Fatalf("❌ migrate-only failed: %v", err)
		}
		log.Printf("✅ migrations applied, exiting (migrate-only mode)")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ configuration invalid: %v", err)
	}

	healthStatus := health.New()

	dbClient, err := store.NewClient(cfg, store.WithLogger(log.New(log.Writer(), "[Database] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("❌ failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatalf("❌ database migration failed: %v", err)
	}
	healthStatus.SetDatabaseHealthy(true)
	log.Printf("✅ database connected and migrated")

	if *reconcile {
		runReconcile(dbClient, *fix)
		return
	}

	registry, err := chain.DialAll(context.Background(), cfg)
	if err != nil {
		log.Fatalf("❌ failed to dial configured chains: %v", err)
	}
	defer registry.CloseAll()
	for _, c := range registry.All() {
		healthStatus.SetChainHealthy(c.Slug, true)
	}
	log.Printf("✅ dialed %d configured chains", len(registry.All()))

	// Redis backs the job queue but is not required to boot: if it cannot be
	// reached, fall back to an in-process queue and keep serving in a
	// degraded state, mirroring the teacher's DatabaseRequired-style
	// optional-subsystem toggle.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	redisHealthy := rdb.Ping(context.Background()).Err() == nil
	if !redisHealthy {
		log.Printf("⚠️  redis unreachable, falling back to in-process job queue")
		log.Printf("⚠️  WARNING: queued jobs will not survive a restart while degraded")
		healthStatus.SetQueueHealthy(false)
	} else {
		log.Printf("✅ redis connected")
		healthStatus.SetQueueHealthy(true)
	}

	// Repositories
	authRepo := auth.NewRepository(dbClient)
	catalogRepo := catalog.NewRepository(dbClient)

	if *seedFile != "" {
		seed, err := catalog.LoadSeedFile(*seedFile)
		if err != nil {
			log.Fatalf("❌ failed to load catalog seed file: %v", err)
		}
		chains, assets, err := catalogRepo.Apply(context.Background(), seed)
		if err != nil {
			log.Fatalf("❌ failed to apply catalog seed file: %v", err)
		}
		log.Printf("✅ catalog seeded from %s (%d chains, %d assets)", *seedFile, chains, assets)
	}

	balanceRepo := balance.NewRepository(dbClient)
	stakingRepo := staking.NewRepository(dbClient)
	withdrawalRepo := withdrawal.NewRepository(dbClient)
	depositRepo := deposit.NewRepository(dbClient)
	payoutRepo := payout.NewRepository(dbClient)
	deadLetters := queue.NewDeadLetterStore(dbClient)
	auditWriter := audit.NewWriter(dbClient)
	notifyRepo := notify.NewRepository(dbClient, log.New(log.Writer(), "[Notify] ", log.LstdFlags))
	led := ledger.New(dbClient)

	var jobQueue queue.Queue
	if redisHealthy {
		jobQueue = queue.NewRedisQueue(rdb, deadLetters, log.New(log.Writer(), "[Queue] ", log.LstdFlags))
	} else {
		jobQueue = queue.NewMemoryQueue(deadLetters, log.New(log.Writer(), "[Queue] ", log.LstdFlags))
	}

	hdSigner := signer.NewSoftwareHDSigner([]byte(cfg.MasterKey))
	treasurySigner := signer.NewEVMTreasurySigner(cfg.MasterKey)
	nonces := payout.NewNonceTracker(log.New(log.Writer(), "[Nonce] ", log.LstdFlags))

	depositAllocator := deposit.NewAllocator(dbClient, depositRepo, catalogRepo, hdSigner, log.New(log.Writer(), "[Deposit] ", log.LstdFlags))
	depositScanner := deposit.NewScanner(dbClient, depositRepo, catalogRepo, registry, log.New(log.Writer(), "[Scanner] ", log.LstdFlags))
	depositTracker := deposit.NewConfirmationTracker(dbClient, depositRepo, catalogRepo, registry, led, notifyRepo, log.New(log.Writer(), "[Deposit] ", log.LstdFlags))

	stakingEngine := staking.NewEngine(dbClient, stakingRepo, catalogRepo, balanceRepo, led, log.New(log.Writer(), "[Staking] ", log.LstdFlags))
	stakingWorker := staking.NewWorker(stakingRepo, stakingEngine, log.New(log.Writer(), "[Staking] ", log.LstdFlags))

	feeSchedule := withdrawal.FeeSchedule{
		Rate:   decimal.NewFromFloat(cfg.WithdrawalFeeRate),
		MinFee: decimal.NewFromFloat(cfg.WithdrawalMinFee),
	}
	withdrawalEngine := withdrawal.NewEngine(dbClient, withdrawalRepo, catalogRepo, balanceRepo, led, auditWriter, jobQueue,
		feeSchedule, decimal.NewFromFloat(cfg.LargeWithdrawalThresholdUsd), cfg.MaxDailyWithdrawalRequests,
		log.New(log.Writer(), "[Withdrawal] ", log.LstdFlags))

	payoutExecutor := payout.NewExecutor(dbClient, payoutRepo, withdrawalRepo, catalogRepo, registry, led, notifyRepo,
		treasurySigner, nonces, jobQueue, clock.Real(), log.New(log.Writer(), "[Payout] ", log.LstdFlags))

	tokens := auth.NewTokenIssuer(cfg.JWTAccessSecret, cfg.JWTAccessExpires)
	limiter := auth.NewRateLimiter(rdb)

	srv := server.New(server.Deps{
		Config:           cfg,
		Store:            dbClient,
		Registry:         registry,
		Clock:            clock.Real(),
		AuthRepo:         authRepo,
		Tokens:           tokens,
		Limiter:          limiter,
		Audit:            auditWriter,
		CatalogRepo:      catalogRepo,
		BalanceRepo:      balanceRepo,
		StakingEngine:    stakingEngine,
		StakingRepo:      stakingRepo,
		WithdrawalEngine: withdrawalEngine,
		WithdrawalRepo:   withdrawalRepo,
		DepositAllocator: depositAllocator,
		DepositRepo:      depositRepo,
		PayoutRepo:       payoutRepo,
		Ledger:           led,
		DeadLetters:      deadLetters,
		Health:           healthStatus,
		Logger:           log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	})

	ctx, cancel := context.WithCancel(context.Background())

	if err := payoutExecutor.Subscribe(ctx, jobQueue); err != nil {
		log.Fatalf("❌ failed to subscribe payout executor: %v", err)
	}

	c := cron.New()
	if _, err := c.AddFunc("@every 30s", func() { depositScanner.ScanAll(ctx) }); err != nil {
		log.Fatalf("❌ failed to schedule deposit scanner: %v", err)
	}
	if _, err := c.AddFunc("@every 30s", func() { depositTracker.RunAll(ctx) }); err != nil {
		log.Fatalf("❌ failed to schedule deposit confirmation tracker: %v", err)
	}
	if _, err := c.AddFunc("@every 60s", func() { stakingWorker.AccrueAll(ctx, time.Now()) }); err != nil {
		log.Fatalf("❌ failed to schedule accrual sweep: %v", err)
	}
	if _, err := c.AddFunc("@every 60s", func() { stakingWorker.SweepCooldowns(ctx, time.Now()) }); err != nil {
		log.Fatalf("❌ failed to schedule cooldown sweep: %v", err)
	}
	if _, err := c.AddFunc("@every 15s", func() { refreshDeadLetterGauge(ctx, deadLetters) }); err != nil {
		log.Fatalf("❌ failed to schedule dead-letter gauge refresh: %v", err)
	}
	c.Start()
	defer c.Stop()
	log.Printf("✅ background workers scheduled (deposit scan, deposit confirmation, reward accrual, cooldown sweep)")

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.HTTPReadTimeout,
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		log.Printf("🌐 API listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()
	go func() {
		log.Printf("📈 metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️  metrics server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  metrics server shutdown error: %v", err)
	}
	log.Printf("✅ stakingd stopped")
}

func runReconcile(dbClient *store.Client, fix bool) {
	reconciler := balance.NewReconciler(dbClient, log.New(log.Writer(), "[Reconcile] ", log.LstdFlags))
	discrepancies, err := reconciler.Run(context.Background(), fix)
	if err != nil {
		log.Fatalf("❌ reconcile failed: %v", err)
	}
	if len(discrepancies) == 0 {
		log.Printf("✅ balance_cache matches ledger_entries, no discrepancies found")
		return
	}
	action := "reported"
	if fix {
		action = "corrected"
	}
	for _, d := range discrepancies {
		fmt.Printf("user=%s asset=%s chain=%s field=%s cached=%s recomputed=%s\n",
			d.UserID, d.AssetID, d.ChainID, d.Field, d.Cached, d.Recomputed)
	}
	log.Printf("⚠️  %d discrepancies %s", len(discrepancies), action)
}

func refreshDeadLetterGauge(ctx context.Context, store *queue.DeadLetterStore) {
	count, err := store.Count(ctx)
	if err != nil {
		return
	}
	metrics.DeadLetterJobsTotal.Set(float64(count))
}
