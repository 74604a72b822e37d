package staking

import (
	"context"
	"log"
	"time"
)

// Worker drives the background reward-accrual and cooldown-sweep passes,
// intended to be scheduled roughly every 60s by a robfig/cron/v3 job per
// the spec's background-worker cadence.
type Worker struct {
	repo   *Repository
	engine *Engine
	logger *log.Logger
}

// NewWorker constructs a Worker.
func NewWorker(repo *Repository, engine *Engine, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "[Staking] ", log.LstdFlags)
	}
	return &Worker{repo: repo, engine: engine, logger: logger}
}

// AccrueAll runs one accrual step for every ACTIVE position, logging and
// continuing past a single position's failure.
func (w *Worker) AccrueAll(ctx context.Context, now time.Time) {
	positions, err := w.repo.ListActive(ctx)
	if err != nil {
		w.logger.Printf("❌ accrual sweep: list active positions: %v", err)
		return
	}
	accrued := 0
	for _, p := range positions {
		reward, err := w.engine.AccruePosition(ctx, p.ID, now)
		if err != nil {
			w.logger.Printf("⚠️  accrual position=%s: %v", p.ID, err)
			continue
		}
		if reward.IsPositive() {
			accrued++
		}
	}
	if accrued > 0 {
		w.logger.Printf("🔄 accrual sweep applied rewards to %d/%d active positions", accrued, len(positions))
	}
}

// SweepCooldowns finalizes every UNSTAKING position whose cooldown has
// elapsed.
func (w *Worker) SweepCooldowns(ctx context.Context, now time.Time) {
	due, err := w.repo.ListCooldownDue(ctx, now)
	if err != nil {
		w.logger.Printf("❌ cooldown sweep: list due positions: %v", err)
		return
	}
	for _, p := range due {
		if err := w.engine.FinalizeCooldownDue(ctx, p, now); err != nil {
			w.logger.Printf("⚠️  cooldown finalize position=%s: %v", p.ID, err)
			continue
		}
	}
	if len(due) > 0 {
		w.logger.Printf("✅ cooldown sweep finalized %d positions", len(due))
	}
}
