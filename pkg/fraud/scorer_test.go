package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
)

func baseUser(now time.Time) domain.User {
	return domain.User{
		CreatedAt:     now.Add(-365 * 24 * time.Hour),
		EmailVerified: true,
	}
}

func TestScore_CleanRequestHasNoIndicators(t *testing.T) {
	now := time.Now()
	indicators, score := Score(context.Background(), Inputs{
		User:                      baseUser(now),
		DestinationWhitelisted:    true,
		Now:                       now,
		AmountUsd:                 decimal.NewFromInt(100),
		LargeWithdrawalThreshold:  decimal.NewFromInt(5000),
		DailyWithdrawalLimitUsd:   decimal.NewFromInt(10000),
		CumulativeLast24hUsd:      decimal.Zero,
		RequestsLast24h:           1,
		MaxDailyWithdrawalRequest: 10,
	})
	if score != 0 {
		t.Fatalf("expected score 0, got %d (%v)", score, indicators)
	}
}

func TestScore_NewAddressFlagsIndicator(t *testing.T) {
	now := time.Now()
	indicators, score := Score(context.Background(), Inputs{
		User:                      baseUser(now),
		DestinationWhitelisted:    false,
		Now:                       now,
		AmountUsd:                 decimal.NewFromInt(100),
		LargeWithdrawalThreshold:  decimal.NewFromInt(5000),
		DailyWithdrawalLimitUsd:   decimal.NewFromInt(10000),
		MaxDailyWithdrawalRequest: 10,
	})
	if score != 30 {
		t.Fatalf("expected score 30, got %d", score)
	}
	if len(indicators) != 1 || indicators[0].Type != "NEW_ADDRESS" {
		t.Fatalf("expected one NEW_ADDRESS indicator, got %v", indicators)
	}
}

func TestScore_WhitelistedButWithinCooldownIsHighSeverity(t *testing.T) {
	now := time.Now()
	cooldownEnd := now.Add(time.Hour)
	_, score := Score(context.Background(), Inputs{
		User:                      baseUser(now),
		DestinationWhitelisted:    true,
		WhitelistCooldownEndsAt:   &cooldownEnd,
		Now:                       now,
		AmountUsd:                 decimal.NewFromInt(100),
		LargeWithdrawalThreshold:  decimal.NewFromInt(5000),
		DailyWithdrawalLimitUsd:   decimal.NewFromInt(10000),
		MaxDailyWithdrawalRequest: 10,
	})
	if score != 50 {
		t.Fatalf("expected score 50, got %d", score)
	}
}

func TestScore_DailyLimitExceededCombinesWithHighAmount(t *testing.T) {
	now := time.Now()
	indicators, score := Score(context.Background(), Inputs{
		User:                      baseUser(now),
		DestinationWhitelisted:    true,
		Now:                       now,
		AmountUsd:                 decimal.NewFromInt(6000),
		LargeWithdrawalThreshold:  decimal.NewFromInt(5000),
		DailyWithdrawalLimitUsd:   decimal.NewFromInt(5500),
		CumulativeLast24hUsd:      decimal.Zero,
		MaxDailyWithdrawalRequest: 10,
	})
	// amount alone (6000) exceeds the daily limit (5500), which takes the
	// HIGH_AMOUNT HIGH branch (40) over the MEDIUM branch (20); cumulative
	// (0+6000=6000) also exceeds the limit, adding DAILY_LIMIT (50).
	if score != 90 {
		t.Fatalf("expected score 90, got %d (%v)", score, indicators)
	}
}

func TestScore_VelocityNearCapIsMedium(t *testing.T) {
	now := time.Now()
	_, score := Score(context.Background(), Inputs{
		User:                      baseUser(now),
		DestinationWhitelisted:    true,
		Now:                       now,
		AmountUsd:                 decimal.NewFromInt(100),
		LargeWithdrawalThreshold:  decimal.NewFromInt(5000),
		DailyWithdrawalLimitUsd:   decimal.NewFromInt(10000),
		RequestsLast24h:           7,
		MaxDailyWithdrawalRequest: 10,
	})
	if score != 20 {
		t.Fatalf("expected score 20, got %d", score)
	}
}

func TestScore_NewAccountAndUnverifiedEmailStack(t *testing.T) {
	now := time.Now()
	user := domain.User{CreatedAt: now.Add(-time.Hour), EmailVerified: false}
	_, score := Score(context.Background(), Inputs{
		User:                      user,
		DestinationWhitelisted:    true,
		Now:                       now,
		AmountUsd:                 decimal.NewFromInt(100),
		LargeWithdrawalThreshold:  decimal.NewFromInt(5000),
		DailyWithdrawalLimitUsd:   decimal.NewFromInt(10000),
		MaxDailyWithdrawalRequest: 10,
	})
	if score != 40 {
		t.Fatalf("expected score 40 (25 new account + 15 unverified), got %d", score)
	}
}
