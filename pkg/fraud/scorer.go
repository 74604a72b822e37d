// Package fraud implements the withdrawal fraud-scoring heuristics: a set
// of independent rules that each contribute indicators and points to a
// request's total score, informing (never blocking) the admin reviewer.
package fraud

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/domain"
)

// Inputs bundles everything the scoring rules need, gathered by the
// caller so this package stays free of any repository dependency.
type Inputs struct {
	User                      domain.User
	DestinationWhitelisted    bool
	WhitelistCooldownEndsAt   *time.Time
	Now                       time.Time
	AmountUsd                 decimal.Decimal
	LargeWithdrawalThreshold  decimal.Decimal
	DailyWithdrawalLimitUsd   decimal.Decimal
	CumulativeLast24hUsd      decimal.Decimal
	RequestsLast24h           int
	MaxDailyWithdrawalRequest int
}

// Score evaluates every rule against in and returns the indicators that
// fired plus their summed score.
func Score(ctx context.Context, in Inputs) ([]domain.FraudIndicator, int) {
	var indicators []domain.FraudIndicator

	switch {
	case !in.DestinationWhitelisted:
		indicators = append(indicators, domain.FraudIndicator{
			Type: "NEW_ADDRESS", Severity: domain.SeverityMedium,
			Description: "destination address is not on the user's whitelist", Score: 30,
		})
	case in.WhitelistCooldownEndsAt != nil && in.WhitelistCooldownEndsAt.After(in.Now):
		indicators = append(indicators, domain.FraudIndicator{
			Type: "NEW_ADDRESS", Severity: domain.SeverityHigh,
			Description: "destination address whitelisted but still within its cooldown window", Score: 50,
		})
	}

	if in.DailyWithdrawalLimitUsd.IsPositive() && in.AmountUsd.GreaterThan(in.DailyWithdrawalLimitUsd) {
		indicators = append(indicators, domain.FraudIndicator{
			Type: "HIGH_AMOUNT", Severity: domain.SeverityHigh,
			Description: "withdrawal amount exceeds the user's daily withdrawal limit on its own", Score: 40,
		})
	} else if in.LargeWithdrawalThreshold.IsPositive() && in.AmountUsd.GreaterThan(in.LargeWithdrawalThreshold) {
		indicators = append(indicators, domain.FraudIndicator{
			Type: "HIGH_AMOUNT", Severity: domain.SeverityMedium,
			Description: "withdrawal amount exceeds the large-withdrawal threshold", Score: 20,
		})
	}

	if in.DailyWithdrawalLimitUsd.IsPositive() {
		total := in.CumulativeLast24hUsd.Add(in.AmountUsd)
		if total.GreaterThan(in.DailyWithdrawalLimitUsd) {
			indicators = append(indicators, domain.FraudIndicator{
				Type: "DAILY_LIMIT", Severity: domain.SeverityHigh,
				Description: "cumulative 24h withdrawals including this one exceed the user's daily limit", Score: 50,
			})
		}
	}

	if in.MaxDailyWithdrawalRequest > 0 {
		switch {
		case in.RequestsLast24h >= in.MaxDailyWithdrawalRequest:
			indicators = append(indicators, domain.FraudIndicator{
				Type: "VELOCITY", Severity: domain.SeverityHigh,
				Description: "withdrawal request count in the last 24h has reached the configured cap", Score: 40,
			})
		case float64(in.RequestsLast24h) >= 0.7*float64(in.MaxDailyWithdrawalRequest):
			indicators = append(indicators, domain.FraudIndicator{
				Type: "VELOCITY", Severity: domain.SeverityMedium,
				Description: "withdrawal request count in the last 24h is approaching the configured cap", Score: 20,
			})
		}
	}

	if in.Now.Sub(in.User.CreatedAt) < 7*24*time.Hour {
		indicators = append(indicators, domain.FraudIndicator{
			Type: "NEW_ACCOUNT", Severity: domain.SeverityMedium,
			Description: "account was created less than 7 days ago", Score: 25,
		})
	}

	if !in.User.EmailVerified {
		indicators = append(indicators, domain.FraudIndicator{
			Type: "UNVERIFIED_EMAIL", Severity: domain.SeverityLow,
			Description: "user's email address has not been verified", Score: 15,
		})
	}

	total := 0
	for _, ind := range indicators {
		total += ind.Score
	}
	return indicators, total
}
