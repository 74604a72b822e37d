package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces fixed-window request caps per key (IP, user, or
// IP+route) backed by Redis INCR/EXPIRE, so limits are shared across every
// stakingd instance rather than held in process memory.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter constructs a RateLimiter against the given Redis client.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Tier names a rate-limit bucket with its own cap and window, matching the
// tiered limits the external interface calls out (login attempts, 2FA
// verification, withdrawal submission, general API traffic).
type Tier struct {
	Name   string
	Limit  int64
	Window time.Duration
}

var (
	TierLogin      = Tier{Name: "login", Limit: 5, Window: time.Minute}
	TierRegister   = Tier{Name: "register", Limit: 3, Window: time.Minute}
	TierRefresh    = Tier{Name: "refresh", Limit: 10, Window: time.Minute}
	TierTwoFactor  = Tier{Name: "2fa", Limit: 5, Window: 5 * time.Minute}
	TierWithdrawal = Tier{Name: "withdrawal", Limit: 3, Window: time.Hour}
	TierGeneral    = Tier{Name: "general", Limit: 120, Window: time.Minute}
)

// Allow increments the counter for (tier, key) and reports whether the
// request is within tier's cap for the current window.
func (r *RateLimiter) Allow(ctx context.Context, tier Tier, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", tier.Name, key)

	count, err := r.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("auth: rate limiter incr: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, redisKey, tier.Window).Err(); err != nil {
			return false, fmt.Errorf("auth: rate limiter expire: %w", err)
		}
	}
	return count <= tier.Limit, nil
}
