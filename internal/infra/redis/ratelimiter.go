package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/kursadbilgin/webhook-retry/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
	windowSeconds            = 1
	rateLimitKeyPrefix       = "webhook:ratelimit"
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed one-second window limiter shared by every worker
// delivering to the same platform.
type RedisRateLimiter struct {
	client         *goredis.Client
	limitPerSec    int64
	platformLimits map[string]int64
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	script         *goredis.Script
}

// NewRedisRateLimiter builds a limiter with a default per-second budget and optional
// per-platform overrides.
func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, platformLimits map[string]int) (*RedisRateLimiter, error) {
	overrides := make(map[string]int64, len(platformLimits))
	for platform, limit := range platformLimits {
		if limit > 0 {
			overrides[domain.NormalizePlatform(platform)] = int64(limit)
		}
	}

	return newRedisRateLimiter(client, int64(limitPerSec), overrides, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	platformLimits map[string]int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if platformLimits == nil {
		platformLimits = map[string]int64{}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:         client,
		limitPerSec:    limitPerSec,
		platformLimits: platformLimits,
		now:            nowFn,
		sleep:          sleepFn,
		script:         allowScript,
	}, nil
}

func (r *RedisRateLimiter) limitFor(platform string) int64 {
	if limit, ok := r.platformLimits[platform]; ok {
		return limit
	}
	return r.limitPerSec
}

func (r *RedisRateLimiter) Allow(ctx context.Context, platform string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	platform = domain.NormalizePlatform(platform)
	if platform == "" {
		return false, fmt.Errorf("%w: platform is required", domain.ErrValidation)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("%s:%s:%d", rateLimitKeyPrefix, platform, r.now().UTC().Unix())
	result, err := r.script.Run(ctx, r.client, []string{key}, r.limitFor(platform), windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the platform has budget in the current window or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, platform string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, platform)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
