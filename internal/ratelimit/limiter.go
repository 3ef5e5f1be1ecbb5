package ratelimit

import "context"

// RateLimiter throttles outbound deliveries per destination platform.
type RateLimiter interface {
	Allow(ctx context.Context, platform string) (bool, error)
	Wait(ctx context.Context, platform string) error
}
