package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/webhook-retry/internal/domain"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	DefaultWebhookURL string `env:"DEFAULT_WEBHOOK_URL"`
	PlatformEndpoints string `env:"PLATFORM_ENDPOINTS"`
	AlertWebhookURL   string `env:"ALERT_WEBHOOK_URL"`
	MaxRetries        int    `env:"RETRY_MAX_ATTEMPTS,default=5"`
	BackoffSchedule   string `env:"RETRY_BACKOFF_SCHEDULE"`
	DispatchInterval  int    `env:"RETRY_DISPATCH_INTERVAL_SEC,default=5"`
	RecoveryInterval  int    `env:"RETRY_RECOVERY_INTERVAL_SEC,default=60"`
	RecoveryStaleMin  int    `env:"RETRY_RECOVERY_STALE_MIN,default=10"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	PlatformRates     string `env:"PLATFORM_RATE_LIMITS"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	DBMaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	Retry      domain.RetryPolicy
	Endpoints  map[string]string
	RateLimits map[string]int
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	schedule := domain.DefaultBackoffSchedule()
	if strings.TrimSpace(c.BackoffSchedule) != "" {
		parsed, err := domain.ParseBackoffSchedule(c.BackoffSchedule)
		if err != nil {
			return err
		}
		schedule = parsed
	}

	c.Retry = domain.RetryPolicy{
		MaxRetries:      c.MaxRetries,
		BackoffSchedule: schedule,
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}

	endpoints, err := ParsePlatformEndpoints(c.PlatformEndpoints)
	if err != nil {
		return err
	}
	c.Endpoints = endpoints

	rates, err := ParsePlatformRateLimits(c.PlatformRates)
	if err != nil {
		return err
	}
	c.RateLimits = rates

	if len(c.Endpoints) == 0 && strings.TrimSpace(c.DefaultWebhookURL) == "" {
		return fmt.Errorf("%w: either PLATFORM_ENDPOINTS or DEFAULT_WEBHOOK_URL is required", domain.ErrValidation)
	}
	return nil
}

func (c *Config) DispatchEvery() time.Duration {
	return time.Duration(c.DispatchInterval) * time.Second
}

func (c *Config) RecoveryEvery() time.Duration {
	return time.Duration(c.RecoveryInterval) * time.Second
}

func (c *Config) RecoveryStaleAfter() time.Duration {
	return time.Duration(c.RecoveryStaleMin) * time.Minute
}

// ParsePlatformEndpoints parses "facebook=https://a;linkedin=https://b".
func ParsePlatformEndpoints(raw string) (map[string]string, error) {
	endpoints := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		platform, endpoint, ok := strings.Cut(pair, "=")
		platform = domain.NormalizePlatform(platform)
		endpoint = strings.TrimSpace(endpoint)
		if !ok || platform == "" || endpoint == "" {
			return nil, fmt.Errorf("%w: invalid platform endpoint %q", domain.ErrValidation, pair)
		}
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, fmt.Errorf("%w: invalid endpoint for %s: %v", domain.ErrValidation, platform, err)
		}
		endpoints[platform] = endpoint
	}
	return endpoints, nil
}

// ParsePlatformRateLimits parses "shopify=20;stripe=50" into per-second limits.
func ParsePlatformRateLimits(raw string) (map[string]int, error) {
	limits := make(map[string]int)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		platform, value, ok := strings.Cut(pair, "=")
		platform = domain.NormalizePlatform(platform)
		if !ok || platform == "" {
			return nil, fmt.Errorf("%w: invalid platform rate limit %q", domain.ErrValidation, pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("%w: rate limit for %s must be a positive integer", domain.ErrValidation, platform)
		}
		limits[platform] = limit
	}
	return limits, nil
}
