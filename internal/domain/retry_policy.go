package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultMaxRetries = 5

// DefaultBackoffSchedule returns the stock delay tiers: 1m, 5m, 15m, 1h, 2h.
func DefaultBackoffSchedule() []time.Duration {
	return []time.Duration{
		60 * time.Second,
		300 * time.Second,
		900 * time.Second,
		3600 * time.Second,
		7200 * time.Second,
	}
}

// RetryPolicy is injected into the orchestrator; it is never mutated after construction.
type RetryPolicy struct {
	MaxRetries      int
	BackoffSchedule []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      DefaultMaxRetries,
		BackoffSchedule: DefaultBackoffSchedule(),
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("%w: maxRetries must be >= 1", ErrValidation)
	}
	if len(p.BackoffSchedule) == 0 {
		return fmt.Errorf("%w: backoff schedule is empty", ErrValidation)
	}
	for i, d := range p.BackoffSchedule {
		if d < 0 {
			return fmt.Errorf("%w: backoff tier %d is negative", ErrValidation, i)
		}
	}
	return nil
}

// Delay returns the wait before the next attempt given the attempts already made.
// Indexes past the table clamp to the last tier.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.BackoffSchedule) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.BackoffSchedule) {
		attempt = len(p.BackoffSchedule) - 1
	}
	return p.BackoffSchedule[attempt]
}

// Exhausted reports whether attempt has used up the retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// ParseBackoffSchedule parses comma separated tiers. Bare integers are seconds;
// Go duration strings such as "90s" or "2h" are accepted too.
func ParseBackoffSchedule(raw string) ([]time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: backoff schedule is empty", ErrValidation)
	}

	parts := strings.Split(trimmed, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}

		if seconds, err := strconv.Atoi(value); err == nil {
			if seconds < 0 {
				return nil, fmt.Errorf("%w: backoff tier %q is negative", ErrValidation, value)
			}
			schedule = append(schedule, time.Duration(seconds)*time.Second)
			continue
		}

		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid backoff tier %q", ErrValidation, value)
		}
		if d < 0 {
			return nil, fmt.Errorf("%w: backoff tier %q is negative", ErrValidation, value)
		}
		schedule = append(schedule, d)
	}

	if len(schedule) == 0 {
		return nil, fmt.Errorf("%w: backoff schedule is empty", ErrValidation)
	}
	return schedule, nil
}
