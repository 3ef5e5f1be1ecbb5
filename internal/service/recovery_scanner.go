package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/observability"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRecoveryInterval   = time.Minute
	defaultRecoveryStaleAfter = 10 * time.Minute
	defaultRecoveryLimit      = 100
)

// RecoveryScanner reschedules pending attempts that are long overdue, which
// happens when the scheduled task was lost.
type RecoveryScanner struct {
	attempts   repository.RetryAttemptRepository
	scheduler  TaskScheduler
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewRecoveryScanner(
	attempts repository.RetryAttemptRepository,
	scheduler TaskScheduler,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*RecoveryScanner, error) {
	if attempts == nil {
		return nil, fmt.Errorf("retry attempt repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("task scheduler is required")
	}
	if interval <= 0 {
		interval = defaultRecoveryInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultRecoveryStaleAfter
	}
	if limit <= 0 {
		limit = defaultRecoveryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoveryScanner{
		attempts:   attempts,
		scheduler:  scheduler,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *RecoveryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RecoveryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanStale(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Recovery scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanStale(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("Recovery scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RecoveryScanner) scanStale(ctx context.Context) error {
	now := s.now().UTC()
	stale, err := s.attempts.ListStalePending(ctx, now.Add(-s.staleAfter), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale pending retries: %w", err)
	}

	rescheduled := 0
	for i := range stale {
		attempt := stale[i]
		if err := s.scheduler.Schedule(ctx, attempt.Task(), now); err != nil {
			s.logger.Error("Failed to reschedule stale retry",
				zap.String("retryId", attempt.ID),
				zap.String("webhookId", attempt.WebhookID),
				zap.Error(err),
			)
			continue
		}
		rescheduled++
	}

	if rescheduled > 0 {
		s.metrics.AddTasksDispatched("recovery", rescheduled)
		s.logger.Warn("Rescheduled stale retry attempts", zap.Int("count", rescheduled))
	}
	return nil
}
