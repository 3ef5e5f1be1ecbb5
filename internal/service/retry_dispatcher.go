package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/kursadbilgin/webhook-retry/internal/observability"
	"github.com/kursadbilgin/webhook-retry/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultDispatchInterval = 5 * time.Second
	defaultDispatchLimit    = 100
	maxDispatchRounds       = 10
)

// DueTaskSource hands out retry tasks whose run time has passed. A task is
// returned to exactly one caller.
type DueTaskSource interface {
	PopDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error)
}

// RetryDispatcher periodically moves due retry tasks to the broker.
type RetryDispatcher struct {
	source    DueTaskSource
	scheduler TaskScheduler
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewRetryDispatcher(
	source DueTaskSource,
	scheduler TaskScheduler,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryDispatcher, error) {
	if source == nil {
		return nil, fmt.Errorf("due task source is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("task scheduler is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	if limit <= 0 {
		limit = defaultDispatchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryDispatcher{
		source:    source,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (d *RetryDispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *RetryDispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Tasks that came due while the process was down go out immediately.
	if err := d.dispatchDue(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("Retry dispatcher initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.dispatchDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("Retry dispatcher run failed", zap.Error(err))
			}
		}
	}
}

func (d *RetryDispatcher) dispatchDue(ctx context.Context) error {
	for round := 0; round < maxDispatchRounds; round++ {
		now := d.now()
		tasks, err := d.source.PopDue(ctx, now, d.limit)
		if err != nil {
			return fmt.Errorf("failed to pop due retry tasks: %w", err)
		}

		published := 0
		for _, task := range tasks {
			msg := queue.NewRetryTaskMessage(task, "")
			if err := d.publisher.Publish(ctx, queue.RetryQueue, msg); err != nil {
				d.logger.Error("Failed to publish retry task, rescheduling",
					zap.String("retryId", task.RetryID),
					zap.String("webhookId", task.WebhookID),
					zap.Error(err),
				)
				if err := d.scheduler.Schedule(ctx, task, now.Add(d.interval)); err != nil {
					d.logger.Error("Failed to reschedule retry task",
						zap.String("retryId", task.RetryID),
						zap.Error(err),
					)
				}
				continue
			}
			published++
		}
		d.metrics.AddTasksDispatched("dispatcher", published)

		if len(tasks) < d.limit {
			return nil
		}
	}
	return nil
}
