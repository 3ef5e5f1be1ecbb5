package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/kursadbilgin/webhook-retry/internal/observability"
	"github.com/kursadbilgin/webhook-retry/internal/provider"
	"github.com/kursadbilgin/webhook-retry/internal/queue"
	"github.com/kursadbilgin/webhook-retry/internal/ratelimit"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1

	permanentFailurePrefix = "Permanent delivery failure: "
)

// RetryRecorder is the part of RetryService the executor drives.
type RetryRecorder interface {
	QueueRetry(ctx context.Context, req RetryRequest) (*QueueResult, error)
	MoveToDeadLetterQueue(ctx context.Context, req DeadLetterRequest) (*domain.DeadLetterEntry, error)
	MarkRetrySuccess(ctx context.Context, webhookID string, attemptNumber int) (bool, error)
	MarkRetryFailed(ctx context.Context, webhookID string, attemptNumber int, errorMessage string) (bool, error)
}

// DeliveryExecutor consumes due retry tasks, re-delivers the stored payload and
// records the outcome. A failed attempt is followed by the next one only when this
// executor won the pending->failed transition, so duplicate tasks stay harmless.
type DeliveryExecutor struct {
	retries     RetryRecorder
	attempts    repository.RetryAttemptRepository
	consumer    queue.Consumer
	deliverer   provider.Deliverer
	rateLimiter ratelimit.RateLimiter
	tx          repository.Transactor
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewDeliveryExecutor(
	retries RetryRecorder,
	attempts repository.RetryAttemptRepository,
	consumer queue.Consumer,
	deliverer provider.Deliverer,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryExecutor, error) {
	if retries == nil {
		return nil, fmt.Errorf("retry recorder is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("retry attempt repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryExecutor{
		retries:     retries,
		attempts:    attempts,
		consumer:    consumer,
		deliverer:   deliverer,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (e *DeliveryExecutor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// SetTransactor makes recording a failure and queueing its follow-up one unit.
func (e *DeliveryExecutor) SetTransactor(tx repository.Transactor) {
	if e == nil {
		return
	}
	e.tx = tx
}

// Start runs the configured number of consumers on the retry queue until ctx is
// canceled.
func (e *DeliveryExecutor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < e.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			e.logger.Info("Delivery worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.RetryQueue),
			)

			if err := e.consumer.Consume(groupCtx, queue.RetryQueue, e.processMessage); err != nil {
				e.logger.Error("Delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			e.logger.Info("Delivery worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (e *DeliveryExecutor) processMessage(ctx context.Context, msg queue.RetryTaskMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	attempt, err := e.attempts.GetByID(ctx, msg.RetryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("Retry attempt not found, dropping task",
				zap.String("retryId", msg.RetryID),
				zap.String("webhookId", msg.WebhookID),
			)
			return nil
		}
		return fmt.Errorf("failed to load retry attempt: %w", err)
	}

	platform := domain.NormalizePlatform(attempt.Platform)
	ctx = observability.WithDelivery(ctx, observability.Delivery{
		WebhookID:     attempt.WebhookID,
		Platform:      platform,
		AttemptNumber: attempt.AttemptNumber,
	})
	logger := observability.WithContextLogger(e.logger, ctx).With(zap.String("retryId", attempt.ID))

	if attempt.Status != domain.RetryStatusPending {
		logger.Debug("Retry attempt already resolved, skipping duplicate task",
			zap.String("status", attempt.Status.String()),
		)
		return nil
	}

	e.metrics.IncWorkerInFlight(platform)
	defer e.metrics.DecWorkerInFlight(platform)

	if err := e.rateLimiter.Wait(ctx, platform); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := e.now()
	_, deliverErr := e.deliverer.Deliver(ctx, *attempt)
	e.metrics.ObserveDeliveryDuration(platform, e.now().Sub(start))

	if deliverErr == nil {
		won, err := e.retries.MarkRetrySuccess(ctx, attempt.WebhookID, attempt.AttemptNumber)
		if err != nil {
			return fmt.Errorf("failed to record delivery success: %w", err)
		}
		if won {
			e.metrics.IncRetryResolved(platform, domain.RetryStatusSuccess.String())
			logger.Info("Webhook delivered on retry")
		}
		return nil
	}

	// Shutdown interrupted the delivery; leave the attempt pending for redelivery.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return e.withinTx(ctx, func(ctx context.Context) error {
		return e.handleFailure(ctx, logger, attempt, platform, deliverErr)
	})
}

func (e *DeliveryExecutor) handleFailure(
	ctx context.Context,
	logger *zap.Logger,
	attempt *domain.RetryAttempt,
	platform string,
	deliverErr error,
) error {
	won, err := e.retries.MarkRetryFailed(ctx, attempt.WebhookID, attempt.AttemptNumber, deliverErr.Error())
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	if !won {
		logger.Info("Retry attempt resolved concurrently, not queueing follow-up")
		return nil
	}
	e.metrics.IncRetryResolved(platform, domain.RetryStatusFailed.String())

	if provider.IsTransient(deliverErr) {
		logger.Warn("Retry delivery failed, queueing next attempt", zap.Error(deliverErr))
		if _, err := e.retries.QueueRetry(ctx, RetryRequest{
			WebhookID: attempt.WebhookID,
			Platform:  attempt.Platform,
			Payload:   attempt.Payload,
			Attempt:   attempt.AttemptNumber,
		}); err != nil {
			return fmt.Errorf("failed to queue next retry: %w", err)
		}
		return nil
	}

	logger.Warn("Retry delivery failed permanently", zap.Error(deliverErr))
	if _, err := e.retries.MoveToDeadLetterQueue(ctx, DeadLetterRequest{
		WebhookID:    attempt.WebhookID,
		Platform:     attempt.Platform,
		Payload:      attempt.Payload,
		Reason:       permanentFailurePrefix + deliverErr.Error(),
		AttemptsMade: attempt.AttemptNumber,
	}); err != nil {
		return fmt.Errorf("failed to dead-letter webhook: %w", err)
	}
	return nil
}

func (e *DeliveryExecutor) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.tx == nil {
		return fn(ctx)
	}
	return e.tx.WithinTx(ctx, fn)
}
