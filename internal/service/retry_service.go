package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/kursadbilgin/webhook-retry/internal/notifier"
	"github.com/kursadbilgin/webhook-retry/internal/observability"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"go.uber.org/zap"
)

const (
	ReasonMaxRetriesExceeded = "Max retries exceeded"

	statsWindow = 7 * 24 * time.Hour
)

// TaskScheduler arranges for a retry task to be executed at runAt. Delivery is at
// least once.
type TaskScheduler interface {
	Schedule(ctx context.Context, task domain.RetryTask, runAt time.Time) error
}

// EventLookup finds the original outbound event of a webhook.
type EventLookup interface {
	FindByWebhookID(ctx context.Context, webhookID string) (*domain.WebhookEvent, error)
}

// AlertRecorder stores operational alerts for the dashboard.
type AlertRecorder interface {
	Create(ctx context.Context, alert *domain.Alert) error
}

type RetryRequest struct {
	WebhookID string
	Platform  string
	Payload   json.RawMessage
	// Attempt is the number of deliveries already made; 0 for the first failure.
	Attempt int
}

// QueueResult holds either the newly scheduled attempt or, when retries were
// exhausted, the dead-letter entry that replaced it.
type QueueResult struct {
	Attempt    *domain.RetryAttempt
	DeadLetter *domain.DeadLetterEntry
}

type DeadLetterRequest struct {
	WebhookID    string
	Platform     string
	Payload      json.RawMessage
	Reason       string
	OrgID        *string
	AttemptsMade int
}

type DeadLetterQuery struct {
	OrgID *string
	Limit int
}

// RetryService owns retry attempts and dead-letter entries. It keeps no state
// between calls, so any number of instances can share one database.
type RetryService struct {
	attempts    repository.RetryAttemptRepository
	deadLetters repository.DeadLetterRepository
	scheduler   TaskScheduler
	notifier    notifier.Notifier
	events      EventLookup
	alerts      AlertRecorder
	tx          repository.Transactor
	policy      domain.RetryPolicy
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRetryService(
	attempts repository.RetryAttemptRepository,
	deadLetters repository.DeadLetterRepository,
	scheduler TaskScheduler,
	failureNotifier notifier.Notifier,
	policy domain.RetryPolicy,
	logger *zap.Logger,
) (*RetryService, error) {
	if attempts == nil {
		return nil, fmt.Errorf("retry attempt repository is required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("task scheduler is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if failureNotifier == nil {
		failureNotifier = notifier.NewLogNotifier(logger)
	}

	return &RetryService{
		attempts:    attempts,
		deadLetters: deadLetters,
		scheduler:   scheduler,
		notifier:    failureNotifier,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *RetryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetEventLookup enables the original-event fallback for org id resolution.
func (s *RetryService) SetEventLookup(events EventLookup) {
	if s == nil {
		return
	}
	s.events = events
}

func (s *RetryService) SetAlertRecorder(alerts AlertRecorder) {
	if s == nil {
		return
	}
	s.alerts = alerts
}

// SetTransactor makes RetryDeadLetter mark the entry and insert the new attempt
// atomically.
func (s *RetryService) SetTransactor(tx repository.Transactor) {
	if s == nil {
		return
	}
	s.tx = tx
}

func (s *RetryService) Policy() domain.RetryPolicy {
	return s.policy
}

// QueueRetry records a failed delivery. It schedules attempt Attempt+1 after the
// backoff delay, or dead-letters the webhook once MaxRetries attempts were made.
func (s *RetryService) QueueRetry(ctx context.Context, req RetryRequest) (*QueueResult, error) {
	req.WebhookID = strings.TrimSpace(req.WebhookID)
	req.Platform = domain.NormalizePlatform(req.Platform)
	if err := validateRetryRequest(req); err != nil {
		return nil, err
	}

	if s.policy.Exhausted(req.Attempt) {
		entry, err := s.MoveToDeadLetterQueue(ctx, DeadLetterRequest{
			WebhookID:    req.WebhookID,
			Platform:     req.Platform,
			Payload:      req.Payload,
			Reason:       ReasonMaxRetriesExceeded,
			AttemptsMade: s.policy.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return &QueueResult{DeadLetter: entry}, nil
	}

	attempt, err := s.insertAttempt(ctx, req)
	if err != nil {
		return nil, err
	}
	s.schedule(ctx, attempt)

	return &QueueResult{Attempt: attempt}, nil
}

func (s *RetryService) insertAttempt(ctx context.Context, req RetryRequest) (*domain.RetryAttempt, error) {
	now := s.now().UTC()
	attempt := &domain.RetryAttempt{
		ID:            uuid.NewString(),
		WebhookID:     req.WebhookID,
		Platform:      req.Platform,
		Payload:       req.Payload,
		AttemptNumber: req.Attempt + 1,
		ScheduledAt:   now.Add(s.policy.Delay(req.Attempt)),
		Status:        domain.RetryStatusPending,
		CreatedAt:     now,
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to persist retry attempt: %w", err)
	}
	return attempt, nil
}

// schedule hands the attempt to the task scheduler once the row is committed. A
// failure here is left to the recovery scanner.
func (s *RetryService) schedule(ctx context.Context, attempt *domain.RetryAttempt) {
	repository.AfterCommit(ctx, func(ctx context.Context) {
		s.scheduleNow(ctx, attempt)
	})
}

func (s *RetryService) scheduleNow(ctx context.Context, attempt *domain.RetryAttempt) {
	logger := s.loggerFor(ctx, attempt.WebhookID).With(
		zap.String("retryId", attempt.ID),
		zap.Int("scheduledAttempt", attempt.AttemptNumber),
	)

	if err := s.scheduler.Schedule(ctx, attempt.Task(), attempt.ScheduledAt); err != nil {
		logger.Error("Failed to schedule retry task, recovery scanner will pick it up", zap.Error(err))
		return
	}

	s.metrics.IncRetryQueued(attempt.Platform)
	logger.Info("Retry scheduled", zap.Time("scheduledAt", attempt.ScheduledAt))
}

// MoveToDeadLetterQueue persists a permanently failed webhook for operator review
// and alerts operators after the entry is committed. Notification problems never
// fail the call.
func (s *RetryService) MoveToDeadLetterQueue(ctx context.Context, req DeadLetterRequest) (*domain.DeadLetterEntry, error) {
	req.WebhookID = strings.TrimSpace(req.WebhookID)
	req.Platform = domain.NormalizePlatform(req.Platform)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validateDeadLetterRequest(req); err != nil {
		return nil, err
	}

	attemptsMade := req.AttemptsMade
	if attemptsMade <= 0 {
		attemptsMade = s.policy.MaxRetries
	}

	entry := &domain.DeadLetterEntry{
		ID:                   uuid.NewString(),
		WebhookID:            req.WebhookID,
		Platform:             req.Platform,
		OrgID:                s.resolveOrgID(ctx, req),
		Payload:              req.Payload,
		FailureReason:        req.Reason,
		AttemptsMade:         attemptsMade,
		CreatedAt:            s.now().UTC(),
		RequiresManualReview: true,
	}
	if err := s.deadLetters.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist dead letter entry: %w", err)
	}

	repository.AfterCommit(ctx, func(ctx context.Context) {
		s.metrics.IncDeadLettered(entry.Platform)

		logger := s.loggerFor(ctx, entry.WebhookID).With(zap.String("deadLetterId", entry.ID))
		logger.Warn("Webhook moved to dead letter queue",
			zap.String("reason", entry.FailureReason),
			zap.Int("attemptsMade", entry.AttemptsMade),
		)

		s.notifyFailure(ctx, logger, entry)
		s.recordAlert(ctx, logger, entry)
	})

	return entry, nil
}

func (s *RetryService) notifyFailure(ctx context.Context, logger *zap.Logger, entry *domain.DeadLetterEntry) {
	failureContext := map[string]any{
		"deadLetterId": entry.ID,
		"attemptsMade": entry.AttemptsMade,
	}
	if entry.OrgID != nil {
		failureContext["orgId"] = *entry.OrgID
	}

	err := s.notifier.NotifyDeliveryFailure(ctx, notifier.Failure{
		WebhookID: entry.WebhookID,
		Platform:  entry.Platform,
		Reason:    entry.FailureReason,
		Context:   failureContext,
	})
	if err != nil {
		s.metrics.IncNotifierFailure(entry.Platform)
		logger.Error("Failed to notify operators about dead letter", zap.Error(err))
	}
}

func (s *RetryService) recordAlert(ctx context.Context, logger *zap.Logger, entry *domain.DeadLetterEntry) {
	if s.alerts == nil {
		return
	}
	if entry.OrgID == nil {
		logger.Debug("Skipping operational alert, org id unknown")
		return
	}

	alert := &domain.Alert{
		ID:       uuid.NewString(),
		OrgID:    *entry.OrgID,
		Severity: domain.AlertSeverityCritical,
		Type:     domain.AlertTypeWebhookFailure,
		Title:    "Webhook delivery failed permanently",
		Message:  fmt.Sprintf("%s webhook %s moved to dead letter queue: %s", entry.Platform, entry.WebhookID, entry.FailureReason),
		Context: map[string]any{
			"webhookId":    entry.WebhookID,
			"platform":     entry.Platform,
			"deadLetterId": entry.ID,
			"attemptsMade": entry.AttemptsMade,
		},
		CreatedAt: entry.CreatedAt,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		logger.Error("Failed to record operational alert", zap.Error(err))
	}
}

// resolveOrgID tries the request, then the payload, then the original event.
func (s *RetryService) resolveOrgID(ctx context.Context, req DeadLetterRequest) *string {
	if req.OrgID != nil {
		if orgID := strings.TrimSpace(*req.OrgID); orgID != "" {
			return &orgID
		}
	}

	if orgID, ok := domain.OrgIDFromPayload(req.Payload); ok {
		return &orgID
	}

	if s.events == nil {
		return nil
	}

	event, err := s.events.FindByWebhookID(repository.WithoutTx(ctx), req.WebhookID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.loggerFor(ctx, req.WebhookID).Warn("Original event lookup failed", zap.Error(err))
		}
		return nil
	}
	if event == nil {
		return nil
	}
	if event.OrgID != nil && strings.TrimSpace(*event.OrgID) != "" {
		orgID := strings.TrimSpace(*event.OrgID)
		return &orgID
	}
	if orgID, ok := domain.OrgIDFromPayload(event.Payload); ok {
		return &orgID
	}
	return nil
}

// MarkRetrySuccess resolves a pending attempt as delivered. It reports whether
// this call made the transition; repeating it is a no-op.
func (s *RetryService) MarkRetrySuccess(ctx context.Context, webhookID string, attemptNumber int) (bool, error) {
	return s.resolveAttempt(ctx, webhookID, attemptNumber, domain.RetryStatusSuccess, nil)
}

// MarkRetryFailed resolves a pending attempt as failed. It never queues the next
// attempt; the caller decides whether to call QueueRetry.
func (s *RetryService) MarkRetryFailed(ctx context.Context, webhookID string, attemptNumber int, errorMessage string) (bool, error) {
	message := strings.TrimSpace(errorMessage)
	return s.resolveAttempt(ctx, webhookID, attemptNumber, domain.RetryStatusFailed, &message)
}

func (s *RetryService) resolveAttempt(
	ctx context.Context,
	webhookID string,
	attemptNumber int,
	status domain.RetryStatus,
	errorMessage *string,
) (bool, error) {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return false, fmt.Errorf("%w: webhook id is required", domain.ErrValidation)
	}
	if attemptNumber < 1 {
		return false, fmt.Errorf("%w: attempt number must be >= 1", domain.ErrValidation)
	}

	resolved, err := s.attempts.Resolve(ctx, webhookID, attemptNumber, status, errorMessage, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to resolve retry attempt: %w", err)
	}
	if resolved {
		return true, nil
	}

	// Nothing pending matched: either a duplicate resolution or an unknown attempt.
	if _, err := s.attempts.GetByWebhookAttempt(ctx, webhookID, attemptNumber); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("failed to load retry attempt: %w", err)
	}

	s.loggerFor(ctx, webhookID).Debug("Retry attempt already resolved",
		zap.Int("resolvedAttempt", attemptNumber),
		zap.String("status", status.String()),
	)
	return false, nil
}

// RetryDeadLetter starts a fresh backoff cycle for a dead-lettered webhook. Entries
// that were already retried or dismissed are rejected with ErrConflict.
func (s *RetryService) RetryDeadLetter(ctx context.Context, deadLetterID string) (bool, error) {
	deadLetterID = strings.TrimSpace(deadLetterID)
	if deadLetterID == "" {
		return false, fmt.Errorf("%w: dead letter id is required", domain.ErrValidation)
	}

	entry, err := s.deadLetters.GetByID(ctx, deadLetterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("failed to load dead letter entry: %w", err)
	}
	if entry.Resolved() {
		return false, fmt.Errorf("%w: dead letter entry is already %s", domain.ErrConflict, entry.State())
	}

	var attempt *domain.RetryAttempt
	if s.tx != nil {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.deadLetters.MarkRetried(ctx, entry.ID, s.now().UTC()); err != nil {
				return err
			}

			var err error
			attempt, err = s.insertAttempt(ctx, restartRequest(entry))
			return err
		})
	} else {
		attempt, err = s.retryWithoutTx(ctx, entry)
	}
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to retry dead letter entry: %w", err)
	}

	s.schedule(ctx, attempt)
	s.metrics.IncDeadLetterAction("retry")
	s.loggerFor(ctx, entry.WebhookID).Info("Dead letter entry re-queued",
		zap.String("deadLetterId", entry.ID),
		zap.String("retryId", attempt.ID),
	)
	return true, nil
}

// retryWithoutTx inserts the fresh attempt before closing review, so a failed
// insert leaves the entry retryable. An attempt whose entry lost the review CAS is
// resolved as failed and never scheduled.
func (s *RetryService) retryWithoutTx(ctx context.Context, entry *domain.DeadLetterEntry) (*domain.RetryAttempt, error) {
	attempt, err := s.insertAttempt(ctx, restartRequest(entry))
	if err != nil {
		return nil, err
	}

	markErr := s.deadLetters.MarkRetried(ctx, entry.ID, s.now().UTC())
	if markErr == nil {
		return attempt, nil
	}

	message := "dead letter retry rejected: " + markErr.Error()
	if _, err := s.attempts.Resolve(ctx, attempt.WebhookID, attempt.AttemptNumber, domain.RetryStatusFailed, &message, s.now().UTC()); err != nil {
		s.loggerFor(ctx, entry.WebhookID).Error("Failed to resolve orphaned retry attempt",
			zap.String("retryId", attempt.ID),
			zap.Error(err),
		)
	}
	return nil, markErr
}

func restartRequest(entry *domain.DeadLetterEntry) RetryRequest {
	return RetryRequest{
		WebhookID: entry.WebhookID,
		Platform:  entry.Platform,
		Payload:   entry.Payload,
		Attempt:   0,
	}
}

// DismissDeadLetter closes review on an entry without retrying it. Unknown ids
// report false without an error.
func (s *RetryService) DismissDeadLetter(ctx context.Context, deadLetterID string, reason string) (bool, error) {
	deadLetterID = strings.TrimSpace(deadLetterID)
	reason = strings.TrimSpace(reason)
	if deadLetterID == "" {
		return false, nil
	}
	if reason == "" {
		return false, fmt.Errorf("%w: dismiss reason is required", domain.ErrValidation)
	}

	err := s.deadLetters.MarkDismissed(ctx, deadLetterID, reason, s.now().UTC())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	case errors.Is(err, domain.ErrConflict):
		return false, err
	case err != nil:
		return false, fmt.Errorf("failed to dismiss dead letter entry: %w", err)
	}

	s.metrics.IncDeadLetterAction("dismiss")
	observability.WithContextLogger(s.logger, ctx).Info("Dead letter entry dismissed",
		zap.String("deadLetterId", deadLetterID),
		zap.String("reason", reason),
	)
	return true, nil
}

func (s *RetryService) GetRetryStats(ctx context.Context) (*domain.RetryStats, error) {
	pending, err := s.attempts.CountByStatus(ctx, domain.RetryStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending retries: %w", err)
	}

	deadLetters, err := s.deadLetters.CountPendingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}

	since := s.now().UTC().Add(-statsWindow)
	total, err := s.attempts.CountCreatedSince(ctx, since, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent retries: %w", err)
	}

	success := domain.RetryStatusSuccess
	succeeded, err := s.attempts.CountCreatedSince(ctx, since, &success)
	if err != nil {
		return nil, fmt.Errorf("failed to count successful retries: %w", err)
	}

	return &domain.RetryStats{
		PendingRetries:  pending,
		DeadLetterCount: deadLetters,
		SuccessRate:     successRate(succeeded, total),
	}, nil
}

// successRate is a percentage rounded to two decimals; an empty window reports 100.
func successRate(succeeded, total int64) float64 {
	if total <= 0 {
		return 100.0
	}
	return math.Round(float64(succeeded)/float64(total)*10000) / 100
}

func (s *RetryService) GetDeadLetterQueue(ctx context.Context, query DeadLetterQuery) ([]domain.DeadLetterEntry, error) {
	if query.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation)
	}

	params := repository.DeadLetterListParams{Limit: query.Limit}
	if query.OrgID != nil {
		if orgID := strings.TrimSpace(*query.OrgID); orgID != "" {
			params.OrgID = &orgID
		}
	}
	return s.deadLetters.ListPendingReview(ctx, params)
}

func (s *RetryService) GetRetryHistory(ctx context.Context, webhookID string) ([]domain.RetryAttempt, error) {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return nil, fmt.Errorf("%w: webhook id is required", domain.ErrValidation)
	}
	return s.attempts.ListByWebhookID(ctx, webhookID)
}

// loggerFor adds the webhook id unless ctx already carries it.
func (s *RetryService) loggerFor(ctx context.Context, webhookID string) *zap.Logger {
	logger := observability.WithContextLogger(s.logger, ctx)
	if delivery, ok := observability.DeliveryFromContext(ctx); ok && delivery.WebhookID == webhookID {
		return logger
	}
	return logger.With(zap.String("webhookId", webhookID))
}

func validateRetryRequest(req RetryRequest) error {
	if req.WebhookID == "" {
		return fmt.Errorf("%w: webhook id is required", domain.ErrValidation)
	}
	if req.Platform == "" {
		return fmt.Errorf("%w: platform is required", domain.ErrValidation)
	}
	if req.Attempt < 0 {
		return fmt.Errorf("%w: attempt must be >= 0", domain.ErrValidation)
	}
	return validatePayload(req.Payload)
}

func validateDeadLetterRequest(req DeadLetterRequest) error {
	if req.WebhookID == "" {
		return fmt.Errorf("%w: webhook id is required", domain.ErrValidation)
	}
	if req.Platform == "" {
		return fmt.Errorf("%w: platform is required", domain.ErrValidation)
	}
	if req.Reason == "" {
		return fmt.Errorf("%w: failure reason is required", domain.ErrValidation)
	}
	return validatePayload(req.Payload)
}

func validatePayload(payload json.RawMessage) error {
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("%w: payload must be valid JSON", domain.ErrValidation)
	}
	return nil
}
