package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"gorm.io/gorm"
)

type RetryAttemptRepository interface {
	Create(ctx context.Context, a *domain.RetryAttempt) error
	GetByID(ctx context.Context, id string) (*domain.RetryAttempt, error)
	GetByWebhookAttempt(ctx context.Context, webhookID string, attemptNumber int) (*domain.RetryAttempt, error)
	ListByWebhookID(ctx context.Context, webhookID string) ([]domain.RetryAttempt, error)
	Resolve(ctx context.Context, webhookID string, attemptNumber int, status domain.RetryStatus, errorMessage *string, processedAt time.Time) (bool, error)
	CountByStatus(ctx context.Context, status domain.RetryStatus) (int64, error)
	CountCreatedSince(ctx context.Context, since time.Time, status *domain.RetryStatus) (int64, error)
	ListStalePending(ctx context.Context, scheduledBefore time.Time, limit int) ([]domain.RetryAttempt, error)
}

type GormRetryAttemptRepo struct {
	db *gorm.DB
}

func NewGormRetryAttemptRepo(db *gorm.DB) *GormRetryAttemptRepo {
	return &GormRetryAttemptRepo{db: db}
}

func (r *GormRetryAttemptRepo) Create(ctx context.Context, a *domain.RetryAttempt) error {
	model := retryAttemptModelFromDomain(a)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *retryAttemptModelToDomain(model)
	}
	return nil
}

func (r *GormRetryAttemptRepo) GetByID(ctx context.Context, id string) (*domain.RetryAttempt, error) {
	var model RetryAttemptModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return retryAttemptModelToDomain(&model), nil
}

// GetByWebhookAttempt returns the newest row for the pair; a replayed dead letter
// starts a new cycle that reuses attempt numbers.
func (r *GormRetryAttemptRepo) GetByWebhookAttempt(ctx context.Context, webhookID string, attemptNumber int) (*domain.RetryAttempt, error) {
	var model RetryAttemptModel
	err := conn(ctx, r.db).
		Where("webhook_id = ? AND attempt_number = ?", webhookID, attemptNumber).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return retryAttemptModelToDomain(&model), nil
}

func (r *GormRetryAttemptRepo) ListByWebhookID(ctx context.Context, webhookID string) ([]domain.RetryAttempt, error) {
	var models []RetryAttemptModel
	err := conn(ctx, r.db).
		Where("webhook_id = ?", webhookID).
		Order("created_at ASC").
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.RetryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *retryAttemptModelToDomain(&models[i]))
	}
	return attempts, nil
}

// Resolve moves a pending attempt to a terminal status. It reports false when no
// pending row matched, which makes duplicate resolutions a no-op.
func (r *GormRetryAttemptRepo) Resolve(
	ctx context.Context,
	webhookID string,
	attemptNumber int,
	status domain.RetryStatus,
	errorMessage *string,
	processedAt time.Time,
) (bool, error) {
	result := conn(ctx, r.db).
		Model(&RetryAttemptModel{}).
		Where("webhook_id = ? AND attempt_number = ? AND status = ?", webhookID, attemptNumber, domain.RetryStatusPending).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
			"processed_at":  processedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRetryAttemptRepo) CountByStatus(ctx context.Context, status domain.RetryStatus) (int64, error) {
	var total int64
	err := conn(ctx, r.db).
		Model(&RetryAttemptModel{}).
		Where("status = ?", status).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormRetryAttemptRepo) CountCreatedSince(ctx context.Context, since time.Time, status *domain.RetryStatus) (int64, error) {
	query := conn(ctx, r.db).
		Model(&RetryAttemptModel{}).
		Where("created_at >= ?", since)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormRetryAttemptRepo) ListStalePending(ctx context.Context, scheduledBefore time.Time, limit int) ([]domain.RetryAttempt, error) {
	var models []RetryAttemptModel
	err := conn(ctx, r.db).
		Where("status = ? AND scheduled_at <= ?", domain.RetryStatusPending, scheduledBefore).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.RetryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *retryAttemptModelToDomain(&models[i]))
	}
	return attempts, nil
}
