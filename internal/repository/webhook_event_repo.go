package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"gorm.io/gorm"
)

type WebhookEventRepository interface {
	Create(ctx context.Context, e *domain.WebhookEvent) error
	FindByWebhookID(ctx context.Context, webhookID string) (*domain.WebhookEvent, error)
}

type GormWebhookEventRepo struct {
	db *gorm.DB
}

func NewGormWebhookEventRepo(db *gorm.DB) *GormWebhookEventRepo {
	return &GormWebhookEventRepo{db: db}
}

func (r *GormWebhookEventRepo) Create(ctx context.Context, e *domain.WebhookEvent) error {
	model := webhookEventModelFromDomain(e)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *webhookEventModelToDomain(model)
	}
	return nil
}

// FindByWebhookID returns the earliest event recorded for the webhook.
func (r *GormWebhookEventRepo) FindByWebhookID(ctx context.Context, webhookID string) (*domain.WebhookEvent, error) {
	var model WebhookEventModel
	err := conn(ctx, r.db).
		Where("webhook_id = ?", webhookID).
		Order("created_at ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webhookEventModelToDomain(&model), nil
}
