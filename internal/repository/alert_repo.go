package repository

import (
	"context"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"gorm.io/gorm"
)

type AlertRepository interface {
	Create(ctx context.Context, a *domain.Alert) error
	ListByOrgID(ctx context.Context, orgID string, limit int) ([]domain.Alert, error)
}

type GormAlertRepo struct {
	db *gorm.DB
}

func NewGormAlertRepo(db *gorm.DB) *GormAlertRepo {
	return &GormAlertRepo{db: db}
}

func (r *GormAlertRepo) Create(ctx context.Context, a *domain.Alert) error {
	model := alertModelFromDomain(a)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *alertModelToDomain(model)
	}
	return nil
}

func (r *GormAlertRepo) ListByOrgID(ctx context.Context, orgID string, limit int) ([]domain.Alert, error) {
	if limit < 1 {
		limit = defaultDeadLetterLimit
	}

	var models []AlertModel
	err := conn(ctx, r.db).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(models))
	for i := range models {
		alerts = append(alerts, *alertModelToDomain(&models[i]))
	}
	return alerts, nil
}
