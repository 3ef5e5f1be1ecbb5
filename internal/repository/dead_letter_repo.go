package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 100
)

type DeadLetterListParams struct {
	OrgID *string
	Limit int
}

type DeadLetterRepository interface {
	Create(ctx context.Context, e *domain.DeadLetterEntry) error
	GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	MarkRetried(ctx context.Context, id string, retriedAt time.Time) error
	MarkDismissed(ctx context.Context, id string, reason string, dismissedAt time.Time) error
	ListPendingReview(ctx context.Context, params DeadLetterListParams) ([]domain.DeadLetterEntry, error)
	CountPendingReview(ctx context.Context) (int64, error)
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) Create(ctx context.Context, e *domain.DeadLetterEntry) error {
	model := deadLetterModelFromDomain(e)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *deadLetterModelToDomain(model)
	}
	return nil
}

func (r *GormDeadLetterRepo) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	var model DeadLetterModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deadLetterModelToDomain(&model), nil
}

// MarkRetried closes review on an entry. It returns ErrConflict when the entry was
// already retried or dismissed.
func (r *GormDeadLetterRepo) MarkRetried(ctx context.Context, id string, retriedAt time.Time) error {
	return r.resolveReview(ctx, id, map[string]any{
		"requires_manual_review": false,
		"retried_at":             retriedAt,
	})
}

// MarkDismissed closes review on an entry for good. It returns ErrConflict when the
// entry was already retried or dismissed.
func (r *GormDeadLetterRepo) MarkDismissed(ctx context.Context, id string, reason string, dismissedAt time.Time) error {
	return r.resolveReview(ctx, id, map[string]any{
		"requires_manual_review": false,
		"dismissed_at":           dismissedAt,
		"dismissed_reason":       reason,
	})
}

func (r *GormDeadLetterRepo) resolveReview(ctx context.Context, id string, patch map[string]any) error {
	result := conn(ctx, r.db).
		Model(&DeadLetterModel{}).
		Where("id = ? AND requires_manual_review = ? AND retried_at IS NULL AND dismissed_at IS NULL", id, true).
		Updates(patch)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := conn(ctx, r.db).Model(&DeadLetterModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *GormDeadLetterRepo) ListPendingReview(ctx context.Context, params DeadLetterListParams) ([]domain.DeadLetterEntry, error) {
	limit := params.Limit
	if limit < 1 {
		limit = defaultDeadLetterLimit
	}
	limit = min(limit, maxDeadLetterLimit)

	query := conn(ctx, r.db).
		Model(&DeadLetterModel{}).
		Where("requires_manual_review = ?", true)
	if params.OrgID != nil {
		query = query.Where("org_id = ?", *params.OrgID)
	}

	var models []DeadLetterModel
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeadLetterEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *deadLetterModelToDomain(&models[i]))
	}
	return entries, nil
}

func (r *GormDeadLetterRepo) CountPendingReview(ctx context.Context) (int64, error) {
	var total int64
	err := conn(ctx, r.db).
		Model(&DeadLetterModel{}).
		Where("requires_manual_review = ?", true).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
