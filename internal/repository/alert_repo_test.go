package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormAlertRepo_ListByOrgIDNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormAlertRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, orgID := range []string{"org-1", "org-1", "org-2"} {
		require.NoError(t, repo.Create(ctx, &domain.Alert{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			Severity:  domain.AlertSeverityCritical,
			Type:      domain.AlertTypeWebhookFailure,
			Title:     "Webhook delivery failed",
			Message:   "Max retries exceeded",
			Context:   map[string]any{"webhookId": "wh-1"},
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	alerts, err := repo.ListByOrgID(ctx, "org-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.True(t, alerts[0].CreatedAt.After(alerts[1].CreatedAt))
	assert.Equal(t, domain.AlertTypeWebhookFailure, alerts[0].Type)
	assert.Equal(t, "wh-1", alerts[0].Context["webhookId"])

	limited, err := repo.ListByOrgID(ctx, "org-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
