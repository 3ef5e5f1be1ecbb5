package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormWebhookEventRepo_FindByWebhookIDReturnsEarliest(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormWebhookEventRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	later := &domain.WebhookEvent{
		ID:        uuid.NewString(),
		WebhookID: "wh-1",
		Platform:  "shopify",
		EventType: "order.updated",
		Payload:   json.RawMessage(`{"order_id":2}`),
		CreatedAt: now.Add(time.Minute),
	}
	first := &domain.WebhookEvent{
		ID:        uuid.NewString(),
		WebhookID: "wh-1",
		OrgID:     strPtr("org-1"),
		Platform:  "shopify",
		EventType: "order.created",
		Payload:   json.RawMessage(`{"order_id":1}`),
		CreatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, later))
	require.NoError(t, repo.Create(ctx, first))

	got, err := repo.FindByWebhookID(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	require.NotNil(t, got.OrgID)
	assert.Equal(t, "org-1", *got.OrgID)
	assert.JSONEq(t, `{"order_id":1}`, string(got.Payload))

	_, err = repo.FindByWebhookID(ctx, "wh-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
