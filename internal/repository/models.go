package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"gorm.io/datatypes"
)

// RetryAttemptModel is the persistence model for webhook_retry_queue.
type RetryAttemptModel struct {
	ID            string             `gorm:"type:uuid;primaryKey"`
	WebhookID     string             `gorm:"type:varchar(255);not null"`
	Platform      string             `gorm:"type:varchar(50);not null"`
	Payload       datatypes.JSON     `gorm:"not null"`
	AttemptNumber int                `gorm:"not null"`
	ScheduledAt   time.Time          `gorm:"not null"`
	Status        domain.RetryStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage  *string            `gorm:"type:text"`
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

func (RetryAttemptModel) TableName() string {
	return "webhook_retry_queue"
}

// DeadLetterModel is the persistence model for webhook_dead_letter_queue.
type DeadLetterModel struct {
	ID                   string         `gorm:"type:uuid;primaryKey"`
	WebhookID            string         `gorm:"type:varchar(255);not null"`
	Platform             string         `gorm:"type:varchar(50);not null"`
	OrgID                *string        `gorm:"type:varchar(255)"`
	Payload              datatypes.JSON `gorm:"not null"`
	FailureReason        string         `gorm:"type:text;not null"`
	AttemptsMade         int            `gorm:"not null"`
	CreatedAt            time.Time
	RequiresManualReview bool `gorm:"not null;default:true"`
	RetriedAt            *time.Time
	DismissedAt          *time.Time
	DismissedReason      *string `gorm:"type:text"`
}

func (DeadLetterModel) TableName() string {
	return "webhook_dead_letter_queue"
}

// WebhookEventModel is the persistence model for webhook_events.
type WebhookEventModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	WebhookID string         `gorm:"type:varchar(255);not null"`
	OrgID     *string        `gorm:"type:varchar(255)"`
	Platform  string         `gorm:"type:varchar(50);not null"`
	EventType string         `gorm:"type:varchar(100);not null"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
}

func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// AlertModel is the persistence model for operational_alerts.
type AlertModel struct {
	ID        string               `gorm:"type:uuid;primaryKey"`
	OrgID     string               `gorm:"type:varchar(255);not null"`
	Severity  domain.AlertSeverity `gorm:"type:varchar(20);not null"`
	Type      domain.AlertType     `gorm:"type:varchar(50);not null"`
	Title     string               `gorm:"type:varchar(255);not null"`
	Message   string               `gorm:"type:text;not null"`
	Context   datatypes.JSONMap
	CreatedAt time.Time
}

func (AlertModel) TableName() string {
	return "operational_alerts"
}

func payloadToJSON(payload json.RawMessage) datatypes.JSON {
	if len(payload) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(payload)
}

func payloadFromJSON(payload datatypes.JSON) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	return json.RawMessage(payload)
}

func retryAttemptModelFromDomain(a *domain.RetryAttempt) *RetryAttemptModel {
	if a == nil {
		return nil
	}

	return &RetryAttemptModel{
		ID:            a.ID,
		WebhookID:     a.WebhookID,
		Platform:      a.Platform,
		Payload:       payloadToJSON(a.Payload),
		AttemptNumber: a.AttemptNumber,
		ScheduledAt:   a.ScheduledAt,
		Status:        a.Status,
		ErrorMessage:  a.ErrorMessage,
		CreatedAt:     a.CreatedAt,
		ProcessedAt:   a.ProcessedAt,
	}
}

func retryAttemptModelToDomain(m *RetryAttemptModel) *domain.RetryAttempt {
	if m == nil {
		return nil
	}

	return &domain.RetryAttempt{
		ID:            m.ID,
		WebhookID:     m.WebhookID,
		Platform:      m.Platform,
		Payload:       payloadFromJSON(m.Payload),
		AttemptNumber: m.AttemptNumber,
		ScheduledAt:   m.ScheduledAt,
		Status:        m.Status,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

func deadLetterModelFromDomain(e *domain.DeadLetterEntry) *DeadLetterModel {
	if e == nil {
		return nil
	}

	return &DeadLetterModel{
		ID:                   e.ID,
		WebhookID:            e.WebhookID,
		Platform:             e.Platform,
		OrgID:                e.OrgID,
		Payload:              payloadToJSON(e.Payload),
		FailureReason:        e.FailureReason,
		AttemptsMade:         e.AttemptsMade,
		CreatedAt:            e.CreatedAt,
		RequiresManualReview: e.RequiresManualReview,
		RetriedAt:            e.RetriedAt,
		DismissedAt:          e.DismissedAt,
		DismissedReason:      e.DismissedReason,
	}
}

func deadLetterModelToDomain(m *DeadLetterModel) *domain.DeadLetterEntry {
	if m == nil {
		return nil
	}

	return &domain.DeadLetterEntry{
		ID:                   m.ID,
		WebhookID:            m.WebhookID,
		Platform:             m.Platform,
		OrgID:                m.OrgID,
		Payload:              payloadFromJSON(m.Payload),
		FailureReason:        m.FailureReason,
		AttemptsMade:         m.AttemptsMade,
		CreatedAt:            m.CreatedAt,
		RequiresManualReview: m.RequiresManualReview,
		RetriedAt:            m.RetriedAt,
		DismissedAt:          m.DismissedAt,
		DismissedReason:      m.DismissedReason,
	}
}

func webhookEventModelFromDomain(e *domain.WebhookEvent) *WebhookEventModel {
	if e == nil {
		return nil
	}

	return &WebhookEventModel{
		ID:        e.ID,
		WebhookID: e.WebhookID,
		OrgID:     e.OrgID,
		Platform:  e.Platform,
		EventType: e.EventType,
		Payload:   payloadToJSON(e.Payload),
		CreatedAt: e.CreatedAt,
	}
}

func webhookEventModelToDomain(m *WebhookEventModel) *domain.WebhookEvent {
	if m == nil {
		return nil
	}

	return &domain.WebhookEvent{
		ID:        m.ID,
		WebhookID: m.WebhookID,
		OrgID:     m.OrgID,
		Platform:  m.Platform,
		EventType: m.EventType,
		Payload:   payloadFromJSON(m.Payload),
		CreatedAt: m.CreatedAt,
	}
}

func alertModelFromDomain(a *domain.Alert) *AlertModel {
	if a == nil {
		return nil
	}

	var alertContext datatypes.JSONMap
	if len(a.Context) > 0 {
		alertContext = datatypes.JSONMap(a.Context)
	}

	return &AlertModel{
		ID:        a.ID,
		OrgID:     a.OrgID,
		Severity:  a.Severity,
		Type:      a.Type,
		Title:     a.Title,
		Message:   a.Message,
		Context:   alertContext,
		CreatedAt: a.CreatedAt,
	}
}

func alertModelToDomain(m *AlertModel) *domain.Alert {
	if m == nil {
		return nil
	}

	return &domain.Alert{
		ID:        m.ID,
		OrgID:     m.OrgID,
		Severity:  m.Severity,
		Type:      m.Type,
		Title:     m.Title,
		Message:   m.Message,
		Context:   map[string]any(m.Context),
		CreatedAt: m.CreatedAt,
	}
}
