package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
)

// RetryTaskMessage is the broker payload for one due retry attempt.
type RetryTaskMessage struct {
	RetryID       string `json:"retryId"`
	WebhookID     string `json:"webhookId"`
	Platform      string `json:"platform"`
	AttemptNumber int    `json:"attemptNumber"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func NewRetryTaskMessage(task domain.RetryTask, correlationID string) RetryTaskMessage {
	return RetryTaskMessage{
		RetryID:       task.RetryID,
		WebhookID:     task.WebhookID,
		Platform:      task.Platform,
		AttemptNumber: task.AttemptNumber,
		CorrelationID: correlationID,
	}
}

func (m RetryTaskMessage) Task() domain.RetryTask {
	return domain.RetryTask{
		RetryID:       m.RetryID,
		WebhookID:     m.WebhookID,
		Platform:      m.Platform,
		AttemptNumber: m.AttemptNumber,
	}
}

func (m RetryTaskMessage) Validate() error {
	if err := m.Task().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.Platform) == "" {
		return fmt.Errorf("%w: platform is required", domain.ErrValidation)
	}
	return nil
}
