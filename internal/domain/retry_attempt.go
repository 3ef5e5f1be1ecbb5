package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RetryStatus represents the resolution state of a retry attempt.
type RetryStatus string

const (
	RetryStatusPending RetryStatus = "pending"
	RetryStatusSuccess RetryStatus = "success"
	RetryStatusFailed  RetryStatus = "failed"
)

func (s RetryStatus) String() string { return string(s) }

func (s RetryStatus) IsValid() bool {
	switch s {
	case RetryStatusPending, RetryStatusSuccess, RetryStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status can no longer change.
func (s RetryStatus) IsTerminal() bool {
	return s == RetryStatusSuccess || s == RetryStatusFailed
}

func ParseRetryStatusFromString(s string) (RetryStatus, error) {
	st := RetryStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid retry status %q", ErrValidation, s)
	}
	return st, nil
}

// RetryAttempt is one scheduled re-delivery of a webhook. Rows are append-only.
type RetryAttempt struct {
	ID            string
	WebhookID     string
	Platform      string
	Payload       json.RawMessage
	AttemptNumber int
	ScheduledAt   time.Time
	Status        RetryStatus
	ErrorMessage  *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// Task returns the scheduler unit for this attempt.
func (a RetryAttempt) Task() RetryTask {
	return RetryTask{
		RetryID:       a.ID,
		WebhookID:     a.WebhookID,
		Platform:      a.Platform,
		AttemptNumber: a.AttemptNumber,
	}
}

// RetryTask is what the task scheduler carries until the attempt is due.
type RetryTask struct {
	RetryID       string `json:"retryId"`
	WebhookID     string `json:"webhookId"`
	Platform      string `json:"platform"`
	AttemptNumber int    `json:"attemptNumber"`
}

func (t RetryTask) Validate() error {
	if strings.TrimSpace(t.RetryID) == "" {
		return fmt.Errorf("%w: retryId is required", ErrValidation)
	}
	if strings.TrimSpace(t.WebhookID) == "" {
		return fmt.Errorf("%w: webhookId is required", ErrValidation)
	}
	if t.AttemptNumber < 1 {
		return fmt.Errorf("%w: attemptNumber must be >= 1", ErrValidation)
	}
	return nil
}

// NormalizePlatform lowercases and trims a platform tag.
func NormalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
