package domain

import (
	"encoding/json"
	"time"
)

// DeadLetterState is derived from the review/retried/dismissed fields of an entry.
type DeadLetterState string

const (
	DeadLetterStateReview    DeadLetterState = "review"
	DeadLetterStateRetried   DeadLetterState = "retried"
	DeadLetterStateDismissed DeadLetterState = "dismissed"
)

func (s DeadLetterState) String() string { return string(s) }

// DeadLetterEntry is a permanently failed delivery awaiting operator disposition.
type DeadLetterEntry struct {
	ID                   string
	WebhookID            string
	Platform             string
	OrgID                *string
	Payload              json.RawMessage
	FailureReason        string
	AttemptsMade         int
	CreatedAt            time.Time
	RequiresManualReview bool
	RetriedAt            *time.Time
	DismissedAt          *time.Time
	DismissedReason      *string
}

// State reports which of the three mutually exclusive dispositions holds.
func (e DeadLetterEntry) State() DeadLetterState {
	switch {
	case e.DismissedAt != nil:
		return DeadLetterStateDismissed
	case e.RetriedAt != nil:
		return DeadLetterStateRetried
	default:
		return DeadLetterStateReview
	}
}

// Resolved reports whether an operator already acted on the entry.
func (e DeadLetterEntry) Resolved() bool {
	return !e.RequiresManualReview || e.RetriedAt != nil || e.DismissedAt != nil
}

// RetryStats is the read-only operator summary.
type RetryStats struct {
	PendingRetries  int64   `json:"pending_retries"`
	DeadLetterCount int64   `json:"dead_letter_count"`
	SuccessRate     float64 `json:"retry_success_rate"`
}
