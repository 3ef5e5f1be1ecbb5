package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseRetryStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseRetryStatusFromString(" PENDING ")
	if err != nil {
		t.Fatalf("ParseRetryStatusFromString() unexpected error = %v", err)
	}
	if got != RetryStatusPending {
		t.Fatalf("ParseRetryStatusFromString() = %s, want %s", got, RetryStatusPending)
	}

	_, err = ParseRetryStatusFromString("retrying")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseRetryStatusFromString() error = %v, want ErrValidation", err)
	}

	if RetryStatusPending.IsTerminal() {
		t.Fatal("pending should not be terminal")
	}
	if !RetryStatusFailed.IsTerminal() || !RetryStatusSuccess.IsTerminal() {
		t.Fatal("success and failed should be terminal")
	}
}

func TestRetryTaskValidate(t *testing.T) {
	t.Parallel()

	task := RetryAttempt{ID: "r1", WebhookID: "wh-1", Platform: "facebook", AttemptNumber: 1}.Task()
	if err := task.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	task.AttemptNumber = 0
	if err := task.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	task.AttemptNumber = 1
	task.RetryID = " "
	if err := task.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}

func TestDeadLetterEntryState(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	reason := "duplicate event"

	tests := []struct {
		name         string
		entry        DeadLetterEntry
		wantState    DeadLetterState
		wantResolved bool
	}{
		{
			name:      "under review",
			entry:     DeadLetterEntry{RequiresManualReview: true},
			wantState: DeadLetterStateReview,
		},
		{
			name:         "retried",
			entry:        DeadLetterEntry{RetriedAt: &now},
			wantState:    DeadLetterStateRetried,
			wantResolved: true,
		},
		{
			name:         "dismissed",
			entry:        DeadLetterEntry{DismissedAt: &now, DismissedReason: &reason},
			wantState:    DeadLetterStateDismissed,
			wantResolved: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.entry.State(); got != tt.wantState {
				t.Fatalf("State() = %s, want %s", got, tt.wantState)
			}
			if got := tt.entry.Resolved(); got != tt.wantResolved {
				t.Fatalf("Resolved() = %v, want %v", got, tt.wantResolved)
			}
		})
	}
}

func TestOrgIDFromPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
		wantOK  bool
	}{
		{name: "snake case", payload: `{"org_id":"org-1"}`, want: "org-1", wantOK: true},
		{name: "camel case", payload: `{"orgId":"org-2"}`, want: "org-2", wantOK: true},
		{name: "numeric id", payload: `{"organization_id":42}`, want: "42", wantOK: true},
		{name: "nested data", payload: `{"event":"post.published","data":{"org_id":"org-3"}}`, want: "org-3", wantOK: true},
		{name: "blank value", payload: `{"org_id":"  "}`},
		{name: "missing", payload: `{"campaign_id":"c-1"}`},
		{name: "array payload", payload: `[1,2,3]`},
		{name: "invalid json", payload: `{`},
		{name: "empty", payload: ``},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := OrgIDFromPayload(json.RawMessage(tt.payload))
			if ok != tt.wantOK {
				t.Fatalf("OrgIDFromPayload() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Fatalf("OrgIDFromPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}
