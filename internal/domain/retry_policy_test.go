package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first failure", attempt: 0, want: 60 * time.Second},
		{name: "second failure", attempt: 1, want: 300 * time.Second},
		{name: "third failure", attempt: 2, want: 900 * time.Second},
		{name: "fourth failure", attempt: 3, want: time.Hour},
		{name: "last tier", attempt: 4, want: 2 * time.Hour},
		{name: "clamped past table", attempt: 9, want: 2 * time.Hour},
		{name: "negative clamps to first", attempt: -3, want: 60 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := policy.Delay(tt.attempt); got != tt.want {
				t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxRetries: 5, BackoffSchedule: DefaultBackoffSchedule()}
	if policy.Exhausted(4) {
		t.Fatal("Exhausted(4) = true, want false")
	}
	if !policy.Exhausted(5) {
		t.Fatal("Exhausted(5) = false, want true")
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultRetryPolicy().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	invalid := []RetryPolicy{
		{MaxRetries: 0, BackoffSchedule: DefaultBackoffSchedule()},
		{MaxRetries: 3},
		{MaxRetries: 3, BackoffSchedule: []time.Duration{time.Second, -time.Second}},
	}
	for i, p := range invalid {
		if err := p.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: Validate() error = %v, want ErrValidation", i, err)
		}
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	t.Parallel()

	got, err := ParseBackoffSchedule(" 60, 300 ,15m,2h ")
	if err != nil {
		t.Fatalf("ParseBackoffSchedule() unexpected error = %v", err)
	}
	want := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 2 * time.Hour}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tier %d = %v, want %v", i, got[i], want[i])
		}
	}

	for _, raw := range []string{"", " , ", "abc", "-5", "60,-1s"} {
		if _, err := ParseBackoffSchedule(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseBackoffSchedule(%q) error = %v, want ErrValidation", raw, err)
		}
	}
}
