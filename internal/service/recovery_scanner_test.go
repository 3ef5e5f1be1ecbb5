package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"go.uber.org/zap"
)

func TestRecoveryScannerReschedulesStalePending(t *testing.T) {
	t.Parallel()

	attempts := &memoryAttemptRepo{rows: []domain.RetryAttempt{
		{ID: "stale", WebhookID: "wh-1", Platform: "facebook", AttemptNumber: 2, Status: domain.RetryStatusPending, ScheduledAt: testNow.Add(-time.Hour)},
		{ID: "fresh", WebhookID: "wh-2", Platform: "facebook", AttemptNumber: 1, Status: domain.RetryStatusPending, ScheduledAt: testNow.Add(-time.Minute)},
		{ID: "done", WebhookID: "wh-3", Platform: "facebook", AttemptNumber: 1, Status: domain.RetryStatusSuccess, ScheduledAt: testNow.Add(-time.Hour)},
	}}
	scheduler := &fakeScheduler{}

	scanner, err := NewRecoveryScanner(attempts, scheduler, time.Minute, 10*time.Minute, 50, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecoveryScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return testNow }

	if err := scanner.scanStale(context.Background()); err != nil {
		t.Fatalf("scanStale() error = %v", err)
	}

	tasks := scheduler.tasks()
	if len(tasks) != 1 {
		t.Fatalf("rescheduled = %d, want 1", len(tasks))
	}
	if tasks[0].task.RetryID != "stale" || tasks[0].task.AttemptNumber != 2 {
		t.Fatalf("task = %+v, want stale attempt 2", tasks[0].task)
	}
	if !tasks[0].runAt.Equal(testNow) {
		t.Fatalf("runAt = %s, want now", tasks[0].runAt)
	}
}

func TestRecoveryScannerContinuesAfterScheduleError(t *testing.T) {
	t.Parallel()

	attempts := &memoryAttemptRepo{rows: []domain.RetryAttempt{
		{ID: "a", WebhookID: "wh-1", AttemptNumber: 1, Status: domain.RetryStatusPending, ScheduledAt: testNow.Add(-2 * time.Hour)},
		{ID: "b", WebhookID: "wh-2", AttemptNumber: 1, Status: domain.RetryStatusPending, ScheduledAt: testNow.Add(-time.Hour)},
	}}
	scheduler := &fakeScheduler{scheduleFn: func(_ context.Context, task domain.RetryTask, _ time.Time) error {
		if task.RetryID == "a" {
			return errors.New("redis down")
		}
		return nil
	}}

	scanner, err := NewRecoveryScanner(attempts, scheduler, 0, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewRecoveryScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return testNow }

	if err := scanner.scanStale(context.Background()); err != nil {
		t.Fatalf("scanStale() error = %v", err)
	}
	tasks := scheduler.tasks()
	if len(tasks) != 1 || tasks[0].task.RetryID != "b" {
		t.Fatalf("rescheduled = %+v, want only b", tasks)
	}
}

func TestRecoveryScannerPassesCutoffAndLimit(t *testing.T) {
	t.Parallel()

	var gotBefore time.Time
	var gotLimit int
	attempts := &memoryAttemptRepo{staleFn: func(_ context.Context, before time.Time, limit int) ([]domain.RetryAttempt, error) {
		gotBefore = before
		gotLimit = limit
		return nil, errors.New("db down")
	}}

	scanner, err := NewRecoveryScanner(attempts, &fakeScheduler{}, time.Minute, 15*time.Minute, 25, nil)
	if err != nil {
		t.Fatalf("NewRecoveryScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return testNow }

	if err := scanner.scanStale(context.Background()); err == nil {
		t.Fatal("scanStale() expected error")
	}
	if !gotBefore.Equal(testNow.Add(-15*time.Minute)) || gotLimit != 25 {
		t.Fatalf("ListStalePending(%s, %d), want now-15m and 25", gotBefore, gotLimit)
	}
}
