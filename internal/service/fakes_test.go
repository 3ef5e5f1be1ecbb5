package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/kursadbilgin/webhook-retry/internal/notifier"
	"github.com/kursadbilgin/webhook-retry/internal/provider"
	"github.com/kursadbilgin/webhook-retry/internal/queue"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
)

// memoryAttemptRepo mimics the CAS semantics of GormRetryAttemptRepo.
type memoryAttemptRepo struct {
	mu        sync.Mutex
	rows      []domain.RetryAttempt
	createErr error
	staleFn   func(ctx context.Context, before time.Time, limit int) ([]domain.RetryAttempt, error)
}

var _ repository.RetryAttemptRepository = (*memoryAttemptRepo)(nil)

func (r *memoryAttemptRepo) Create(_ context.Context, a *domain.RetryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.rows = append(r.rows, *a)
	return nil
}

func (r *memoryAttemptRepo) GetByID(_ context.Context, id string) (*domain.RetryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryAttemptRepo) GetByWebhookAttempt(_ context.Context, webhookID string, attemptNumber int) (*domain.RetryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].WebhookID == webhookID && r.rows[i].AttemptNumber == attemptNumber {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryAttemptRepo) ListByWebhookID(_ context.Context, webhookID string) ([]domain.RetryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RetryAttempt
	for _, row := range r.rows {
		if row.WebhookID == webhookID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memoryAttemptRepo) Resolve(
	_ context.Context,
	webhookID string,
	attemptNumber int,
	status domain.RetryStatus,
	errorMessage *string,
	processedAt time.Time,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resolved := false
	for i := range r.rows {
		row := &r.rows[i]
		if row.WebhookID == webhookID && row.AttemptNumber == attemptNumber && row.Status == domain.RetryStatusPending {
			at := processedAt
			row.Status = status
			row.ErrorMessage = errorMessage
			row.ProcessedAt = &at
			resolved = true
		}
	}
	return resolved, nil
}

func (r *memoryAttemptRepo) CountByStatus(_ context.Context, status domain.RetryStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memoryAttemptRepo) CountCreatedSince(_ context.Context, since time.Time, status *domain.RetryStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.CreatedAt.Before(since) {
			continue
		}
		if status != nil && row.Status != *status {
			continue
		}
		n++
	}
	return n, nil
}

func (r *memoryAttemptRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.RetryAttempt, error) {
	if r.staleFn != nil {
		return r.staleFn(ctx, before, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RetryAttempt
	for _, row := range r.rows {
		if row.Status == domain.RetryStatusPending && !row.ScheduledAt.After(before) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryAttemptRepo) all() []domain.RetryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RetryAttempt(nil), r.rows...)
}

// memoryDeadLetterRepo mimics the review CAS of GormDeadLetterRepo.
type memoryDeadLetterRepo struct {
	mu        sync.Mutex
	rows      []domain.DeadLetterEntry
	createErr error
	listFn    func(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, error)
}

var _ repository.DeadLetterRepository = (*memoryDeadLetterRepo)(nil)

func (r *memoryDeadLetterRepo) Create(_ context.Context, e *domain.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.rows = append(r.rows, *e)
	return nil
}

func (r *memoryDeadLetterRepo) GetByID(_ context.Context, id string) (*domain.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryDeadLetterRepo) MarkRetried(_ context.Context, id string, retriedAt time.Time) error {
	return r.resolve(id, func(e *domain.DeadLetterEntry) {
		at := retriedAt
		e.RetriedAt = &at
	})
}

func (r *memoryDeadLetterRepo) MarkDismissed(_ context.Context, id string, reason string, dismissedAt time.Time) error {
	return r.resolve(id, func(e *domain.DeadLetterEntry) {
		at := dismissedAt
		e.DismissedAt = &at
		e.DismissedReason = &reason
	})
}

func (r *memoryDeadLetterRepo) resolve(id string, apply func(e *domain.DeadLetterEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		e := &r.rows[i]
		if e.ID != id {
			continue
		}
		if e.Resolved() {
			return domain.ErrConflict
		}
		e.RequiresManualReview = false
		apply(e)
		return nil
	}
	return domain.ErrNotFound
}

func (r *memoryDeadLetterRepo) ListPendingReview(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, error) {
	if r.listFn != nil {
		return r.listFn(ctx, params)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeadLetterEntry
	for _, e := range r.rows {
		if e.RequiresManualReview {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryDeadLetterRepo) CountPendingReview(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.rows {
		if e.RequiresManualReview {
			n++
		}
	}
	return n, nil
}

func (r *memoryDeadLetterRepo) all() []domain.DeadLetterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DeadLetterEntry(nil), r.rows...)
}

type scheduledTask struct {
	task  domain.RetryTask
	runAt time.Time
}

type fakeScheduler struct {
	mu         sync.Mutex
	scheduled  []scheduledTask
	scheduleFn func(ctx context.Context, task domain.RetryTask, runAt time.Time) error
}

func (f *fakeScheduler) Schedule(ctx context.Context, task domain.RetryTask, runAt time.Time) error {
	if f.scheduleFn != nil {
		if err := f.scheduleFn(ctx, task, runAt); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduledTask{task: task, runAt: runAt})
	return nil
}

func (f *fakeScheduler) tasks() []scheduledTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledTask(nil), f.scheduled...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	failures []notifier.Failure
	notifyFn func(ctx context.Context, failure notifier.Failure) error
}

func (f *fakeNotifier) NotifyDeliveryFailure(ctx context.Context, failure notifier.Failure) error {
	f.mu.Lock()
	f.failures = append(f.failures, failure)
	f.mu.Unlock()
	if f.notifyFn != nil {
		return f.notifyFn(ctx, failure)
	}
	return nil
}

type fakeEventLookup struct {
	findFn func(ctx context.Context, webhookID string) (*domain.WebhookEvent, error)
}

func (f *fakeEventLookup) FindByWebhookID(ctx context.Context, webhookID string) (*domain.WebhookEvent, error) {
	if f.findFn != nil {
		return f.findFn(ctx, webhookID)
	}
	return nil, domain.ErrNotFound
}

type fakeAlertRecorder struct {
	alerts   []domain.Alert
	createFn func(ctx context.Context, alert *domain.Alert) error
}

func (f *fakeAlertRecorder) Create(ctx context.Context, alert *domain.Alert) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, alert); err != nil {
			return err
		}
	}
	f.alerts = append(f.alerts, *alert)
	return nil
}

type fakeTxKey struct{}

// fakeTransactor marks the callback ctx as transactional and runs commit hooks
// only when fn succeeds and commitErr is nil.
type fakeTransactor struct {
	mu        sync.Mutex
	calls     int
	commitErr error
}

func (f *fakeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.calls++
	commitErr := f.commitErr
	f.mu.Unlock()

	txCtx, runHooks := repository.WithCommitHooks(ctx)
	if err := fn(context.WithValue(txCtx, fakeTxKey{}, true)); err != nil {
		return err
	}
	if commitErr != nil {
		return commitErr
	}
	runHooks(ctx)
	return nil
}

func inFakeTx(ctx context.Context) bool {
	inTx, _ := ctx.Value(fakeTxKey{}).(bool)
	return inTx
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.RetryTaskMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.RetryTaskMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeDeliverer struct {
	mu        sync.Mutex
	calls     int
	deliverFn func(ctx context.Context, attempt domain.RetryAttempt) (*provider.DeliveryResponse, error)
}

func (f *fakeDeliverer) Deliver(ctx context.Context, attempt domain.RetryAttempt) (*provider.DeliveryResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.deliverFn != nil {
		return f.deliverFn(ctx, attempt)
	}
	return &provider.DeliveryResponse{StatusCode: 200}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, platform string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, platform string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, platform)
	}
	return nil
}

type fakeTaskSource struct {
	popFn func(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error)
}

func (f *fakeTaskSource) PopDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error) {
	if f.popFn != nil {
		return f.popFn(ctx, now, limit)
	}
	return nil, nil
}
