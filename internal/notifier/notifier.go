package notifier

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Failure describes a webhook that reached the dead letter queue.
type Failure struct {
	WebhookID string
	Platform  string
	Reason    string
	Context   map[string]any
}

// Notifier alerts operators about permanently failed deliveries.
type Notifier interface {
	NotifyDeliveryFailure(ctx context.Context, failure Failure) error
}

// LogNotifier writes failures to the service log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyDeliveryFailure(_ context.Context, failure Failure) error {
	n.logger.Warn("Operator alert: webhook delivery failed permanently",
		zap.String("webhookId", failure.WebhookID),
		zap.String("platform", failure.Platform),
		zap.String("reason", failure.Reason),
		zap.Any("context", failure.Context),
	)
	return nil
}

// MultiNotifier fans a failure out to every notifier and joins their errors.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	kept := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &MultiNotifier{notifiers: kept}
}

func (m *MultiNotifier) NotifyDeliveryFailure(ctx context.Context, failure Failure) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyDeliveryFailure(ctx, failure); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
