package queue

import (
	"context"
)

// Publisher hands due retry tasks to the broker.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg RetryTaskMessage) error
	Close() error
}

// MessageHandler handles a consumed retry task. A returned error requeues the
// message.
type MessageHandler func(ctx context.Context, msg RetryTaskMessage) error

// Consumer feeds retry tasks from a queue to a handler.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// RetryQueue carries retry tasks that are due for delivery.
	RetryQueue = "webhook.retry"
	// RetryDLQ receives retry tasks the consumer rejected as malformed.
	RetryDLQ = "dlq.webhook.retry"

	// MaxDeliveries caps how often the broker hands out one retry task before the
	// consumer parks it in RetryDLQ. The attempt row stays pending, so the
	// recovery scanner schedules it again.
	MaxDeliveries = 10

	HeaderWebhookID     = "x-webhook-id"
	HeaderAttemptNumber = "x-attempt-number"

	dlxExchangeName = "webhook.retry.dlx"
	dlqRoutingKey   = "webhook.retry"

	// deliveryCountHeader is maintained by quorum queues.
	deliveryCountHeader = "x-delivery-count"
)
