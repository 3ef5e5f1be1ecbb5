package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client        *RabbitMQ
	prefetch      int
	maxDeliveries int64
	logger        *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:        client,
		prefetch:      prefetch,
		maxDeliveries: MaxDeliveries,
		logger:        logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	var msg RetryTaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("Rejecting retry task: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
			zap.String("webhookId", headerString(d.Headers, HeaderWebhookID)),
			zap.Int64("attemptNumber", headerInt(d.Headers, HeaderAttemptNumber)),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("Rejecting retry task: validation failed",
			zap.Error(err),
			zap.String("retryId", msg.RetryID),
			zap.String("webhookId", msg.WebhookID),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}

	if err := handler(ctx, msg); err != nil {
		delivered := deliveryCount(d) + 1
		logger := c.logger.With(
			zap.Error(err),
			zap.String("retryId", msg.RetryID),
			zap.String("webhookId", msg.WebhookID),
			zap.Int("attemptNumber", msg.AttemptNumber),
			zap.Int64("deliveryCount", delivered),
		)

		if delivered >= c.maxDeliveries {
			logger.Error("Parking retry task after repeated handler errors, recovery scanner will reschedule it")
			if rejectErr := d.Reject(false); rejectErr != nil {
				return fmt.Errorf("handler failed and reject failed: %w", rejectErr)
			}
			return nil
		}

		logger.Warn("Requeueing retry task after handler error")
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// deliveryCount reports how often the broker delivered d before. Classic queues
// only flag redeliveries.
func deliveryCount(d amqp.Delivery) int64 {
	if count := headerInt(d.Headers, deliveryCountHeader); count > 0 {
		return count
	}
	if d.Redelivered {
		return 1
	}
	return 0
}

func headerInt(headers amqp.Table, key string) int64 {
	switch v := headers[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func headerString(headers amqp.Table, key string) string {
	v, _ := headers[key].(string)
	return v
}
