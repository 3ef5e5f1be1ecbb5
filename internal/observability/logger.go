package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type correlationIDKey struct{}

type deliveryKey struct{}

// Delivery identifies the webhook delivery a context is working on.
type Delivery struct {
	WebhookID     string
	Platform      string
	AttemptNumber int
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": "webhook-retry"}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

func WithDelivery(ctx context.Context, delivery Delivery) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, deliveryKey{}, delivery)
}

func DeliveryFromContext(ctx context.Context) (Delivery, bool) {
	if ctx == nil {
		return Delivery{}, false
	}

	delivery, ok := ctx.Value(deliveryKey{}).(Delivery)
	if !ok || delivery.WebhookID == "" {
		return Delivery{}, false
	}

	return delivery, true
}

// WithContextLogger decorates logger with the correlation id and delivery fields found in ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 4)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if delivery, ok := DeliveryFromContext(ctx); ok {
		fields = append(fields, zap.String("webhookId", delivery.WebhookID))
		if delivery.Platform != "" {
			fields = append(fields, zap.String("platform", delivery.Platform))
		}
		if delivery.AttemptNumber > 0 {
			fields = append(fields, zap.Int("attemptNumber", delivery.AttemptNumber))
		}
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
