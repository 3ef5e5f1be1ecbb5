package provider

import (
	"context"

	"github.com/kursadbilgin/webhook-retry/internal/domain"
)

// Deliverer re-sends a stored webhook payload to its destination platform.
type Deliverer interface {
	Deliver(ctx context.Context, attempt domain.RetryAttempt) (*DeliveryResponse, error)
}

// DeliveryResponse is the metadata of an accepted delivery.
type DeliveryResponse struct {
	StatusCode int
	Body       string
	RequestID  string
}
