package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultNotifyTimeout = 5 * time.Second

type alertPayload struct {
	Text      string         `json:"text"`
	WebhookID string         `json:"webhookId"`
	Platform  string         `json:"platform"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
}

// WebhookNotifier posts failures to a chat or incident webhook.
type WebhookNotifier struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookNotifier(endpoint string) (*WebhookNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultNotifyTimeout)
	return NewWebhookNotifierWithClient(endpoint, client)
}

func NewWebhookNotifierWithClient(endpoint string, client *resty.Client) (*WebhookNotifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("alert webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid alert webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	client.SetRetryCount(0)

	return &WebhookNotifier{client: client, endpoint: endpoint}, nil
}

func (n *WebhookNotifier) NotifyDeliveryFailure(ctx context.Context, failure Failure) error {
	body := alertPayload{
		Text:      fmt.Sprintf("Webhook %s to %s failed permanently: %s", failure.WebhookID, failure.Platform, failure.Reason),
		WebhookID: failure.WebhookID,
		Platform:  failure.Platform,
		Reason:    failure.Reason,
		Context:   failure.Context,
	}

	response, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send failure alert: %w", err)
	}
	if status := response.StatusCode(); status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("alert webhook returned status %d", status)
	}
	return nil
}
