package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/webhook-retry/internal/domain"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	maxErrorBodyLen        = 512

	HeaderWebhookID = "X-Webhook-ID"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderPlatform  = "X-Webhook-Platform"
)

var _ Deliverer = (*HTTPDeliverer)(nil)

// HTTPDeliverer POSTs the stored payload to the endpoint configured for the
// attempt's platform, falling back to a default endpoint.
type HTTPDeliverer struct {
	client          *resty.Client
	endpoints       map[string]string
	defaultEndpoint string
}

func NewHTTPDeliverer(endpoints map[string]string, defaultEndpoint string) (*HTTPDeliverer, error) {
	client := resty.New()
	client.SetTimeout(defaultDeliveryTimeout)
	client.SetRetryCount(0)

	return NewHTTPDelivererWithClient(endpoints, defaultEndpoint, client)
}

func NewHTTPDelivererWithClient(endpoints map[string]string, defaultEndpoint string, client *resty.Client) (*HTTPDeliverer, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	normalized := make(map[string]string, len(endpoints))
	for platform, endpoint := range endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, fmt.Errorf("invalid endpoint for platform %q: %w", platform, err)
		}
		normalized[domain.NormalizePlatform(platform)] = endpoint
	}

	defaultEndpoint = strings.TrimSpace(defaultEndpoint)
	if defaultEndpoint != "" {
		if _, err := url.ParseRequestURI(defaultEndpoint); err != nil {
			return nil, fmt.Errorf("invalid default webhook endpoint: %w", err)
		}
	}
	if len(normalized) == 0 && defaultEndpoint == "" {
		return nil, fmt.Errorf("at least one webhook endpoint is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDeliveryTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPDeliverer{
		client:          client,
		endpoints:       normalized,
		defaultEndpoint: defaultEndpoint,
	}, nil
}

func (d *HTTPDeliverer) endpointFor(platform string) (string, bool) {
	if endpoint, ok := d.endpoints[domain.NormalizePlatform(platform)]; ok {
		return endpoint, true
	}
	return d.defaultEndpoint, d.defaultEndpoint != ""
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, attempt domain.RetryAttempt) (*DeliveryResponse, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("deliverer is not initialized")
	}

	endpoint, ok := d.endpointFor(attempt.Platform)
	if !ok {
		return nil, Permanent(fmt.Sprintf("no endpoint configured for platform %q", attempt.Platform), nil)
	}

	body := []byte(attempt.Payload)
	if len(body) == 0 {
		body = []byte("null")
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderWebhookID, attempt.WebhookID).
		SetHeader(HeaderAttempt, strconv.Itoa(attempt.AttemptNumber)).
		SetHeader(HeaderPlatform, attempt.Platform).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{
			Message:   "webhook endpoint returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &DeliveryResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			RequestID:  requestID(response),
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func statusErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("HTTP %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func requestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
