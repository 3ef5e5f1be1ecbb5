package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-retry/internal/domain"
	"github.com/kursadbilgin/webhook-retry/internal/observability"
	"github.com/kursadbilgin/webhook-retry/internal/service"
)

// RetryOperator is the part of the retry service exposed over HTTP.
type RetryOperator interface {
	QueueRetry(ctx context.Context, req service.RetryRequest) (*service.QueueResult, error)
	GetRetryStats(ctx context.Context) (*domain.RetryStats, error)
	GetRetryHistory(ctx context.Context, webhookID string) ([]domain.RetryAttempt, error)
	GetDeadLetterQueue(ctx context.Context, query service.DeadLetterQuery) ([]domain.DeadLetterEntry, error)
	RetryDeadLetter(ctx context.Context, deadLetterID string) (bool, error)
	DismissDeadLetter(ctx context.Context, deadLetterID string, reason string) (bool, error)
}

type RetryHandler struct {
	service RetryOperator
}

func NewRetryHandler(service RetryOperator) (*RetryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("retry service is required")
	}
	return &RetryHandler{service: service}, nil
}

func RegisterRetryRoutes(router fiber.Router, service RetryOperator) error {
	h, err := NewRetryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhook-failures", h.ReportFailure)
	v1.Get("/webhook-retries/stats", h.GetStats)
	v1.Get("/webhook-retries/:webhookId", h.GetHistory)
	v1.Get("/dead-letters", h.ListDeadLetters)
	v1.Post("/dead-letters/:id/retry", h.RetryDeadLetter)
	v1.Post("/dead-letters/:id/dismiss", h.DismissDeadLetter)

	return nil
}

type reportFailureRequest struct {
	WebhookID string          `json:"webhookId"`
	Platform  string          `json:"platform"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

type reportFailureResponse struct {
	Status        string     `json:"status"`
	RetryID       string     `json:"retryId,omitempty"`
	AttemptNumber int        `json:"attemptNumber,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	DeadLetterID  string     `json:"deadLetterId,omitempty"`
}

type retryAttemptResponse struct {
	ID            string          `json:"id"`
	WebhookID     string          `json:"webhookId"`
	Platform      string          `json:"platform"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AttemptNumber int             `json:"attemptNumber"`
	ScheduledAt   time.Time       `json:"scheduledAt"`
	Status        string          `json:"status"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
}

type deadLetterResponse struct {
	ID                   string          `json:"id"`
	WebhookID            string          `json:"webhookId"`
	Platform             string          `json:"platform"`
	OrgID                *string         `json:"orgId,omitempty"`
	Payload              json.RawMessage `json:"payload,omitempty"`
	FailureReason        string          `json:"failureReason"`
	AttemptsMade         int             `json:"attemptsMade"`
	State                string          `json:"state"`
	RequiresManualReview bool            `json:"requiresManualReview"`
	CreatedAt            time.Time       `json:"createdAt"`
	RetriedAt            *time.Time      `json:"retriedAt,omitempty"`
	DismissedAt          *time.Time      `json:"dismissedAt,omitempty"`
	DismissedReason      *string         `json:"dismissedReason,omitempty"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

type actionResponse struct {
	Success bool `json:"success"`
}

// ReportFailure accepts a failed first delivery from the dispatching service.
func (h *RetryHandler) ReportFailure(c *fiber.Ctx) error {
	var req reportFailureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.QueueRetry(requestContext(c), service.RetryRequest{
		WebhookID: req.WebhookID,
		Platform:  req.Platform,
		Payload:   req.Payload,
		Attempt:   req.Attempt,
	})
	if err != nil {
		return err
	}

	resp := reportFailureResponse{Status: "queued"}
	switch {
	case result.DeadLetter != nil:
		resp.Status = "dead_lettered"
		resp.DeadLetterID = result.DeadLetter.ID
	case result.Attempt != nil:
		scheduledAt := result.Attempt.ScheduledAt
		resp.RetryID = result.Attempt.ID
		resp.AttemptNumber = result.Attempt.AttemptNumber
		resp.ScheduledAt = &scheduledAt
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *RetryHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.GetRetryStats(requestContext(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *RetryHandler) GetHistory(c *fiber.Ctx) error {
	history, err := h.service.GetRetryHistory(requestContext(c), c.Params("webhookId"))
	if err != nil {
		return err
	}

	items := make([]retryAttemptResponse, 0, len(history))
	for i := range history {
		items = append(items, toRetryAttemptResponse(history[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[retryAttemptResponse]{Data: items})
}

func (h *RetryHandler) ListDeadLetters(c *fiber.Ctx) error {
	query := service.DeadLetterQuery{Limit: c.QueryInt("limit", 0)}
	if orgID := strings.TrimSpace(c.Query("orgId")); orgID != "" {
		query.OrgID = &orgID
	}

	entries, err := h.service.GetDeadLetterQueue(requestContext(c), query)
	if err != nil {
		return err
	}

	items := make([]deadLetterResponse, 0, len(entries))
	for i := range entries {
		items = append(items, toDeadLetterResponse(entries[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[deadLetterResponse]{Data: items})
}

func (h *RetryHandler) RetryDeadLetter(c *fiber.Ctx) error {
	ok, err := h.service.RetryDeadLetter(requestContext(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(actionResponse{Success: ok})
}

func (h *RetryHandler) DismissDeadLetter(c *fiber.Ctx) error {
	var req dismissRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ok, err := h.service.DismissDeadLetter(requestContext(c), c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(actionResponse{Success: ok})
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toRetryAttemptResponse(a domain.RetryAttempt) retryAttemptResponse {
	return retryAttemptResponse{
		ID:            a.ID,
		WebhookID:     a.WebhookID,
		Platform:      a.Platform,
		Payload:       a.Payload,
		AttemptNumber: a.AttemptNumber,
		ScheduledAt:   a.ScheduledAt,
		Status:        a.Status.String(),
		ErrorMessage:  a.ErrorMessage,
		CreatedAt:     a.CreatedAt,
		ProcessedAt:   a.ProcessedAt,
	}
}

func toDeadLetterResponse(e domain.DeadLetterEntry) deadLetterResponse {
	return deadLetterResponse{
		ID:                   e.ID,
		WebhookID:            e.WebhookID,
		Platform:             e.Platform,
		OrgID:                e.OrgID,
		Payload:              e.Payload,
		FailureReason:        e.FailureReason,
		AttemptsMade:         e.AttemptsMade,
		State:                e.State().String(),
		RequiresManualReview: e.RequiresManualReview,
		CreatedAt:            e.CreatedAt,
		RetriedAt:            e.RetriedAt,
		DismissedAt:          e.DismissedAt,
		DismissedReason:      e.DismissedReason,
	}
}
