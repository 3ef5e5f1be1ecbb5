package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRetryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncRetryQueued("Facebook")
	metrics.IncRetryQueued("facebook")
	metrics.IncRetryResolved("facebook", "success")
	metrics.IncDeadLettered("linkedin")
	metrics.IncDeadLetterAction("retry")
	metrics.IncNotifierFailure("")
	metrics.ObserveDeliveryDuration("facebook", 120*time.Millisecond)
	metrics.IncWorkerInFlight("facebook")
	metrics.DecWorkerInFlight("facebook")
	metrics.AddTasksDispatched("scheduler", 3)
	metrics.AddTasksDispatched("scheduler", 0)

	if got := testutil.ToFloat64(metrics.retriesQueuedTotal.WithLabelValues("facebook")); got != 2 {
		t.Fatalf("retries_queued_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.retriesResolvedTotal.WithLabelValues("facebook", "success")); got != 1 {
		t.Fatalf("retries_resolved_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deadLettersTotal.WithLabelValues("linkedin")); got != 1 {
		t.Fatalf("dead_letters_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deadLetterActions.WithLabelValues("retry")); got != 1 {
		t.Fatalf("dead_letter_actions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notifierFailuresTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("notifier_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("facebook")); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.tasksDispatchedTotal.WithLabelValues("scheduler")); got != 3 {
		t.Fatalf("tasks_dispatched_total = %v, want 3", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncRetryQueued("facebook")
	metrics.IncDeadLettered("facebook")
	metrics.ObserveDeliveryDuration("facebook", time.Second)
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware(nil))
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware(nil))
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareUsesStatusMapper(t *testing.T) {
	t.Parallel()

	errMissing := errors.New("missing")
	metrics := NewMetrics()
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(fiber.StatusNotFound)
		},
	})
	app.Use(metrics.HTTPMiddleware(func(err error) int {
		if errors.Is(err, errMissing) {
			return fiber.StatusNotFound
		}
		return fiber.StatusInternalServerError
	}))
	app.Get("/dead-letters/:id", func(c *fiber.Ctx) error {
		return errMissing
	})

	req := httptest.NewRequest("GET", "/dead-letters/dl-1", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/dead-letters/:id", "404")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
