package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "webhook_retry"

// Metrics stores the Prometheus collectors shared by the API and the retry workers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	retriesQueuedTotal    *prometheus.CounterVec
	retriesResolvedTotal  *prometheus.CounterVec
	deadLettersTotal      *prometheus.CounterVec
	deadLetterActions     *prometheus.CounterVec
	notifierFailuresTotal *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	workerInflight        *prometheus.GaugeVec
	tasksDispatchedTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		retriesQueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_queued_total",
				Help:      "Total number of retry attempts queued grouped by platform.",
			},
			[]string{"platform"},
		),
		retriesResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_resolved_total",
				Help:      "Total number of retry attempts resolved grouped by platform and status.",
			},
			[]string{"platform", "status"},
		),
		deadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dead_letters_total",
				Help:      "Total number of deliveries moved to the dead letter queue.",
			},
			[]string{"platform"},
		),
		deadLetterActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dead_letter_actions_total",
				Help:      "Operator actions on dead letter entries grouped by action.",
			},
			[]string{"action"},
		),
		notifierFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifier_failures_total",
				Help:      "Total number of failed operator notifications.",
			},
			[]string{"platform"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_duration_seconds",
				Help:      "Webhook delivery duration in seconds grouped by platform.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"platform"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight deliveries grouped by platform.",
			},
			[]string{"platform"},
		),
		tasksDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_dispatched_total",
				Help:      "Total number of due retry tasks handed to the work queue.",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.retriesQueuedTotal,
		m.retriesResolvedTotal,
		m.deadLettersTotal,
		m.deadLetterActions,
		m.notifierFailuresTotal,
		m.deliveryDuration,
		m.workerInflight,
		m.tasksDispatchedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latency. statusFor maps a handler
// error to the status the error handler will write; nil treats every non-fiber
// error as a 500.
func (m *Metrics) HTTPMiddleware(statusFor func(error) int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err, statusFor), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRetryQueued(platform string) {
	if m == nil {
		return
	}
	m.retriesQueuedTotal.WithLabelValues(normalizeLabel(platform)).Inc()
}

func (m *Metrics) IncRetryResolved(platform string, status string) {
	if m == nil {
		return
	}
	m.retriesResolvedTotal.WithLabelValues(normalizeLabel(platform), normalizeLabel(status)).Inc()
}

func (m *Metrics) IncDeadLettered(platform string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(normalizeLabel(platform)).Inc()
}

func (m *Metrics) IncDeadLetterAction(action string) {
	if m == nil {
		return
	}
	m.deadLetterActions.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) IncNotifierFailure(platform string) {
	if m == nil {
		return
	}
	m.notifierFailuresTotal.WithLabelValues(normalizeLabel(platform)).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(platform string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeLabel(platform)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(platform string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(platform)).Inc()
}

func (m *Metrics) DecWorkerInFlight(platform string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(platform)).Dec()
}

func (m *Metrics) AddTasksDispatched(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tasksDispatchedTotal.WithLabelValues(normalizeLabel(source)).Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error, statusFor func(error) int) int {
	if err != nil {
		if statusFor != nil {
			return statusFor(err)
		}
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
