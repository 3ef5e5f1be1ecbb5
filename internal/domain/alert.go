package domain

import "time"

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

type AlertType string

const AlertTypeWebhookFailure AlertType = "webhook_failure"

// Alert is a dashboard record scoped to a tenant.
type Alert struct {
	ID        string
	OrgID     string
	Severity  AlertSeverity
	Type      AlertType
	Title     string
	Message   string
	Context   map[string]any
	CreatedAt time.Time
}
