// Package notify defines the out-of-scope alerting collaborator (spec §1
// "email notifications... deliberately out of scope", §6A). The Order
// Commit Service, Webhook Intake, and Webhook Processor all emit critical
// alerts through this seam rather than owning a paging integration
// themselves.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// AlertSink receives critical operational alerts that a human should see
// (emergency orders, PENDING_REVIEW commits, webhook auth failures).
type AlertSink interface {
	Critical(ctx context.Context, event string, fields map[string]any)
}

// LoggingAlertSink is the in-repo default: it logs at error level with
// structured fields via zerolog, the same logger the rest of the service
// uses (grounded on the teacher's zerolog wiring in cmd/api/main.go).
// Wiring a real paging backend (PagerDuty, Slack, etc.) is left to
// deployment configuration — this type exists so the rest of the codebase
// never blocks on that decision.
type LoggingAlertSink struct{}

// NewLoggingAlertSink constructs the default AlertSink.
func NewLoggingAlertSink() *LoggingAlertSink {
	return &LoggingAlertSink{}
}

// Critical implements AlertSink.
func (s *LoggingAlertSink) Critical(ctx context.Context, event string, fields map[string]any) {
	ev := log.Error().Str("alert", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("critical alert")
}
