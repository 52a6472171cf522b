package core

import "log/slog"

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Event types written to the audit log.
const (
	EventItemProcessed       = "item.processed"
	EventItemGated           = "item.gated"
	EventItemFailed          = "item.failed"
	EventItemClosed          = "item.closed"
	EventApprovalCreated     = "approval.created"
	EventApprovalExpired     = "approval.expired"
	EventApprovalDecided     = "approval.decided"
	EventApprovalResolved    = "approval.resolved"
	EventResponseQueued      = "response.queued"
	EventResponseGated       = "response.gated"
	EventResponseRateLimited = "response.rate_limited"
	EventResponseSent        = "response.sent"
	EventResponseFailed      = "response.failed"
	EventCycleCompleted      = "cycle.completed"
)

// logEvent writes an audit event when an event logger is configured. A
// failed write is reported on the runtime log and otherwise ignored.
func logEvent(el EventLogger, logger *slog.Logger, eventType string, data map[string]any) {
	if el == nil {
		return
	}
	if err := el.LogEvent(eventType, data); err != nil && logger != nil {
		logger.Warn("writing audit event", "event", eventType, "error", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
