package observability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metrics holds counts derived from the audit event log.
type Metrics struct {
	ItemsProcessed int            `json:"items_processed"`
	ItemsGated     int            `json:"items_gated"`
	ItemsFailed    int            `json:"items_failed"`
	ItemsClosed    int            `json:"items_closed"`
	ItemsByKind    map[string]int `json:"items_by_kind"`

	ApprovalsCreated  int `json:"approvals_created"`
	ApprovalsApproved int `json:"approvals_approved"`
	ApprovalsRejected int `json:"approvals_rejected"`
	ApprovalsExpired  int `json:"approvals_expired"`

	ResponsesQueued      int            `json:"responses_queued"`
	ResponsesGated       int            `json:"responses_gated"`
	ResponsesSent        int            `json:"responses_sent"`
	ResponsesFailed      int            `json:"responses_failed"`
	ResponsesRateLimited int            `json:"responses_rate_limited"`
	SentByChannel        map[string]int `json:"sent_by_channel"`
	FailedByChannel      map[string]int `json:"failed_by_channel"`

	Cycles      int        `json:"cycles"`
	EventCount  int        `json:"event_count"`
	OldestEvent *time.Time `json:"oldest_event,omitempty"`
	NewestEvent *time.Time `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator that reads from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event at or after since.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		ItemsByKind:     make(map[string]int),
		SentByChannel:   make(map[string]int),
		FailedByChannel: make(map[string]int),
		EventCount:      len(events),
	}

	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t

		switch event.Type {
		case "item.processed":
			m.ItemsProcessed++
			if kind, ok := event.Data["kind"].(string); ok {
				m.ItemsByKind[kind]++
			}
		case "item.gated":
			m.ItemsGated++
		case "item.failed":
			m.ItemsFailed++
		case "item.closed":
			m.ItemsClosed++
		case "approval.created":
			m.ApprovalsCreated++
		case "approval.decided":
			if approved, _ := event.Data["approved"].(bool); approved {
				m.ApprovalsApproved++
			} else {
				m.ApprovalsRejected++
			}
		case "approval.expired":
			m.ApprovalsExpired++
		case "response.queued":
			m.ResponsesQueued++
		case "response.gated":
			m.ResponsesGated++
		case "response.sent":
			m.ResponsesSent++
			if ch, ok := event.Data["channel"].(string); ok {
				m.SentByChannel[ch]++
			}
		case "response.failed":
			m.ResponsesFailed++
			if ch, ok := event.Data["channel"].(string); ok {
				m.FailedByChannel[ch]++
			}
		case "response.rate_limited":
			m.ResponsesRateLimited++
		case "cycle.completed":
			m.Cycles++
		}
	}

	return m, nil
}

// ParseSince parses a window like "7d", "30d" or "24h" and returns the time
// that far before now. An empty string means seven days.
func ParseSince(s string, now time.Time) (time.Time, error) {
	now = now.UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -n), nil
	}

	if hours, ok := strings.CutSuffix(s, "h"); ok {
		n, err := strconv.Atoi(hours)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(n) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}
