package observability

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Rank orders severities from most to least urgent.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// Alert conditions.
const (
	ConditionApprovalPending  = "approval_pending_too_long"
	ConditionDispatchFailures = "dispatch_failures_high"
	ConditionRateLimited      = "rate_limit_hits_high"
	ConditionErrorItems       = "error_items_high"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`

	// ApprovalID names the request behind an approval_pending_too_long alert.
	ApprovalID string `json:"approval_id,omitempty"`
	// Count is the observed value of a threshold alert.
	Count int `json:"count,omitempty"`
	// Channels lists the channels the counted events happened on.
	Channels []string `json:"channels,omitempty"`
}

// AlertThresholds configures when alerts fire. Count thresholds apply to
// the last 24 hours.
type AlertThresholds struct {
	PendingApprovalHours int `json:"pending_approval_hours"`
	MaxDispatchFailures  int `json:"max_dispatch_failures"`
	MaxRateLimited       int `json:"max_rate_limited"`
	MaxErrorItems        int `json:"max_error_items"`
}

// DefaultAlertThresholds returns the thresholds used when none are
// configured.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		PendingApprovalHours: 24,
		MaxDispatchFailures:  5,
		MaxRateLimited:       10,
		MaxErrorItems:        5,
	}
}

// ThresholdsFromConfig fills unset config values from the defaults.
func ThresholdsFromConfig(cfg models.AlertConfig) AlertThresholds {
	t := DefaultAlertThresholds()
	if cfg.PendingApprovalHours > 0 {
		t.PendingApprovalHours = cfg.PendingApprovalHours
	}
	if cfg.MaxDispatchFailures > 0 {
		t.MaxDispatchFailures = cfg.MaxDispatchFailures
	}
	if cfg.MaxRateLimited > 0 {
		t.MaxRateLimited = cfg.MaxRateLimited
	}
	if cfg.MaxErrorItems > 0 {
		t.MaxErrorItems = cfg.MaxErrorItems
	}
	return t
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over eventLog.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Evaluate checks every alert condition and returns the ones that fire.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now().UTC()
	var alerts []Alert

	pending, err := ae.checkPendingApprovals(now)
	if err != nil {
		return nil, fmt.Errorf("checking pending approvals: %w", err)
	}
	alerts = append(alerts, pending...)

	failures, err := ae.checkRecentCount(now, "response.failed", ae.thresholds.MaxDispatchFailures,
		"dispatch-failures", ConditionDispatchFailures, SeverityHigh, "response dispatch failures")
	if err != nil {
		return nil, fmt.Errorf("checking dispatch failures: %w", err)
	}
	alerts = append(alerts, failures...)

	limited, err := ae.checkRecentCount(now, "response.rate_limited", ae.thresholds.MaxRateLimited,
		"rate-limited", ConditionRateLimited, SeverityMedium, "rate limited responses")
	if err != nil {
		return nil, fmt.Errorf("checking rate limit hits: %w", err)
	}
	alerts = append(alerts, limited...)

	errorItems, err := ae.checkErrorItems(now)
	if err != nil {
		return nil, fmt.Errorf("checking error items: %w", err)
	}
	alerts = append(alerts, errorItems...)

	return alerts, nil
}

// checkPendingApprovals alerts on every approval request created more than
// the threshold ago that has not been decided or expired.
func (ae *alertEngine) checkPendingApprovals(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{Prefix: "approval."})
	if err != nil {
		return nil, err
	}

	created := make(map[string]time.Time)
	for _, event := range events {
		id, _ := event.Data["approval_id"].(string)
		if id == "" {
			continue
		}
		switch event.Type {
		case "approval.created":
			created[id] = event.Time
		case "approval.decided", "approval.expired", "approval.resolved":
			delete(created, id)
		}
	}

	threshold := time.Duration(ae.thresholds.PendingApprovalHours) * time.Hour
	var alerts []Alert
	for _, id := range slices.Sorted(maps.Keys(created)) {
		if now.Sub(created[id]) <= threshold {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          "pending-" + id,
			Condition:   ConditionApprovalPending,
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("approval %s has been pending for more than %d hours", id, ae.thresholds.PendingApprovalHours),
			TriggeredAt: now,
			ApprovalID:  id,
		})
	}
	return alerts, nil
}

// checkRecentCount alerts when more than max events of eventType were
// logged in the last 24 hours.
func (ae *alertEngine) checkRecentCount(now time.Time, eventType string, max int, id, condition string, severity AlertSeverity, what string) ([]Alert, error) {
	since := now.Add(-24 * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Type: eventType, Since: &since})
	if err != nil {
		return nil, err
	}
	if len(events) <= max {
		return nil, nil
	}

	channels := make(map[string]bool)
	for _, event := range events {
		if ch, _ := event.Data["channel"].(string); ch != "" {
			channels[ch] = true
		}
	}
	return []Alert{{
		ID:          id,
		Condition:   condition,
		Severity:    severity,
		Message:     fmt.Sprintf("%d %s in the last 24 hours, exceeding the maximum of %d", len(events), what, max),
		TriggeredAt: now,
		Count:       len(events),
		Channels:    slices.Sorted(maps.Keys(channels)),
	}}, nil
}

// checkErrorItems counts items whose latest event is a failure.
func (ae *alertEngine) checkErrorItems(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{Prefix: "item."})
	if err != nil {
		return nil, err
	}

	failed := make(map[string]bool)
	for _, event := range events {
		id, _ := event.Data["item_id"].(string)
		if id == "" {
			continue
		}
		failed[id] = event.Type == "item.failed"
	}

	count := 0
	for _, f := range failed {
		if f {
			count++
		}
	}
	if count <= ae.thresholds.MaxErrorItems {
		return nil, nil
	}
	return []Alert{{
		ID:          "error-items",
		Condition:   ConditionErrorItems,
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("%d items are marked error, exceeding the maximum of %d", count, ae.thresholds.MaxErrorItems),
		TriggeredAt: now,
		Count:       count,
	}}, nil
}
