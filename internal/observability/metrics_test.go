package observability

import (
	"path/filepath"
	"testing"
	"time"
)

func writeEvents(t *testing.T, log EventLog, events []Event) {
	t.Helper()
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
}

func TestMetricsCalculator_Calculate(t *testing.T) {
	log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }
	writeEvents(t, log, []Event{
		{Time: at(0), Level: "INFO", Type: "item.gated", Data: map[string]any{"item_id": "EMAIL_1", "approval_id": "APPROVAL_1"}},
		{Time: at(1), Level: "INFO", Type: "approval.created", Data: map[string]any{"approval_id": "APPROVAL_1"}},
		{Time: at(2), Level: "INFO", Type: "approval.decided", Data: map[string]any{"approval_id": "APPROVAL_1", "approved": true}},
		{Time: at(3), Level: "INFO", Type: "approval.created", Data: map[string]any{"approval_id": "APPROVAL_2"}},
		{Time: at(4), Level: "INFO", Type: "approval.decided", Data: map[string]any{"approval_id": "APPROVAL_2", "approved": false}},
		{Time: at(5), Level: "WARN", Type: "approval.expired", Data: map[string]any{"approval_id": "APPROVAL_3"}},
		{Time: at(6), Level: "INFO", Type: "item.processed", Data: map[string]any{"item_id": "EMAIL_1", "kind": "email"}},
		{Time: at(7), Level: "INFO", Type: "item.processed", Data: map[string]any{"item_id": "FILE_1", "kind": "file_drop"}},
		{Time: at(8), Level: "ERROR", Type: "item.failed", Data: map[string]any{"item_id": "FILE_2"}},
		{Time: at(9), Level: "INFO", Type: "response.queued", Data: map[string]any{"channel": "email"}},
		{Time: at(10), Level: "INFO", Type: "response.sent", Data: map[string]any{"channel": "email"}},
		{Time: at(11), Level: "ERROR", Type: "response.failed", Data: map[string]any{"channel": "slack"}},
		{Time: at(12), Level: "WARN", Type: "response.rate_limited", Data: map[string]any{"channel": "email"}},
		{Time: at(13), Level: "INFO", Type: "response.gated", Data: map[string]any{"channel": "email"}},
		{Time: at(14), Level: "INFO", Type: "cycle.completed"},
	})

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}

	checks := []struct {
		name      string
		got, want int
	}{
		{"ItemsProcessed", m.ItemsProcessed, 2},
		{"ItemsGated", m.ItemsGated, 1},
		{"ItemsFailed", m.ItemsFailed, 1},
		{"ApprovalsCreated", m.ApprovalsCreated, 2},
		{"ApprovalsApproved", m.ApprovalsApproved, 1},
		{"ApprovalsRejected", m.ApprovalsRejected, 1},
		{"ApprovalsExpired", m.ApprovalsExpired, 1},
		{"ResponsesQueued", m.ResponsesQueued, 1},
		{"ResponsesSent", m.ResponsesSent, 1},
		{"ResponsesFailed", m.ResponsesFailed, 1},
		{"ResponsesRateLimited", m.ResponsesRateLimited, 1},
		{"ResponsesGated", m.ResponsesGated, 1},
		{"Cycles", m.Cycles, 1},
		{"EventCount", m.EventCount, 15},
		{"ItemsByKind[email]", m.ItemsByKind["email"], 1},
		{"ItemsByKind[file_drop]", m.ItemsByKind["file_drop"], 1},
		{"SentByChannel[email]", m.SentByChannel["email"], 1},
		{"FailedByChannel[slack]", m.FailedByChannel["slack"], 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	if m.OldestEvent == nil || !m.OldestEvent.Equal(base) {
		t.Errorf("expected oldest event at %v, got %v", base, m.OldestEvent)
	}
	if m.NewestEvent == nil || !m.NewestEvent.Equal(at(14)) {
		t.Errorf("expected newest event at %v, got %v", at(14), m.NewestEvent)
	}
}

func TestMetricsCalculator_EmptyLog(t *testing.T) {
	log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	m, err := NewMetricsCalculator(log).Calculate(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.ItemsProcessed != 0 || m.EventCount != 0 {
		t.Errorf("expected empty metrics, got %+v", m)
	}
	if m.OldestEvent != nil {
		t.Errorf("expected nil oldest event, got %v", m.OldestEvent)
	}
}

func TestMetricsCalculator_FiltersBySince(t *testing.T) {
	log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	writeEvents(t, log, []Event{
		{Time: base, Level: "INFO", Type: "response.sent", Data: map[string]any{"channel": "email"}},
		{Time: base.Add(48 * time.Hour), Level: "INFO", Type: "response.sent", Data: map[string]any{"channel": "slack"}},
	})

	m, err := NewMetricsCalculator(log).Calculate(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.ResponsesSent != 1 || m.SentByChannel["slack"] != 1 || m.SentByChannel["email"] != 0 {
		t.Errorf("expected only the slack send after since, got %+v", m.SentByChannel)
	}
	if m.EventCount != 1 {
		t.Errorf("expected 1 event after since filter, got %d", m.EventCount)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", now.AddDate(0, 0, -7), false},
		{"7d", now.AddDate(0, 0, -7), false},
		{" 30d ", now.AddDate(0, 0, -30), false},
		{"24h", now.Add(-24 * time.Hour), false},
		{"0h", now, false},
		{"xd", time.Time{}, true},
		{"-3d", time.Time{}, true},
		{"2w", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.in, now)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSince(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSince(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
