package observability

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Notifier sends alert notifications to external channels.
type Notifier interface {
	Notify(alerts []Alert) error
}

// maxListed bounds how many approval IDs one Slack field lists.
const maxListed = 10

type slackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Notifier that posts a grouped alert digest to a
// Slack incoming webhook.
func NewSlackNotifier(webhookURL string) Notifier {
	return &slackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(text string) slackText {
	return slackText{Type: "mrkdwn", Text: text}
}

var conditionTitles = map[string]string{
	ConditionApprovalPending:  "Approvals waiting on a decision",
	ConditionDispatchFailures: "Responses failing to send",
	ConditionRateLimited:      "Responses refused by rate limits",
	ConditionErrorItems:       "Work items marked error",
}

func conditionTitle(condition string) string {
	if title, ok := conditionTitles[condition]; ok {
		return title
	}
	return condition
}

// alertGroup is every alert of one condition.
type alertGroup struct {
	condition string
	severity  AlertSeverity
	alerts    []Alert
}

// groupAlerts groups alerts by condition, most severe group first.
func groupAlerts(alerts []Alert) []alertGroup {
	byCondition := make(map[string]*alertGroup)
	var groups []*alertGroup
	for _, a := range alerts {
		g, ok := byCondition[a.Condition]
		if !ok {
			g = &alertGroup{condition: a.Condition, severity: a.Severity}
			byCondition[a.Condition] = g
			groups = append(groups, g)
		}
		if a.Severity.Rank() < g.severity.Rank() {
			g.severity = a.Severity
		}
		g.alerts = append(g.alerts, a)
	}

	slices.SortStableFunc(groups, func(a, b *alertGroup) int {
		if c := cmp.Compare(a.severity.Rank(), b.severity.Rank()); c != 0 {
			return c
		}
		return cmp.Compare(a.condition, b.condition)
	})
	out := make([]alertGroup, len(groups))
	for i, g := range groups {
		out[i] = *g
	}
	return out
}

// Notify posts alerts to the webhook. It makes no request when alerts is
// empty.
func (s *slackNotifier) Notify(alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(buildMessage(alerts))
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildMessage(alerts []Alert) slackMessage {
	groups := groupAlerts(alerts)
	summary := fmt.Sprintf("aie: %d alert(s) in %d condition(s)", len(alerts), len(groups))

	blocks := []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: summary},
	}}
	for i, g := range groups {
		if i > 0 {
			blocks = append(blocks, slackBlock{Type: "divider"})
		}
		blocks = append(blocks, groupBlocks(g)...)
	}
	return slackMessage{Text: summary, Blocks: blocks}
}

func groupBlocks(g alertGroup) []slackBlock {
	heading := fmt.Sprintf("%s *%s* `%s`", severityEmoji(g.severity), conditionTitle(g.condition), strings.ToUpper(string(g.severity)))
	if len(g.alerts) == 1 {
		heading += "\n" + g.alerts[0].Message
	}
	blocks := []slackBlock{{Type: "section", Text: &slackText{Type: "mrkdwn", Text: heading}}}

	if fields := groupFields(g); len(fields) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	triggered := g.alerts[0].TriggeredAt
	for _, a := range g.alerts[1:] {
		if a.TriggeredAt.After(triggered) {
			triggered = a.TriggeredAt
		}
	}
	blocks = append(blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{mrkdwn("Triggered " + triggered.UTC().Format("2006-01-02 15:04 UTC"))},
	})
	return blocks
}

// groupFields renders the structured alert data: approval IDs, counts and
// channels.
func groupFields(g alertGroup) []slackText {
	var (
		approvals []string
		count     int
		channels  []string
	)
	for _, a := range g.alerts {
		if a.ApprovalID != "" {
			approvals = append(approvals, "`"+a.ApprovalID+"`")
		}
		count += a.Count
		for _, ch := range a.Channels {
			if !slices.Contains(channels, ch) {
				channels = append(channels, ch)
			}
		}
	}

	var fields []slackText
	if len(approvals) > 0 {
		shown := approvals
		if len(shown) > maxListed {
			shown = append(slices.Clone(shown[:maxListed]), fmt.Sprintf("and %d more", len(approvals)-maxListed))
		}
		fields = append(fields, mrkdwn(fmt.Sprintf("*Approvals (%d)*\n%s", len(approvals), strings.Join(shown, "\n"))))
	}
	if count > 0 {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Count (24h)*\n%d", count)))
	}
	if len(channels) > 0 {
		slices.Sort(channels)
		fields = append(fields, mrkdwn("*Channels*\n"+strings.Join(channels, ", ")))
	}
	return fields
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	case SeverityLow:
		return "\U0001f535"
	default:
		return "\u2753"
	}
}
