// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the processing cycle, approvals and outbound responses as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/internal/observability"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// Services are the engine components the tools call into. Metrics and
// Alerts may be nil when observability is disabled.
type Services struct {
	Processor core.TaskProcessor
	Approvals core.ApprovalLifecycle
	Responder core.ResponseCoordinator
	Metrics   observability.MetricsCalculator
	Alerts    observability.AlertEngine
}

// Server wraps the engine and exposes it as MCP tools.
type Server struct {
	server *gomcp.Server
	svc    Services
}

// NewServer creates a new MCP server over svc.
func NewServer(svc Services, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{svc: svc}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "aie", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type runCycleInput struct{}

type runCycleOutput struct {
	Processed  int      `json:"processed"`
	Gated      int      `json:"gated"`
	Replies    int      `json:"replies"`
	Failed     int      `json:"failed"`
	Expired    int      `json:"expired"`
	Readmitted int      `json:"readmitted"`
	Dispatched int      `json:"dispatched"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

type listPendingInput struct{}

type approvalOutput struct {
	ID            string `json:"id"`
	ActionType    string `json:"action_type"`
	Action        string `json:"action,omitempty"`
	RelatedItemID string `json:"related_item,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	Channel       string `json:"channel,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Status        string `json:"status"`
	Created       string `json:"created"`
	Expires       string `json:"expires,omitempty"`
}

type listPendingOutput struct {
	Approvals []approvalOutput `json:"approvals"`
	Count     int              `json:"count"`
}

type decideApprovalInput struct {
	ApprovalID string `json:"approval_id" jsonschema:"required,the approval request identifier (e.g. APPROVAL_...)"`
	Approve    bool   `json:"approve" jsonschema:"true to approve, false to reject"`
	Reason     string `json:"reason,omitempty" jsonschema:"optional reason recorded with the decision"`
	DecidedBy  string `json:"decided_by,omitempty" jsonschema:"who decided. Defaults to mcp."`
}

type decideApprovalOutput struct {
	Message  string         `json:"message"`
	Approval approvalOutput `json:"approval"`
}

type queueResponseInput struct {
	Channel           string `json:"channel" jsonschema:"required,the channel to send on (email, slack, whatsapp, linkedin)"`
	Recipient         string `json:"recipient" jsonschema:"required,the recipient address or handle"`
	Content           string `json:"content" jsonschema:"required,the message body"`
	Subject           string `json:"subject,omitempty" jsonschema:"email subject"`
	ResponseType      string `json:"response_type,omitempty" jsonschema:"response type, e.g. reply or legal"`
	Priority          string `json:"priority,omitempty" jsonschema:"high, normal or low"`
	OriginalMessageID string `json:"original_message_id,omitempty" jsonschema:"the item this answers"`
	RequiresApproval  bool   `json:"requires_approval,omitempty" jsonschema:"force a human approval before sending"`
}

type queueResponseOutput struct {
	ID             string `json:"id,omitempty"`
	Status         string `json:"status"`
	ApprovalID     string `json:"approval_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	ItemsProcessed       int            `json:"items_processed"`
	ItemsGated           int            `json:"items_gated"`
	ItemsFailed          int            `json:"items_failed"`
	ItemsByKind          map[string]int `json:"items_by_kind"`
	ApprovalsCreated     int            `json:"approvals_created"`
	ApprovalsApproved    int            `json:"approvals_approved"`
	ApprovalsRejected    int            `json:"approvals_rejected"`
	ApprovalsExpired     int            `json:"approvals_expired"`
	ResponsesQueued      int            `json:"responses_queued"`
	ResponsesSent        int            `json:"responses_sent"`
	ResponsesFailed      int            `json:"responses_failed"`
	ResponsesRateLimited int            `json:"responses_rate_limited"`
	SentByChannel        map[string]int `json:"sent_by_channel"`
	EventCount           int            `json:"event_count"`
	OldestEvent          string         `json:"oldest_event,omitempty"`
	NewestEvent          string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "run_cycle",
		Description: "Run one processing cycle: process new items in Inbox and Needs_Action, then act on approved and rejected requests.",
	}, s.handleRunCycle)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_pending_approvals",
		Description: "List approval requests waiting for a human decision. Expired requests are swept first.",
	}, s.handleListPending)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "decide_approval",
		Description: "Approve or reject a pending approval request. The next cycle acts on the decision.",
	}, s.handleDecideApproval)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "queue_response",
		Description: "Queue an outbound response. Sensitive or flagged responses are turned into approval requests; the channel rate limit applies.",
	}, s.handleQueueResponse)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log: items, approvals and responses by channel.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (approvals pending too long, dispatch failures, rate limit hits, error items).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleRunCycle(ctx context.Context, _ *gomcp.CallToolRequest, _ runCycleInput) (*gomcp.CallToolResult, runCycleOutput, error) {
	if s.svc.Processor == nil {
		return errorResult("processor not available"), runCycleOutput{}, nil
	}

	report, err := s.svc.Processor.RunCycle(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("running cycle: %s", err)), runCycleOutput{}, nil
	}
	items, resolved := report.Items, report.Approvals

	out := runCycleOutput{
		Processed:  items.Processed,
		Gated:      items.Gated,
		Replies:    items.Replies,
		Failed:     items.Failed + resolved.Failed,
		Expired:    resolved.Expired,
		Readmitted: resolved.Readmitted,
		Dispatched: resolved.Dispatched,
		Rejected:   resolved.Rejected,
	}
	out.Errors = append(out.Errors, items.Errors...)
	out.Errors = append(out.Errors, resolved.Errors...)
	return nil, out, nil
}

func (s *Server) handleListPending(_ context.Context, _ *gomcp.CallToolRequest, _ listPendingInput) (*gomcp.CallToolResult, listPendingOutput, error) {
	if s.svc.Approvals == nil {
		return errorResult("approvals not available"), listPendingOutput{}, nil
	}

	pending, err := s.svc.Approvals.ListPending()
	if err != nil {
		return errorResult(fmt.Sprintf("listing pending approvals: %s", err)), listPendingOutput{}, nil
	}

	out := listPendingOutput{
		Approvals: make([]approvalOutput, len(pending)),
		Count:     len(pending),
	}
	for i, req := range pending {
		out.Approvals[i] = approvalToOutput(req)
	}
	return nil, out, nil
}

func (s *Server) handleDecideApproval(_ context.Context, _ *gomcp.CallToolRequest, input decideApprovalInput) (*gomcp.CallToolResult, decideApprovalOutput, error) {
	if s.svc.Approvals == nil {
		return errorResult("approvals not available"), decideApprovalOutput{}, nil
	}
	if input.ApprovalID == "" {
		return errorResult("approval_id is required"), decideApprovalOutput{}, nil
	}

	decidedBy := input.DecidedBy
	if decidedBy == "" {
		decidedBy = "mcp"
	}
	req, err := s.svc.Approvals.Decide(input.ApprovalID, input.Approve, decidedBy, input.Reason)
	if err != nil {
		return errorResult(fmt.Sprintf("deciding %s: %s", input.ApprovalID, err)), decideApprovalOutput{}, nil
	}

	verb := "rejected"
	if input.Approve {
		verb = "approved"
	}
	return nil, decideApprovalOutput{
		Message:  fmt.Sprintf("approval %s %s", input.ApprovalID, verb),
		Approval: approvalToOutput(req),
	}, nil
}

func (s *Server) handleQueueResponse(ctx context.Context, _ *gomcp.CallToolRequest, input queueResponseInput) (*gomcp.CallToolResult, queueResponseOutput, error) {
	if s.svc.Responder == nil {
		return errorResult("responder not available"), queueResponseOutput{}, nil
	}

	ch, err := models.ParseChannel(input.Channel)
	if err != nil {
		return errorResult(err.Error()), queueResponseOutput{}, nil
	}
	responseType := input.ResponseType
	if responseType == "" {
		responseType = "reply"
	}

	res, err := s.svc.Responder.QueueResponse(ctx, core.ResponseRequest{
		OriginalMessageID: input.OriginalMessageID,
		Channel:           ch,
		Recipient:         input.Recipient,
		Content:           input.Content,
		Subject:           input.Subject,
		ResponseType:      responseType,
		Priority:          models.Priority(input.Priority),
		RequiresApproval:  input.RequiresApproval,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("queueing response: %s", err)), queueResponseOutput{}, nil
	}

	out := queueResponseOutput{
		ID:             res.ID,
		Status:         string(res.Status),
		ApprovalID:     res.ApprovalID,
		ConversationID: res.ConversationID,
		Error:          res.Error,
	}
	if rerr := res.Err(); rerr != nil {
		msg := rerr.Error()
		if errors.Is(rerr, core.ErrRateLimitExceeded) {
			msg = "rate limit exceeded on " + string(ch)
		}
		return errorResult(msg), out, nil
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.svc.Metrics == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}
	sinceTime, err := observability.ParseSince(sinceStr, time.Now())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	m, err := s.svc.Metrics.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		ItemsProcessed:       m.ItemsProcessed,
		ItemsGated:           m.ItemsGated,
		ItemsFailed:          m.ItemsFailed,
		ItemsByKind:          m.ItemsByKind,
		ApprovalsCreated:     m.ApprovalsCreated,
		ApprovalsApproved:    m.ApprovalsApproved,
		ApprovalsRejected:    m.ApprovalsRejected,
		ApprovalsExpired:     m.ApprovalsExpired,
		ResponsesQueued:      m.ResponsesQueued,
		ResponsesSent:        m.ResponsesSent,
		ResponsesFailed:      m.ResponsesFailed,
		ResponsesRateLimited: m.ResponsesRateLimited,
		SentByChannel:        m.SentByChannel,
		EventCount:           m.EventCount,
	}
	if m.OldestEvent != nil {
		out.OldestEvent = m.OldestEvent.Format(time.RFC3339)
	}
	if m.NewestEvent != nil {
		out.NewestEvent = m.NewestEvent.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.svc.Alerts == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.svc.Alerts.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func approvalToOutput(r *models.ApprovalRequest) approvalOutput {
	out := approvalOutput{
		ID:            r.ID,
		ActionType:    string(r.ActionType),
		Action:        r.Action,
		RelatedItemID: r.RelatedItemID,
		Recipient:     r.Recipient,
		Channel:       string(r.Channel),
		Reason:        r.Reason,
		Amount:        r.Amount,
		Status:        string(r.Status),
		Created:       r.CreatedAt.Format(time.RFC3339),
	}
	if !r.ExpiresAt.IsZero() {
		out.Expires = r.ExpiresAt.Format(time.RFC3339)
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		ItemsByKind:   make(map[string]int),
		SentByChannel: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
