package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-employee/internal/queue"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// ResponseIDPrefix prefixes every outbound response ID.
const ResponseIDPrefix = "RESP_"

// ErrRateLimitExceeded is the outcome of a send refused by a channel's rate
// limit. Such responses are never queued.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrDispatchRateLimited fails a queued response whose channel reached its
// limit between enqueue and dispatch. It wraps ErrRateLimitExceeded.
var ErrDispatchRateLimited = fmt.Errorf("%w: limit reached before dispatch", ErrRateLimitExceeded)

// ErrInvalidResponse is returned for response requests that cannot be
// handled at all (missing fields or an unknown channel).
var ErrInvalidResponse = errors.New("invalid response request")

// DispatchError reports a channel sender failure. The response is marked
// failed and not retried.
type DispatchError struct {
	ResponseID string
	Channel    models.Channel
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching %s on %s: %v", e.ResponseID, e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ResponseRequest describes an outbound reply.
type ResponseRequest struct {
	OriginalMessageID string
	Channel           models.Channel
	Recipient         string
	Content           string
	ResponseType      string
	Priority          models.Priority
	RequiresApproval  bool
	Subject           string
}

// QueueResult is the synchronous outcome of QueueResponse or SendDirect.
type QueueResult struct {
	ID             string
	Status         models.ResponseStatus
	ApprovalID     string
	ConversationID string
	Error          string

	err error
}

// Err returns the failure behind a failed result (ErrRateLimitExceeded,
// queue.ErrQueueFull or a *DispatchError), or nil.
func (r *QueueResult) Err() error {
	return r.err
}

// CoordinatorStats is a snapshot of dispatch counters since start.
type CoordinatorStats struct {
	Queued      int
	Sent        int64
	Failed      int64
	RateLimited int64
	Gated       int64
	Channels    map[models.Channel]ChannelStats
	// DeadLetters counts queued responses whose dispatch failed;
	// RecentFailures holds the latest of them, oldest first.
	DeadLetters    int
	RecentFailures []FailedDispatch
}

// FailedDispatch describes a queued response that could not be sent.
type FailedDispatch struct {
	ResponseID string
	Channel    models.Channel
	Recipient  string
	Error      string
	At         time.Time
}

// ChannelStats reports a channel's rate limit state.
type ChannelStats struct {
	Limit     int
	Window    time.Duration
	Remaining int
}

// ResponseCoordinator gates, rate limits, queues and dispatches outbound
// responses.
type ResponseCoordinator interface {
	// QueueResponse gates the request, checks the channel's rate limit and
	// enqueues it for the dispatch worker.
	QueueResponse(ctx context.Context, req ResponseRequest) (*QueueResult, error)
	// QueueApproved enqueues a request whose send was approved by a human;
	// gating is skipped but the rate limit still applies.
	QueueApproved(ctx context.Context, req ResponseRequest) (*QueueResult, error)
	// SendDirect gates and rate limits like QueueResponse, then sends on the
	// caller's goroutine.
	SendDirect(ctx context.Context, req ResponseRequest) (*QueueResult, error)
	// Run is the dispatch worker. It consumes the queue in FIFO order until
	// ctx is done. Exactly one Run may be active.
	Run(ctx context.Context) error
	// Drain dispatches everything currently queued and returns how many
	// responses were handled.
	Drain(ctx context.Context) int
	Stats() CoordinatorStats
}

// CoordinatorOption configures a ResponseCoordinator.
type CoordinatorOption func(*responseCoordinator)

// WithCoordinatorClock overrides the time source.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *responseCoordinator) { c.now = now }
}

// WithCoordinatorLogger sets the runtime logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *responseCoordinator) { c.logger = logger }
}

// WithCoordinatorEvents sets the audit event logger.
func WithCoordinatorEvents(el EventLogger) CoordinatorOption {
	return func(c *responseCoordinator) { c.events = el }
}

// WithResponseLog records every response state change in the Outbox.
func WithResponseLog(rl storage.ResponseLog) CoordinatorOption {
	return func(c *responseCoordinator) { c.outbox = rl }
}

type responseCoordinator struct {
	cfg       models.ResponsesConfig
	senders   SenderRegistry
	approvals ApprovalLifecycle
	policy    PolicyEvaluator
	tracker   ConversationTracker
	outbox    storage.ResponseLog
	queue     *queue.Queue[models.OutboundResponse]
	now       func() time.Time
	logger    *slog.Logger
	events    EventLogger

	mu      sync.Mutex
	windows map[models.Channel]*RateLimitWindow

	sent        atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64
	gated       atomic.Int64
}

// NewResponseCoordinator creates a ResponseCoordinator. cfg is read once;
// channels without a rate_limits entry use the email default.
func NewResponseCoordinator(
	cfg models.ResponsesConfig,
	senders SenderRegistry,
	approvals ApprovalLifecycle,
	policy PolicyEvaluator,
	tracker ConversationTracker,
	opts ...CoordinatorOption,
) ResponseCoordinator {
	c := &responseCoordinator{
		cfg:       cfg,
		senders:   senders,
		approvals: approvals,
		policy:    policy,
		tracker:   tracker,
		queue:     queue.New[models.OutboundResponse](cfg.QueueSize),
		now:       time.Now,
		logger:    discardLogger(),
		windows:   make(map[models.Channel]*RateLimitWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *responseCoordinator) window(ch models.Channel) *RateLimitWindow {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.windows[ch]; ok {
		return w
	}
	rl, ok := c.cfg.RateLimits[ch]
	if !ok || rl.Limit <= 0 || rl.Window <= 0 {
		rl = DefaultRateLimits()[models.ChannelEmail]
	}
	w := NewRateLimitWindow(rl.Limit, rl.Window)
	c.windows[ch] = w
	return w
}

func (c *responseCoordinator) validate(req *ResponseRequest) error {
	var missing []string
	if req.Channel == "" {
		missing = append(missing, "channel")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(req.Content) == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidResponse, strings.Join(missing, ", "))
	}
	if _, err := c.senders.Get(req.Channel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	return nil
}

// gateReason returns why the request needs approval, or "".
func (c *responseCoordinator) gateReason(req ResponseRequest) string {
	if req.RequiresApproval {
		return "approval requested by caller"
	}
	if c.policy != nil {
		if ok, term := c.policy.IsSensitive(req.Subject + "\n" + req.Content); ok {
			return "sensitive term: " + term
		}
	}
	if req.ResponseType != "" && slices.ContainsFunc(c.cfg.AlwaysGateTypes, func(t string) bool {
		return strings.EqualFold(t, req.ResponseType)
	}) {
		return fmt.Sprintf("response type %s requires approval", req.ResponseType)
	}
	return ""
}

func (c *responseCoordinator) requestApproval(req ResponseRequest, reason string) (*QueueResult, error) {
	ar, err := c.approvals.Create(&models.ApprovalRequest{
		RelatedItemID:     req.OriginalMessageID,
		Action:            fmt.Sprintf("send %s to %s", req.Channel, req.Recipient),
		ActionType:        models.ActionSendResponse,
		Recipient:         req.Recipient,
		Reason:            reason,
		Channel:           req.Channel,
		ResponseType:      req.ResponseType,
		Priority:          req.Priority,
		Subject:           req.Subject,
		OriginalMessageID: req.OriginalMessageID,
		Content:           req.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("gating response: %w", err)
	}

	c.gated.Add(1)
	c.logger.Info("response gated", "approval_id", ar.ID, "channel", req.Channel, "recipient", req.Recipient, "reason", reason)
	logEvent(c.events, c.logger, EventResponseGated, map[string]any{
		"approval_id": ar.ID,
		"channel":     string(req.Channel),
		"recipient":   req.Recipient,
		"reason":      reason,
	})
	return &QueueResult{Status: models.ResponseApprovalRequired, ApprovalID: ar.ID}, nil
}

func (c *responseCoordinator) newResponse(req ResponseRequest) *models.OutboundResponse {
	return &models.OutboundResponse{
		ID:                ResponseIDPrefix + uuid.New().String(),
		OriginalMessageID: req.OriginalMessageID,
		Channel:           req.Channel,
		Recipient:         req.Recipient,
		Content:           req.Content,
		ResponseType:      req.ResponseType,
		Priority:          req.Priority,
		Subject:           req.Subject,
		QueuedAt:          c.now().UTC(),
	}
}

// rateLimitedResult records a refused response and builds its result.
func (c *responseCoordinator) rateLimitedResult(req ResponseRequest) *QueueResult {
	resp := c.newResponse(req)
	resp.Status = models.ResponseFailed
	resp.Error = ErrRateLimitExceeded.Error()
	c.saveAudit(resp)

	c.rateLimited.Add(1)
	c.logger.Warn("response rate limited", "response_id", resp.ID, "channel", req.Channel, "recipient", req.Recipient)
	logEvent(c.events, c.logger, EventResponseRateLimited, map[string]any{
		"response_id": resp.ID,
		"channel":     string(req.Channel),
		"recipient":   req.Recipient,
	})
	return &QueueResult{ID: resp.ID, Status: models.ResponseFailed, Error: resp.Error, err: ErrRateLimitExceeded}
}

func (c *responseCoordinator) QueueResponse(ctx context.Context, req ResponseRequest) (*QueueResult, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}
	if reason := c.gateReason(req); reason != "" {
		return c.requestApproval(req, reason)
	}
	return c.enqueue(ctx, req)
}

func (c *responseCoordinator) QueueApproved(ctx context.Context, req ResponseRequest) (*QueueResult, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}
	return c.enqueue(ctx, req)
}

func (c *responseCoordinator) enqueue(ctx context.Context, req ResponseRequest) (*QueueResult, error) {
	if !c.window(req.Channel).Allow(c.now()) {
		return c.rateLimitedResult(req), nil
	}

	resp := c.newResponse(req)
	resp.Status = models.ResponseQueued
	resp.ConversationID = c.linkConversation(resp)

	if err := c.queue.Publish(ctx, resp); err != nil {
		resp.Status = models.ResponseFailed
		resp.Error = err.Error()
		c.saveAudit(resp)
		c.failed.Add(1)
		if errors.Is(err, queue.ErrQueueFull) {
			return &QueueResult{ID: resp.ID, Status: models.ResponseFailed, ConversationID: resp.ConversationID, Error: resp.Error, err: err}, nil
		}
		return nil, fmt.Errorf("queueing response: %w", err)
	}
	c.saveAudit(resp)

	c.logger.Info("response queued", "response_id", resp.ID, "channel", resp.Channel, "recipient", resp.Recipient, "priority", resp.Priority)
	logEvent(c.events, c.logger, EventResponseQueued, map[string]any{
		"response_id":     resp.ID,
		"channel":         string(resp.Channel),
		"recipient":       resp.Recipient,
		"priority":        string(resp.Priority),
		"conversation_id": resp.ConversationID,
	})
	return &QueueResult{ID: resp.ID, Status: models.ResponseQueued, ConversationID: resp.ConversationID}, nil
}

func (c *responseCoordinator) SendDirect(ctx context.Context, req ResponseRequest) (*QueueResult, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}
	if reason := c.gateReason(req); reason != "" {
		return c.requestApproval(req, reason)
	}
	if !c.window(req.Channel).Allow(c.now()) {
		return c.rateLimitedResult(req), nil
	}

	resp := c.newResponse(req)
	resp.ConversationID = c.linkConversation(resp)
	err := c.dispatch(ctx, resp)
	result := &QueueResult{ID: resp.ID, Status: resp.Status, ConversationID: resp.ConversationID, Error: resp.Error, err: err}
	return result, nil
}

// linkConversation attaches the response to the recipient's active
// conversation, creating one if needed. Tracker failures are logged and do
// not stop the send.
func (c *responseCoordinator) linkConversation(resp *models.OutboundResponse) string {
	if c.tracker == nil {
		return ""
	}
	summary := resp.Subject
	if summary == "" {
		summary = truncate(resp.Content, 80)
	}
	conv, _, err := c.tracker.FindOrCreate(resp.OriginalMessageID, resp.Channel, resp.Recipient, summary)
	if err != nil {
		c.logger.Warn("linking conversation", "recipient", resp.Recipient, "channel", resp.Channel, "error", err)
		return ""
	}

	identity := c.cfg.Identity
	if identity == "" {
		identity = "assistant"
	}
	if err := c.tracker.LinkResponse(conv.ID, resp.ID, resp.Content, identity); err != nil {
		c.logger.Warn("linking response to conversation", "conversation_id", conv.ID, "error", err)
	}
	return conv.ID
}

func (c *responseCoordinator) Run(ctx context.Context) error {
	c.logger.Info("dispatch worker started")
	for {
		msg, err := c.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("dispatch worker stopped", "pending", c.queue.Size())
				return nil
			}
			return fmt.Errorf("consuming dispatch queue: %w", err)
		}
		c.handle(ctx, msg)
	}
}

func (c *responseCoordinator) Drain(ctx context.Context) int {
	n := 0
	for c.queue.Size() > 0 {
		msg, err := c.queue.Consume(ctx)
		if err != nil {
			break
		}
		c.handle(ctx, msg)
		n++
	}
	return n
}

func (c *responseCoordinator) handle(ctx context.Context, msg *queue.Message[models.OutboundResponse]) {
	if err := c.dispatch(ctx, msg.T()); err != nil {
		_ = msg.Nack(err)
		return
	}
	_ = msg.Ack()
}

// dispatch sends resp on its channel and records the terminal status.
func (c *responseCoordinator) dispatch(ctx context.Context, resp *models.OutboundResponse) error {
	resp.Status = models.ResponseSending
	c.saveAudit(resp)

	var sendErr error
	var receipt *SendReceipt
	window := c.window(resp.Channel)
	sender, err := c.senders.Get(resp.Channel)
	switch {
	case err != nil:
		sendErr = err
	case !window.Allow(c.now()):
		// Responses queued in a burst are checked again before they go out.
		// They count as failed, not as rate limited.
		sendErr = ErrDispatchRateLimited
	default:
		receipt, sendErr = sender.Send(ctx, resp.Recipient, resp.Content, SendOptions{
			ResponseID:        resp.ID,
			Subject:           resp.Subject,
			ResponseType:      resp.ResponseType,
			Priority:          resp.Priority,
			OriginalMessageID: resp.OriginalMessageID,
			ConversationID:    resp.ConversationID,
		})
	}

	if sendErr != nil {
		dErr := &DispatchError{ResponseID: resp.ID, Channel: resp.Channel, Err: sendErr}
		resp.Status = models.ResponseFailed
		resp.Error = sendErr.Error()
		c.saveAudit(resp)
		c.failed.Add(1)
		c.logger.Error("response dispatch failed", "response_id", resp.ID, "channel", resp.Channel, "recipient", resp.Recipient, "error", dErr)
		logEvent(c.events, c.logger, EventResponseFailed, map[string]any{
			"response_id": resp.ID,
			"channel":     string(resp.Channel),
			"recipient":   resp.Recipient,
			"error":       resp.Error,
		})
		return dErr
	}

	now := c.now()
	window.Record(now)
	sentAt := now.UTC()
	resp.Status = models.ResponseSent
	resp.SentAt = &sentAt
	if receipt != nil {
		resp.ProviderMessageID = receipt.ProviderMessageID
	}
	c.saveAudit(resp)
	c.sent.Add(1)

	if c.tracker != nil && resp.ConversationID != "" {
		if err := c.tracker.Touch(resp.ConversationID); err != nil {
			c.logger.Warn("updating conversation activity", "conversation_id", resp.ConversationID, "error", err)
		}
	}

	c.logger.Info("response sent", "response_id", resp.ID, "channel", resp.Channel, "recipient", resp.Recipient, "provider_message_id", resp.ProviderMessageID)
	logEvent(c.events, c.logger, EventResponseSent, map[string]any{
		"response_id":         resp.ID,
		"channel":             string(resp.Channel),
		"recipient":           resp.Recipient,
		"provider_message_id": resp.ProviderMessageID,
		"latency_seconds":     now.Sub(resp.QueuedAt).Seconds(),
	})
	return nil
}

func (c *responseCoordinator) saveAudit(resp *models.OutboundResponse) {
	if c.outbox == nil {
		return
	}
	if err := c.outbox.Save(resp); err != nil {
		c.logger.Warn("writing outbox record", "response_id", resp.ID, "error", err)
	}
}

func (c *responseCoordinator) Stats() CoordinatorStats {
	stats := CoordinatorStats{
		Queued:      c.queue.Size(),
		Sent:        c.sent.Load(),
		Failed:      c.failed.Load(),
		RateLimited: c.rateLimited.Load(),
		Gated:       c.gated.Load(),
		Channels:    make(map[models.Channel]ChannelStats),
	}
	dead, total := c.queue.DeadLetters()
	stats.DeadLetters = total
	for _, dl := range dead {
		stats.RecentFailures = append(stats.RecentFailures, FailedDispatch{
			ResponseID: dl.Payload.ID,
			Channel:    dl.Payload.Channel,
			Recipient:  dl.Payload.Recipient,
			Error:      dl.Payload.Error,
			At:         dl.At,
		})
	}
	now := c.now()
	for _, ch := range c.senders.Channels() {
		w := c.window(ch)
		stats.Channels[ch] = ChannelStats{Limit: w.Limit(), Window: w.Window(), Remaining: w.Remaining(now)}
	}
	return stats
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
