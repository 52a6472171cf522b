package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// Item metadata written by the processor.
const (
	MetaReplyID     = "reply_id"
	MetaReplyStatus = "reply_status"
	MetaReplyError  = "reply_error"
	MetaCloseReason = "close_reason"
)

// ResolutionClosed marks an item closed by an operator.
const ResolutionClosed = "closed"

// ActionExecutor performs the automated action for an item that needs no
// approval.
type ActionExecutor interface {
	Execute(ctx context.Context, item *models.WorkItem) error
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, item *models.WorkItem) error

func (f ActionExecutorFunc) Execute(ctx context.Context, item *models.WorkItem) error {
	return f(ctx, item)
}

// ReplyComposer drafts the reply to an item. ok is false when the item has
// no channel to reply on.
type ReplyComposer interface {
	Compose(item *models.WorkItem) (req ResponseRequest, ok bool)
}

// CycleResult summarises one ProcessPendingItems run.
type CycleResult struct {
	// Processed counts items moved to Done or Pending_Approval.
	Processed int
	Gated     int
	Replies   int
	Skipped   int
	Failed    int
	Errors    []string
}

// ResolveResult summarises one ResolvePendingApprovals run.
type ResolveResult struct {
	Expired    int
	Readmitted int
	Dispatched int
	Gated      int
	Rejected   int
	Failed     int
	Errors     []string
}

// CycleReport is the outcome of one RunCycle.
type CycleReport struct {
	Items     *CycleResult
	Approvals *ResolveResult
}

// TaskProcessor advances work items through the approval pipeline. Several
// processors, or several callers of one processor, may run concurrently;
// claims in the item store decide which caller handles an item.
type TaskProcessor interface {
	// ProcessPendingItems handles every new item in Inbox and Needs_Action.
	// A failing item is marked with status error and the batch continues.
	ProcessPendingItems(ctx context.Context) (*CycleResult, error)
	// ResolvePendingApprovals acts on approved and rejected requests.
	ResolvePendingApprovals(ctx context.Context) (*ResolveResult, error)
	// RunCycle runs ProcessPendingItems then ResolvePendingApprovals.
	RunCycle(ctx context.Context) (*CycleReport, error)
	// CloseItem moves an item left in Pending_Approval, or an item marked
	// error, to Done.
	CloseItem(id, reason string) (*models.WorkItem, error)
	// RetryItem clears the error status of an item so the next cycle picks
	// it up again.
	RetryItem(id string) (*models.WorkItem, error)
}

// ProcessorOption configures a TaskProcessor.
type ProcessorOption func(*taskProcessor)

// WithExecutor sets the automated action.
func WithExecutor(ex ActionExecutor) ProcessorOption {
	return func(p *taskProcessor) { p.executor = ex }
}

// WithReplyComposer sets the reply composer. Without one no replies are
// queued.
func WithReplyComposer(rc ReplyComposer) ProcessorOption {
	return func(p *taskProcessor) { p.composer = rc }
}

// WithProcessorClock overrides the time source.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *taskProcessor) { p.now = now }
}

// WithProcessorLogger sets the runtime logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *taskProcessor) { p.logger = logger }
}

// WithProcessorEvents sets the audit event logger.
func WithProcessorEvents(el EventLogger) ProcessorOption {
	return func(p *taskProcessor) { p.events = el }
}

type taskProcessor struct {
	store     storage.ItemStore
	policy    PolicyEvaluator
	approvals ApprovalLifecycle
	responder ResponseCoordinator
	executor  ActionExecutor
	composer  ReplyComposer
	now       func() time.Time
	logger    *slog.Logger
	events    EventLogger
}

// NewTaskProcessor creates a TaskProcessor. responder may be nil, in which
// case no replies are sent and approved send requests fail.
func NewTaskProcessor(
	store storage.ItemStore,
	policy PolicyEvaluator,
	approvals ApprovalLifecycle,
	responder ResponseCoordinator,
	opts ...ProcessorOption,
) TaskProcessor {
	p := &taskProcessor{
		store:     store,
		policy:    policy,
		approvals: approvals,
		responder: responder,
		now:       time.Now,
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.executor == nil {
		p.executor = ActionExecutorFunc(func(_ context.Context, item *models.WorkItem) error {
			p.logger.Debug("no automated action configured", "id", item.ID, "kind", item.Kind)
			return nil
		})
	}
	return p
}

func (p *taskProcessor) ProcessPendingItems(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}
	for _, folder := range []models.Folder{models.FolderInbox, models.FolderNeedsAction} {
		for item := range p.store.List(folder) {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if !processable(item) {
				result.Skipped++
				continue
			}
			p.processItem(ctx, item, result)
		}
	}
	return result, nil
}

func (p *taskProcessor) processItem(ctx context.Context, item *models.WorkItem, result *CycleResult) {
	claim, err := p.store.Claim(item)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			result.Skipped++
			return
		}
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ID, err))
		p.logger.Error("claiming item", "id", item.ID, "error", err)
		return
	}

	// The listed copy may be stale; decide again on the claimed record.
	if fresh := claim.Item(); !processable(fresh) {
		if err := claim.Abort(); err != nil {
			p.logger.Error("returning claimed item", "id", item.ID, "error", err)
		}
		result.Skipped++
		return
	}

	gated, replied, err := p.advanceRecovered(ctx, claim)
	if err != nil {
		p.markError(claim, err)
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ID, err))
		return
	}

	result.Processed++
	if gated {
		result.Gated++
	}
	if replied {
		result.Replies++
	}
}

func processable(item *models.WorkItem) bool {
	return item.Kind != models.KindApprovalRequest && item.Kind != models.KindOutboundResponse && item.Status != models.StatusError
}

// advanceRecovered is advance with panics from the executor or composer
// turned into an item error.
func (p *taskProcessor) advanceRecovered(ctx context.Context, claim *storage.Claim) (gated, replied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic recovered",
				slog.String("id", claim.Item().ID),
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			gated, replied, err = false, false, fmt.Errorf("panic: %v", r)
		}
	}()
	return p.advance(ctx, claim)
}

// advance routes a claimed item to Pending_Approval or Done.
func (p *taskProcessor) advance(ctx context.Context, claim *storage.Claim) (gated, replied bool, err error) {
	item := claim.Item()

	granted := item.Metadata.Get(models.MetaApprovalStatus) == string(models.ApprovalApproved)
	if !granted {
		if required, reason := p.policy.Evaluate(item); required {
			return true, false, p.gate(claim, reason)
		}
	}

	if err := p.executor.Execute(ctx, item); err != nil {
		return false, false, fmt.Errorf("executing action: %w", err)
	}

	replied = p.reply(ctx, item)

	item.Metadata.Set(models.MetaProcessedAt, p.now().UTC().Format(time.RFC3339))
	if err := claim.Commit(models.FolderDone); err != nil {
		return false, replied, fmt.Errorf("moving to %s: %w", models.FolderDone, err)
	}

	p.logger.Info("item processed", "id", item.ID, "kind", item.Kind, "approved", granted, "replied", replied)
	logEvent(p.events, p.logger, EventItemProcessed, map[string]any{
		"item_id":  item.ID,
		"kind":     string(item.Kind),
		"approved": granted,
		"replied":  replied,
	})
	return false, replied, nil
}

func (p *taskProcessor) gate(claim *storage.Claim, reason string) error {
	item := claim.Item()
	req, err := p.approvals.Create(&models.ApprovalRequest{
		RelatedItemID: item.ID,
		Action:        fmt.Sprintf("process %s %s", item.Kind, item.ID),
		ActionType:    models.ActionProcessItem,
		Recipient:     item.Sender(),
		Reason:        reason,
		Amount:        item.Metadata.Get(models.MetaAmount),
		Subject:       item.Subject(),
		Content:       truncate(item.Body, 500),
	})
	if err != nil {
		return err
	}

	item.Metadata.Set(models.MetaApprovalID, req.ID)
	item.Metadata.Set(models.MetaApprovalReason, reason)
	if err := claim.Commit(models.FolderPendingApproval); err != nil {
		return fmt.Errorf("moving to %s: %w", models.FolderPendingApproval, err)
	}

	p.logger.Info("item needs approval", "id", item.ID, "approval_id", req.ID, "reason", reason)
	logEvent(p.events, p.logger, EventItemGated, map[string]any{
		"item_id":     item.ID,
		"kind":        string(item.Kind),
		"approval_id": req.ID,
		"reason":      reason,
	})
	return nil
}

// reply queues a reply when the item looks like it expects one. Reply
// problems are recorded on the item and do not fail it.
func (p *taskProcessor) reply(ctx context.Context, item *models.WorkItem) bool {
	if p.composer == nil || p.responder == nil || !ExpectsReply(item) {
		return false
	}
	req, ok := p.composer.Compose(item)
	if !ok {
		return false
	}

	res, err := p.responder.QueueResponse(ctx, req)
	if err != nil {
		item.Metadata.Set(MetaReplyError, err.Error())
		p.logger.Warn("queueing reply", "id", item.ID, "error", err)
		return false
	}
	item.Metadata.SetIfNotEmpty(MetaReplyID, res.ID)
	item.Metadata.SetIfNotEmpty(models.MetaApprovalID, res.ApprovalID)
	item.Metadata.Set(MetaReplyStatus, string(res.Status))
	if res.Error != "" {
		item.Metadata.Set(MetaReplyError, res.Error)
	}
	return res.Status != models.ResponseFailed
}

// markError records err on the item and leaves it where it was claimed from.
func (p *taskProcessor) markError(claim *storage.Claim, err error) {
	item := claim.Item()

	var relErr error
	if claim.Finished() {
		_, relErr = p.store.Apply(item.Folder, item.ID, item.Folder, func(fresh *models.WorkItem) error {
			fresh.Status = models.StatusError
			fresh.Metadata.Set(models.MetaError, err.Error())
			return nil
		})
	} else {
		item.Status = models.StatusError
		item.Metadata.Set(models.MetaError, err.Error())
		relErr = claim.Release()
	}
	if relErr != nil {
		p.logger.Error("marking item as failed", "id", item.ID, "error", relErr)
	}

	p.logger.Error("item processing failed", "id", item.ID, "kind", item.Kind, "error", err)
	logEvent(p.events, p.logger, EventItemFailed, map[string]any{
		"item_id": item.ID,
		"kind":    string(item.Kind),
		"error":   err.Error(),
	})
}

func (p *taskProcessor) ResolvePendingApprovals(ctx context.Context) (*ResolveResult, error) {
	result := &ResolveResult{}

	expired, err := p.approvals.SweepExpired()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		p.logger.Error("expiry sweep", "error", err)
	}
	result.Expired = expired

	approved, err := p.approvals.ListResolved(models.FolderApproved)
	if err != nil {
		return result, err
	}
	for _, req := range approved {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		p.resolveApproved(ctx, req, result)
	}

	rejected, err := p.approvals.ListResolved(models.FolderRejected)
	if err != nil {
		return result, err
	}
	for _, req := range rejected {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		resolution := models.ApprovalRejected
		if req.Status == models.ApprovalExpired {
			resolution = models.ApprovalExpired
		}
		if err := p.approvals.Complete(req, resolution); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			p.resolveFailed(req, err, result)
			continue
		}
		result.Rejected++
		p.logger.Info("approval closed", "approval_id", req.ID, "resolution", resolution, "related_item", req.RelatedItemID)
	}
	return result, nil
}

// resolveApproved completes an approved request and then carries out its
// action. Completing first makes the request's move to Done the point where
// concurrent resolvers are told apart, so the action runs at most once.
func (p *taskProcessor) resolveApproved(ctx context.Context, req *models.ApprovalRequest, result *ResolveResult) {
	if err := p.approvals.Complete(req, models.ApprovalApproved); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.resolveFailed(req, err, result)
		}
		return
	}

	switch req.ActionType {
	case models.ActionSendResponse:
		p.dispatchApproved(ctx, req, result)
	default:
		p.readmit(req, result)
	}
}

func (p *taskProcessor) readmit(req *models.ApprovalRequest, result *ResolveResult) {
	if req.RelatedItemID == "" {
		return
	}
	item, err := p.store.Apply(models.FolderPendingApproval, req.RelatedItemID, models.FolderNeedsAction, func(item *models.WorkItem) error {
		item.Metadata.Set(models.MetaApprovalStatus, string(models.ApprovalApproved))
		item.Metadata.Set(models.MetaApprovalID, req.ID)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.logger.Info("related item no longer pending approval", "approval_id", req.ID, "related_item", req.RelatedItemID)
			return
		}
		p.resolveFailed(req, err, result)
		return
	}
	result.Readmitted++
	p.logger.Info("approved item readmitted", "approval_id", req.ID, "item_id", item.ID)
}

func (p *taskProcessor) dispatchApproved(ctx context.Context, req *models.ApprovalRequest, result *ResolveResult) {
	if p.responder == nil {
		p.resolveFailed(req, fmt.Errorf("no response coordinator configured"), result)
		return
	}

	res, err := p.responder.QueueApproved(ctx, ResponseRequest{
		OriginalMessageID: req.OriginalMessageID,
		Channel:           req.Channel,
		Recipient:         req.Recipient,
		Content:           req.Content,
		ResponseType:      req.ResponseType,
		Priority:          req.Priority,
		Subject:           req.Subject,
	})
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		p.resolveFailed(req, err, result)
		p.annotateDone(req.ID, err)
		return
	}
	result.Dispatched++
	p.logger.Info("approved response queued", "approval_id", req.ID, "response_id", res.ID)
}

// annotateDone records a post-approval failure on the completed request.
func (p *taskProcessor) annotateDone(id string, cause error) {
	_, err := p.store.Apply(models.FolderDone, id, models.FolderDone, func(item *models.WorkItem) error {
		item.Metadata.Set(models.MetaError, cause.Error())
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("annotating approval request", "approval_id", id, "error", err)
	}
}

func (p *taskProcessor) resolveFailed(req *models.ApprovalRequest, err error, result *ResolveResult) {
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", req.ID, err))
	p.logger.Error("resolving approval request", "approval_id", req.ID, "action_type", req.ActionType, "error", err)
}

func (p *taskProcessor) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := p.now()

	items, err := p.ProcessPendingItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("processing items: %w", err)
	}
	approvals, err := p.ResolvePendingApprovals(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving approvals: %w", err)
	}

	p.logger.Info("cycle completed",
		"processed", items.Processed, "gated", items.Gated, "failed", items.Failed,
		"readmitted", approvals.Readmitted, "dispatched", approvals.Dispatched, "rejected", approvals.Rejected, "expired", approvals.Expired,
	)
	logEvent(p.events, p.logger, EventCycleCompleted, map[string]any{
		"processed":        items.Processed,
		"gated":            items.Gated,
		"replies":          items.Replies,
		"skipped":          items.Skipped,
		"failed":           items.Failed,
		"readmitted":       approvals.Readmitted,
		"dispatched":       approvals.Dispatched,
		"rejected":         approvals.Rejected,
		"expired":          approvals.Expired,
		"approval_failed":  approvals.Failed,
		"duration_seconds": p.now().Sub(start).Seconds(),
	})
	return &CycleReport{Items: items, Approvals: approvals}, nil
}

func (p *taskProcessor) CloseItem(id, reason string) (*models.WorkItem, error) {
	found, err := p.store.Find(id)
	if err != nil {
		return nil, fmt.Errorf("closing %s: %w", id, err)
	}

	resolvedAt := p.now().UTC().Format(time.RFC3339)
	item, err := p.store.Apply(found.Folder, id, models.FolderDone, func(item *models.WorkItem) error {
		if item.Kind == models.KindApprovalRequest {
			return fmt.Errorf("approval requests are resolved with approve or reject")
		}
		if item.Folder == models.FolderDone {
			return fmt.Errorf("item is already done")
		}
		if item.Folder != models.FolderPendingApproval && item.Status != models.StatusError {
			return fmt.Errorf("item is in %s and not marked error", item.Folder)
		}
		item.Metadata.Set(models.MetaResolution, ResolutionClosed)
		item.Metadata.SetIfNotEmpty(MetaCloseReason, reason)
		item.Metadata.Set(models.MetaResolvedAt, resolvedAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("closing %s: %w", id, err)
	}

	p.logger.Info("item closed", "id", id, "reason", reason)
	logEvent(p.events, p.logger, EventItemClosed, map[string]any{
		"item_id": id,
		"reason":  reason,
	})
	return item, nil
}

func (p *taskProcessor) RetryItem(id string) (*models.WorkItem, error) {
	found, err := p.store.Find(id)
	if err != nil {
		return nil, fmt.Errorf("retrying %s: %w", id, err)
	}

	item, err := p.store.Apply(found.Folder, id, found.Folder, func(item *models.WorkItem) error {
		if item.Status != models.StatusError {
			return fmt.Errorf("item is not marked error")
		}
		if item.Folder != models.FolderInbox && item.Folder != models.FolderNeedsAction {
			return fmt.Errorf("only items in %s or %s can be retried", models.FolderInbox, models.FolderNeedsAction)
		}
		item.Status = models.StatusForFolder(item.Folder)
		item.Metadata.Delete(models.MetaError)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrying %s: %w", id, err)
	}
	return item, nil
}

var requestPhrases = []string{
	"can you", "could you", "would you", "will you", "please", "let me know",
	"get back to me", "reply", "respond", "are you able", "i need", "we need",
}

// ExpectsReply reports whether the item's subject or body reads like a
// question or a request.
func ExpectsReply(item *models.WorkItem) bool {
	text := strings.ToLower(item.Subject() + "\n" + item.Body)
	if strings.Contains(text, "?") {
		return true
	}
	for _, phrase := range requestPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
