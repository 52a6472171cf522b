package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

func newEmail(id, from, subject, body string) *models.WorkItem {
	var md models.Metadata
	md.Set(models.MetaFrom, from)
	md.SetIfNotEmpty(models.MetaSubject, subject)
	return &models.WorkItem{ID: id, Kind: models.KindEmail, Metadata: md, Body: body}
}

func newFileDrop(id, body string) *models.WorkItem {
	var md models.Metadata
	md.Set("original_name", id+".pdf")
	return &models.WorkItem{ID: id, Kind: models.KindFileDrop, Metadata: md, Body: body}
}

func TestProcessPendingItems_RoutineItemGoesToDone(t *testing.T) {
	p := newPipeline(t)
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_report", "Quarterly report attached."))

	res, err := p.processor.ProcessPendingItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Gated)
	assert.Zero(t, res.Replies)

	item, err := p.store.Get(models.FolderDone, "FILE_report")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)
	assert.Equal(t, "2025-06-01T09:00:00Z", item.Metadata.Get(models.MetaProcessedAt))
	assert.Empty(t, p.ids(models.FolderInbox))
	assert.Equal(t, 1, p.events.Count(EventItemProcessed))
}

func TestProcessPendingItems_ApprovalRoundTrip(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.addItem(t, models.FolderNeedsAction, newEmail("EMAIL_wire", "ivy@example.com", "Vendor", "please wire $500 to vendor"))

	res, err := p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Gated)
	assert.Zero(t, res.Replies)

	gated, err := p.store.Get(models.FolderPendingApproval, "EMAIL_wire")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, gated.Status)
	assert.Equal(t, "financial term: wire", gated.Metadata.Get(models.MetaApprovalReason))
	approvalID := gated.Metadata.Get(models.MetaApprovalID)
	require.NotEmpty(t, approvalID)

	pending, err := p.approvals.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, approvalID, pending[0].ID)
	assert.Equal(t, "EMAIL_wire", pending[0].RelatedItemID)
	assert.Equal(t, "financial term: wire", pending[0].Reason)
	assert.Equal(t, "ivy@example.com", pending[0].Recipient)

	// Nothing happens until a human decides.
	rr, err := p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Zero(t, rr.Readmitted)

	_, err = p.approvals.Decide(approvalID, true, "ops", "known vendor")
	require.NoError(t, err)

	rr, err = p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Readmitted)
	assert.Empty(t, rr.Errors)

	readmitted, err := p.store.Get(models.FolderNeedsAction, "EMAIL_wire")
	require.NoError(t, err)
	assert.Equal(t, string(models.ApprovalApproved), readmitted.Metadata.Get(models.MetaApprovalStatus))

	done, err := p.store.Get(models.FolderDone, approvalID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ApprovalApproved), done.Metadata.Get(models.MetaResolution))

	// The approved item bypasses the policy on its second pass.
	res, err = p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Gated)
	assert.Equal(t, 1, res.Replies)

	final, err := p.store.Get(models.FolderDone, "EMAIL_wire")
	require.NoError(t, err)
	assert.Equal(t, string(models.ResponseQueued), final.Metadata.Get(MetaReplyStatus))
	assert.NotEmpty(t, final.Metadata.Get(MetaReplyID))
	assert.Empty(t, p.ids(models.FolderPendingApproval))
	assert.Empty(t, p.ids(models.FolderNeedsAction))

	require.Equal(t, 1, p.responder.Drain(ctx))
	sent := p.email.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ivy@example.com", sent[0].Recipient)
	assert.Equal(t, "Re: Vendor", sent[0].Opts.Subject)
}

func TestResolvePendingApprovals_RejectedLeavesItemForClose(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.addItem(t, models.FolderInbox, newEmail("EMAIL_refund", "bob@example.com", "Refund", "I want a refund for order 12"))

	_, err := p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	gated, err := p.store.Get(models.FolderPendingApproval, "EMAIL_refund")
	require.NoError(t, err)
	approvalID := gated.Metadata.Get(models.MetaApprovalID)

	_, err = p.approvals.Decide(approvalID, false, "ops", "not eligible")
	require.NoError(t, err)

	rr, err := p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Rejected)

	done, err := p.store.Get(models.FolderDone, approvalID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ApprovalRejected), done.Metadata.Get(models.MetaResolution))
	assert.Equal(t, "not eligible", done.Metadata.Get(models.MetaDecisionReason))

	// The item is not processed again while it waits in Pending_Approval.
	assert.Equal(t, []string{"EMAIL_refund"}, p.ids(models.FolderPendingApproval))
	res, err := p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	_, err = p.processor.CloseItem(approvalID, "")
	assert.Error(t, err)

	closed, err := p.processor.CloseItem("EMAIL_refund", "refund declined")
	require.NoError(t, err)
	assert.Equal(t, models.FolderDone, closed.Folder)

	item, err := p.store.Get(models.FolderDone, "EMAIL_refund")
	require.NoError(t, err)
	assert.Equal(t, ResolutionClosed, item.Metadata.Get(models.MetaResolution))
	assert.Equal(t, "refund declined", item.Metadata.Get(MetaCloseReason))
	assert.Empty(t, p.ids(models.FolderPendingApproval))
	assert.Equal(t, 1, p.events.Count(EventItemClosed))

	_, err = p.processor.CloseItem("EMAIL_refund", "")
	assert.Error(t, err)
}

func TestResolvePendingApprovals_ExpiredRequest(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.addItem(t, models.FolderInbox, newEmail("EMAIL_invoice", "acme@example.com", "Invoice 7", "invoice attached"))

	_, err := p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	gated, err := p.store.Get(models.FolderPendingApproval, "EMAIL_invoice")
	require.NoError(t, err)
	approvalID := gated.Metadata.Get(models.MetaApprovalID)

	p.clock.Advance(25 * time.Hour)
	rr, err := p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Expired)
	assert.Equal(t, 1, rr.Rejected)

	done, err := p.store.Get(models.FolderDone, approvalID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ApprovalExpired), done.Metadata.Get(models.MetaResolution))
	assert.Equal(t, []string{"EMAIL_invoice"}, p.ids(models.FolderPendingApproval))
	assert.Equal(t, 1, p.events.Count(EventApprovalExpired))
}

func TestResolvePendingApprovals_DispatchesApprovedResponse(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	qr, err := p.responder.QueueResponse(ctx, emailReq("the contract is attached"))
	require.NoError(t, err)
	require.Equal(t, models.ResponseApprovalRequired, qr.Status)

	_, err = p.approvals.Decide(qr.ApprovalID, true, "ops", "")
	require.NoError(t, err)

	rr, err := p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Dispatched)

	// A second resolver finds nothing to do.
	rr, err = p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Zero(t, rr.Dispatched)

	require.Equal(t, 1, p.responder.Drain(ctx))
	sent := p.email.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "the contract is attached", sent[0].Content)
	assert.Equal(t, "Re: lunch", sent[0].Opts.Subject)
}

func TestResolvePendingApprovals_ApprovedResponseRateLimited(t *testing.T) {
	p := newPipeline(t, func(cfg *models.GlobalConfig) {
		cfg.Responses.RateLimits[models.ChannelEmail] = models.RateLimitConfig{Limit: 1, Window: time.Hour}
	})
	ctx := context.Background()

	qr, err := p.responder.QueueResponse(ctx, emailReq("your password reset"))
	require.NoError(t, err)
	_, err = p.responder.SendDirect(ctx, emailReq("hello"))
	require.NoError(t, err)
	_, err = p.approvals.Decide(qr.ApprovalID, true, "ops", "")
	require.NoError(t, err)

	rr, err := p.processor.ResolvePendingApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Failed)
	assert.Zero(t, rr.Dispatched)

	done, err := p.store.Get(models.FolderDone, qr.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, ErrRateLimitExceeded.Error(), done.Metadata.Get(models.MetaError))
}

func TestProcessPendingItems_FailureIsIsolated(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	var failing atomic.Bool
	failing.Store(true)
	proc := NewTaskProcessor(p.store, p.policy, p.approvals, p.responder,
		WithProcessorClock(p.clock.Now),
		WithProcessorEvents(p.events),
		WithExecutor(ActionExecutorFunc(func(_ context.Context, item *models.WorkItem) error {
			if item.ID == "FILE_bad" && failing.Load() {
				return errors.New("converter crashed")
			}
			return nil
		})),
	)

	p.addItem(t, models.FolderInbox, newFileDrop("FILE_bad", "scan"))
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_good", "scan"))

	res, err := proc.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "FILE_bad")

	bad, err := p.store.Get(models.FolderInbox, "FILE_bad")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, bad.Status)
	assert.Contains(t, bad.Metadata.Get(models.MetaError), "converter crashed")
	assert.Equal(t, []string{"FILE_good"}, p.ids(models.FolderDone))

	// Error items are left alone until retried.
	res, err = proc.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)

	_, err = proc.RetryItem("FILE_good")
	assert.Error(t, err)

	failing.Store(false)
	retried, err := proc.RetryItem("FILE_bad")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, retried.Status)
	assert.Empty(t, retried.Metadata.Get(models.MetaError))

	res, err = proc.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.ElementsMatch(t, []string{"FILE_bad", "FILE_good"}, p.ids(models.FolderDone))
}

func TestProcessPendingItems_StaleListingLeavesErrorItem(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_m1", "scan"))

	var listed *models.WorkItem
	for item := range p.store.List(models.FolderInbox) {
		listed = item
	}
	require.NotNil(t, listed)

	// Another worker fails the item after this one listed it.
	current, err := p.store.Get(models.FolderInbox, "FILE_m1")
	require.NoError(t, err)
	current.Status = models.StatusError
	current.Metadata.Set(models.MetaError, "converter crashed")
	require.NoError(t, p.store.Update(current))

	res := &CycleResult{}
	p.processor.(*taskProcessor).processItem(ctx, listed, res)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, p.ids(models.FolderDone))

	item, err := p.store.Get(models.FolderInbox, "FILE_m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, item.Status)
	assert.Equal(t, "converter crashed", item.Metadata.Get(models.MetaError))
}

func TestProcessPendingItems_PanicIsIsolated(t *testing.T) {
	p := newPipeline(t)
	proc := NewTaskProcessor(p.store, p.policy, p.approvals, p.responder,
		WithProcessorClock(p.clock.Now),
		WithProcessorEvents(p.events),
		WithExecutor(ActionExecutorFunc(func(_ context.Context, item *models.WorkItem) error {
			if item.ID == "FILE_a1" {
				panic("nil converter")
			}
			return nil
		})),
	)
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_a1", "scan"))
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_b2", "scan"))

	var res *CycleResult
	require.NotPanics(t, func() {
		var err error
		res, err = proc.ProcessPendingItems(context.Background())
		require.NoError(t, err)
	})
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"FILE_b2"}, p.ids(models.FolderDone))

	bad, err := p.store.Get(models.FolderInbox, "FILE_a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, bad.Status)
	assert.Contains(t, bad.Metadata.Get(models.MetaError), "nil converter")

	// No record is left claimed.
	n, err := p.store.Recover()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseItem_ErrorItem(t *testing.T) {
	p := newPipeline(t)
	item := newFileDrop("FILE_broken", "garbled")
	item.Status = models.StatusError
	item.Metadata.Set(models.MetaError, "unreadable")
	p.addItem(t, models.FolderNeedsAction, item)

	closed, err := p.processor.CloseItem("FILE_broken", "")
	require.NoError(t, err)
	assert.Equal(t, models.FolderDone, closed.Folder)

	done, err := p.store.Get(models.FolderDone, "FILE_broken")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, done.Status)

	_, err = p.processor.CloseItem("FILE_missing", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessPendingItems_RepliesOnChat(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	var md models.Metadata
	md.Set(models.MetaFrom, "#ops")
	md.Set(models.MetaChannel, string(models.ChannelSlack))
	p.addItem(t, models.FolderInbox, &models.WorkItem{
		ID: "CHAT_build", Kind: models.KindChatMessage, Metadata: md, Body: "can you check the nightly build?",
	})

	res, err := p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replies)

	require.Equal(t, 1, p.responder.Drain(ctx))
	sent := p.slack.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "#ops", sent[0].Recipient)
	assert.Empty(t, sent[0].Opts.Subject)
	assert.Equal(t, "CHAT_build", sent[0].Opts.OriginalMessageID)
	assert.Empty(t, p.email.Sent())
}

func TestProcessPendingItems_ReplyFailureDoesNotFailItem(t *testing.T) {
	p := newPipeline(t, func(cfg *models.GlobalConfig) {
		cfg.Responses.RateLimits[models.ChannelEmail] = models.RateLimitConfig{Limit: 1, Window: time.Hour}
	})
	ctx := context.Background()
	_, err := p.responder.SendDirect(ctx, emailReq("hello"))
	require.NoError(t, err)

	p.addItem(t, models.FolderInbox, newEmail("EMAIL_q", "dan@example.com", "Lunch", "are you free on friday?"))
	res, err := p.processor.ProcessPendingItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Replies)

	item, err := p.store.Get(models.FolderDone, "EMAIL_q")
	require.NoError(t, err)
	assert.Equal(t, string(models.ResponseFailed), item.Metadata.Get(MetaReplyStatus))
	assert.Equal(t, ErrRateLimitExceeded.Error(), item.Metadata.Get(MetaReplyError))
	assert.NotEqual(t, models.StatusError, item.Status)
}

func TestProcessPendingItems_ConcurrentProcessors(t *testing.T) {
	p := newPipeline(t)
	const items = 30
	for i := 0; i < items; i++ {
		p.addItem(t, models.FolderInbox, newFileDrop(fmt.Sprintf("FILE_%02d", i), "scan"))
	}

	var executed atomic.Int64
	var wg sync.WaitGroup
	var processed atomic.Int64
	for w := 0; w < 4; w++ {
		proc := NewTaskProcessor(p.store, p.policy, p.approvals, p.responder,
			WithExecutor(ActionExecutorFunc(func(context.Context, *models.WorkItem) error {
				executed.Add(1)
				return nil
			})),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := proc.ProcessPendingItems(context.Background())
			if err != nil {
				t.Errorf("ProcessPendingItems: %v", err)
				return
			}
			processed.Add(int64(res.Processed))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(items), processed.Load())
	assert.Equal(t, int64(items), executed.Load())
	assert.Len(t, p.ids(models.FolderDone), items)
	assert.Empty(t, p.ids(models.FolderInbox))
}

func TestProcessPendingItems_SkipsApprovalRecords(t *testing.T) {
	p := newPipeline(t)
	ar := &models.ApprovalRequest{ID: "APPROVAL_stray", Action: "process", ActionType: models.ActionProcessItem}
	p.addItem(t, models.FolderInbox, ar.ToWorkItem())

	res, err := p.processor.ProcessPendingItems(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"APPROVAL_stray"}, p.ids(models.FolderInbox))
}

func TestRunCycle(t *testing.T) {
	p := newPipeline(t)
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_a", "scan"))
	p.addItem(t, models.FolderInbox, newEmail("EMAIL_b", "eve@example.com", "Purchase order", "PO 55"))

	report, err := p.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Items.Processed)
	assert.Equal(t, 1, report.Items.Gated)
	assert.Equal(t, []string{"FILE_a"}, p.ids(models.FolderDone))
	assert.Contains(t, p.ids(models.FolderPendingApproval), "EMAIL_b")
	assert.Equal(t, 1, p.events.Count(EventCycleCompleted))
}

func TestRunCycle_Cancelled(t *testing.T) {
	p := newPipeline(t)
	p.addItem(t, models.FolderInbox, newFileDrop("FILE_a", "scan"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := p.processor.RunCycle(ctx)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"FILE_a"}, p.ids(models.FolderInbox))
}

func TestExpectsReply(t *testing.T) {
	tests := []struct {
		subject, body string
		want          bool
	}{
		{"", "Are you free tomorrow?", true},
		{"Quick question?", "", true},
		{"", "Could you send the slides", true},
		{"", "Let me know when it ships.", true},
		{"Report", "Quarterly numbers attached.", false},
		{"", "", false},
	}
	for _, tt := range tests {
		item := newEmail("EMAIL_x", "a@example.com", tt.subject, tt.body)
		assert.Equal(t, tt.want, ExpectsReply(item), "subject=%q body=%q", tt.subject, tt.body)
	}
}

func TestAckComposer(t *testing.T) {
	c := NewAckComposer("-- assistant")

	req, ok := c.Compose(newEmail("EMAIL_1", "ivy@example.com", "Re: Lunch", "free?"))
	require.True(t, ok)
	assert.Equal(t, models.ChannelEmail, req.Channel)
	assert.Equal(t, "ivy@example.com", req.Recipient)
	assert.Equal(t, "Re: Lunch", req.Subject)
	assert.Equal(t, AcknowledgementType, req.ResponseType)
	assert.Equal(t, "EMAIL_1", req.OriginalMessageID)
	assert.Contains(t, req.Content, `"Re: Lunch"`)
	assert.Contains(t, req.Content, "\n\n-- assistant")

	_, ok = c.Compose(newEmail("EMAIL_2", "", "Lunch", "free?"))
	assert.False(t, ok)

	_, ok = c.Compose(newFileDrop("FILE_1", "free?"))
	assert.False(t, ok)

	var md models.Metadata
	md.Set(models.MetaFrom, "+15550100")
	_, ok = c.Compose(&models.WorkItem{ID: "CHAT_1", Kind: models.KindChatMessage, Metadata: md})
	assert.False(t, ok)
}
