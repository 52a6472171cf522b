package core

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// ApprovalIDPrefix prefixes every approval request ID.
const ApprovalIDPrefix = "APPROVAL_"

// DefaultApprovalExpiry is used when no expiry is configured.
const DefaultApprovalExpiry = 24 * time.Hour

// ErrNotPending is returned when deciding a request that is no longer
// waiting for a human.
var ErrNotPending = errors.New("approval request is not pending")

var (
	errStillPending   = errors.New("approval request has not expired")
	errRequestExpired = errors.New("approval request expired")
)

// ApprovalLifecycle creates, expires and resolves approval requests stored
// as records in the item store.
type ApprovalLifecycle interface {
	// Create stores req in Pending_Approval, assigning its ID, creation time
	// and expiry.
	Create(req *models.ApprovalRequest) (*models.ApprovalRequest, error)
	// ListPending runs the expiry sweep and returns the requests still
	// waiting for a decision.
	ListPending() ([]*models.ApprovalRequest, error)
	// SweepExpired moves every pending request past its deadline to Rejected
	// with resolution "expired", returning how many were moved.
	SweepExpired() (int, error)
	// Get finds a request in any folder.
	Get(id string) (*models.ApprovalRequest, error)
	// Decide records a human decision, moving the request to Approved or
	// Rejected.
	Decide(id string, approved bool, decidedBy, reason string) (*models.ApprovalRequest, error)
	// ListResolved returns the requests in Approved or Rejected.
	ListResolved(folder models.Folder) ([]*models.ApprovalRequest, error)
	// Complete moves a resolved request to Done with the given resolution.
	Complete(req *models.ApprovalRequest, resolution models.ApprovalStatus) error
}

// ApprovalOption configures an ApprovalLifecycle.
type ApprovalOption func(*approvalLifecycle)

// WithApprovalClock overrides the time source.
func WithApprovalClock(now func() time.Time) ApprovalOption {
	return func(a *approvalLifecycle) { a.now = now }
}

// WithApprovalLogger sets the runtime logger.
func WithApprovalLogger(logger *slog.Logger) ApprovalOption {
	return func(a *approvalLifecycle) { a.logger = logger }
}

// WithApprovalEvents sets the audit event logger.
func WithApprovalEvents(el EventLogger) ApprovalOption {
	return func(a *approvalLifecycle) { a.events = el }
}

type approvalLifecycle struct {
	store  storage.ItemStore
	expiry time.Duration
	now    func() time.Time
	logger *slog.Logger
	events EventLogger
}

// NewApprovalLifecycle creates an ApprovalLifecycle over store. A
// non-positive expiry selects DefaultApprovalExpiry.
func NewApprovalLifecycle(store storage.ItemStore, expiry time.Duration, opts ...ApprovalOption) ApprovalLifecycle {
	if expiry <= 0 {
		expiry = DefaultApprovalExpiry
	}
	a := &approvalLifecycle{
		store:  store,
		expiry: expiry,
		now:    time.Now,
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *approvalLifecycle) Create(req *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("creating approval request: request is nil")
	}

	out := *req
	out.ID = ApprovalIDPrefix + uuid.New().String()
	out.CreatedAt = a.now().UTC()
	if out.ExpiresAt.IsZero() {
		out.ExpiresAt = out.CreatedAt.Add(a.expiry)
	}
	if out.ActionType == "" {
		out.ActionType = models.ActionProcessItem
	}
	out.Status = models.ApprovalPending
	out.Folder = models.FolderPendingApproval

	if err := a.store.Create(models.FolderPendingApproval, out.ToWorkItem()); err != nil {
		return nil, fmt.Errorf("creating approval request: %w", err)
	}

	a.logger.Info("approval requested", "approval_id", out.ID, "action_type", out.ActionType, "related_item", out.RelatedItemID, "reason", out.Reason)
	logEvent(a.events, a.logger, EventApprovalCreated, map[string]any{
		"approval_id":  out.ID,
		"action_type":  string(out.ActionType),
		"related_item": out.RelatedItemID,
		"reason":       out.Reason,
		"channel":      string(out.Channel),
		"expires_at":   out.ExpiresAt.Format(time.RFC3339),
	})
	return &out, nil
}

func (a *approvalLifecycle) ListPending() ([]*models.ApprovalRequest, error) {
	if _, err := a.SweepExpired(); err != nil {
		return nil, err
	}

	var pending []*models.ApprovalRequest
	for item := range a.store.List(models.FolderPendingApproval) {
		if item.Kind != models.KindApprovalRequest {
			continue
		}
		req, err := models.ApprovalRequestFromItem(item)
		if err != nil {
			a.logger.Warn("skipping unreadable approval request", "id", item.ID, "error", err)
			continue
		}
		pending = append(pending, req)
	}
	return pending, nil
}

func (a *approvalLifecycle) SweepExpired() (int, error) {
	now := a.now()
	expired := 0
	for item := range a.store.List(models.FolderPendingApproval) {
		if item.Kind != models.KindApprovalRequest {
			continue
		}
		req, err := models.ApprovalRequestFromItem(item)
		if err != nil {
			a.logger.Warn("skipping unreadable approval request", "id", item.ID, "error", err)
			continue
		}
		if !req.Expired(now) {
			continue
		}

		_, err = a.store.Apply(models.FolderPendingApproval, item.ID, models.FolderRejected, func(fresh *models.WorkItem) error {
			freshReq, err := models.ApprovalRequestFromItem(fresh)
			if err != nil {
				return err
			}
			if !freshReq.Expired(now) {
				return errStillPending
			}
			fresh.Metadata.Set(models.MetaResolution, string(models.ApprovalExpired))
			fresh.Metadata.Set(models.MetaResolvedAt, now.UTC().Format(time.RFC3339))
			return nil
		})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, errStillPending) {
				continue
			}
			a.logger.Error("expiring approval request", "approval_id", item.ID, "error", err)
			continue
		}

		expired++
		a.logger.Info("approval expired", "approval_id", item.ID, "related_item", req.RelatedItemID)
		logEvent(a.events, a.logger, EventApprovalExpired, map[string]any{
			"approval_id":  item.ID,
			"action_type":  string(req.ActionType),
			"related_item": req.RelatedItemID,
			"age_hours":    now.Sub(req.CreatedAt).Hours(),
		})
	}
	return expired, nil
}

func (a *approvalLifecycle) Get(id string) (*models.ApprovalRequest, error) {
	item, err := a.store.Find(id)
	if err != nil {
		return nil, fmt.Errorf("getting approval request %s: %w", id, err)
	}
	return models.ApprovalRequestFromItem(item)
}

func (a *approvalLifecycle) Decide(id string, approved bool, decidedBy, reason string) (*models.ApprovalRequest, error) {
	target := models.FolderRejected
	if approved {
		target = models.FolderApproved
	}

	now := a.now()
	var expiredAt time.Time
	item, err := a.store.Apply(models.FolderPendingApproval, id, target, func(item *models.WorkItem) error {
		req, err := models.ApprovalRequestFromItem(item)
		if err != nil {
			return err
		}
		if req.Expired(now) {
			expiredAt = req.ExpiresAt
			return errRequestExpired
		}
		item.Metadata.SetIfNotEmpty(models.MetaDecidedBy, decidedBy)
		item.Metadata.SetIfNotEmpty(models.MetaDecisionReason, reason)
		item.Metadata.Set(models.MetaDecidedAt, now.UTC().Format(time.RFC3339))
		return nil
	})
	switch {
	case errors.Is(err, errRequestExpired):
		if _, err := a.SweepExpired(); err != nil {
			a.logger.Warn("expiring approval request", "approval_id", id, "error", err)
		}
		return nil, fmt.Errorf("deciding %s: request expired at %s: %w", id, expiredAt.Format(time.RFC3339), ErrNotPending)
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("deciding %s: %w", id, ErrNotPending)
	case err != nil:
		return nil, fmt.Errorf("deciding %s: %w", id, err)
	}

	decided, err := models.ApprovalRequestFromItem(item)
	if err != nil {
		return nil, err
	}
	a.logger.Info("approval decided", "approval_id", id, "approved", approved, "decided_by", decidedBy)
	logEvent(a.events, a.logger, EventApprovalDecided, map[string]any{
		"approval_id": id,
		"approved":    approved,
		"decided_by":  decidedBy,
		"reason":      reason,
	})
	return decided, nil
}

func (a *approvalLifecycle) ListResolved(folder models.Folder) ([]*models.ApprovalRequest, error) {
	if folder != models.FolderApproved && folder != models.FolderRejected {
		return nil, fmt.Errorf("listing resolved approvals: %s is not a resolution folder", folder)
	}

	var out []*models.ApprovalRequest
	for item := range a.store.List(folder) {
		if item.Kind != models.KindApprovalRequest {
			continue
		}
		req, err := models.ApprovalRequestFromItem(item)
		if err != nil {
			a.logger.Warn("skipping unreadable approval request", "id", item.ID, "error", err)
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (a *approvalLifecycle) Complete(req *models.ApprovalRequest, resolution models.ApprovalStatus) error {
	if req == nil {
		return fmt.Errorf("completing approval request: request is nil")
	}
	resolvedAt := a.now().UTC().Format(time.RFC3339)
	item, err := a.store.Apply(req.Folder, req.ID, models.FolderDone, func(item *models.WorkItem) error {
		// An expired request keeps its expired resolution.
		if item.Metadata.Get(models.MetaResolution) != string(models.ApprovalExpired) {
			item.Metadata.Set(models.MetaResolution, string(resolution))
		}
		item.Metadata.Set(models.MetaResolvedAt, resolvedAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("completing %s: %w", req.ID, err)
	}

	logEvent(a.events, a.logger, EventApprovalResolved, map[string]any{
		"approval_id":  req.ID,
		"action_type":  string(req.ActionType),
		"related_item": req.RelatedItemID,
		"resolution":   item.Metadata.Get(models.MetaResolution),
		"age_hours":    a.now().Sub(req.CreatedAt).Hours(),
	})
	return nil
}
