package models

import (
	"fmt"
	"time"
)

// ApprovalStatus is the resolution state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalActionType says what happens once a request is approved.
type ApprovalActionType string

const (
	// ActionProcessItem re-admits the related work item into processing.
	ActionProcessItem ApprovalActionType = "process_item"
	// ActionSendResponse dispatches the outbound response described by the request.
	ActionSendResponse ApprovalActionType = "send_response"
)

// Header keys used by approval request records.
const (
	MetaRelatedItem     = "related_item"
	MetaAction          = "action"
	MetaActionType      = "action_type"
	MetaRecipient       = "recipient"
	MetaReason          = "reason"
	MetaAmount          = "amount"
	MetaExpires         = "expires"
	MetaResolution      = "resolution"
	MetaDecidedBy       = "decided_by"
	MetaDecisionReason  = "decision_reason"
	MetaChannel         = "channel"
	MetaResponseType    = "response_type"
	MetaPriority        = "priority"
	MetaSubject         = "subject"
	MetaOriginalMessage = "original_message"
	MetaApprovalID      = "approval_id"
	MetaApprovalReason  = "approval_reason"
	MetaApprovalStatus  = "approval_status"
	MetaError           = "error"
	MetaProcessedAt     = "processed_at"
	MetaFrom            = "from"
	MetaConversationID  = "conversation_id"
	MetaProviderID      = "provider_message_id"
	MetaSentAt          = "sent_at"
	MetaQueuedAt        = "queued_at"
	MetaResolvedAt      = "resolved_at"
	MetaDecidedAt       = "decided_at"
)

// ApprovalRequest is a human-in-the-loop gate stored as a work item of
// KindApprovalRequest.
type ApprovalRequest struct {
	ID             string
	RelatedItemID  string
	Action         string
	ActionType     ApprovalActionType
	Recipient      string
	Reason         string
	Amount         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         ApprovalStatus
	Folder         Folder
	DecidedBy      string
	DecisionReason string

	// Set for ActionSendResponse requests.
	Channel           Channel
	ResponseType      string
	Priority          Priority
	Subject           string
	OriginalMessageID string
	Content           string
}

// Expired reports whether the request deadline has passed at now.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ToWorkItem renders the request as a storable record.
func (r *ApprovalRequest) ToWorkItem() *WorkItem {
	var md Metadata
	md.Set(MetaActionType, string(r.ActionType))
	md.Set(MetaAction, r.Action)
	md.SetIfNotEmpty(MetaRelatedItem, r.RelatedItemID)
	md.SetIfNotEmpty(MetaRecipient, r.Recipient)
	md.SetIfNotEmpty(MetaReason, r.Reason)
	md.SetIfNotEmpty(MetaAmount, r.Amount)
	if !r.ExpiresAt.IsZero() {
		md.Set(MetaExpires, r.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if r.ActionType == ActionSendResponse {
		md.Set(MetaChannel, string(r.Channel))
		md.SetIfNotEmpty(MetaResponseType, r.ResponseType)
		md.SetIfNotEmpty(MetaPriority, string(r.Priority))
		md.SetIfNotEmpty(MetaSubject, r.Subject)
		md.SetIfNotEmpty(MetaOriginalMessage, r.OriginalMessageID)
	}
	md.SetIfNotEmpty(MetaDecidedBy, r.DecidedBy)
	md.SetIfNotEmpty(MetaDecisionReason, r.DecisionReason)
	if r.Status == ApprovalExpired {
		md.Set(MetaResolution, string(ApprovalExpired))
	}

	folder := r.Folder
	if folder == "" {
		folder = FolderPendingApproval
	}
	return &WorkItem{
		ID:        r.ID,
		Kind:      KindApprovalRequest,
		Status:    StatusForFolder(folder),
		Folder:    folder,
		CreatedAt: r.CreatedAt,
		Metadata:  md,
		Body:      r.Content,
	}
}

// ApprovalRequestFromItem parses an approval record. The status is derived
// from the record's folder and resolution header.
func ApprovalRequestFromItem(item *WorkItem) (*ApprovalRequest, error) {
	if item == nil {
		return nil, fmt.Errorf("parsing approval request: item is nil")
	}
	if item.Kind != KindApprovalRequest {
		return nil, fmt.Errorf("parsing approval request %s: kind is %q", item.ID, item.Kind)
	}

	md := item.Metadata
	r := &ApprovalRequest{
		ID:                item.ID,
		RelatedItemID:     md.Get(MetaRelatedItem),
		Action:            md.Get(MetaAction),
		ActionType:        ApprovalActionType(md.Get(MetaActionType)),
		Recipient:         md.Get(MetaRecipient),
		Reason:            md.Get(MetaReason),
		Amount:            md.Get(MetaAmount),
		CreatedAt:         item.CreatedAt,
		Folder:            item.Folder,
		DecidedBy:         md.Get(MetaDecidedBy),
		DecisionReason:    md.Get(MetaDecisionReason),
		Channel:           Channel(md.Get(MetaChannel)),
		ResponseType:      md.Get(MetaResponseType),
		Priority:          Priority(md.Get(MetaPriority)),
		Subject:           md.Get(MetaSubject),
		OriginalMessageID: md.Get(MetaOriginalMessage),
		Content:           item.Body,
	}
	if r.ActionType == "" {
		r.ActionType = ActionProcessItem
	}

	if raw := md.Get(MetaExpires); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing approval request %s: expires: %w", item.ID, err)
		}
		r.ExpiresAt = t
	}

	r.Status = approvalStatusFor(item.Folder, md.Get(MetaResolution))
	return r, nil
}

func approvalStatusFor(folder Folder, resolution string) ApprovalStatus {
	if resolution == string(ApprovalExpired) {
		return ApprovalExpired
	}
	switch folder {
	case FolderPendingApproval:
		return ApprovalPending
	case FolderApproved:
		return ApprovalApproved
	case FolderRejected:
		return ApprovalRejected
	case FolderDone:
		switch ApprovalStatus(resolution) {
		case ApprovalApproved:
			return ApprovalApproved
		case ApprovalRejected:
			return ApprovalRejected
		}
		return ApprovalRejected
	}
	return ApprovalPending
}
