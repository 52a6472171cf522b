package models

import "time"

// ResponseStatus is the dispatch state of an outbound response.
type ResponseStatus string

const (
	ResponseQueued           ResponseStatus = "queued"
	ResponseApprovalRequired ResponseStatus = "approval_required"
	ResponseSending          ResponseStatus = "sending"
	ResponseSent             ResponseStatus = "sent"
	ResponseFailed           ResponseStatus = "failed"
)

// Priority is the urgency recorded on outbound responses and inbound items.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// OutboundResponse is a message queued for dispatch on a channel.
type OutboundResponse struct {
	ID                string
	OriginalMessageID string
	Channel           Channel
	Recipient         string
	Content           string
	ResponseType      string
	Priority          Priority
	Status            ResponseStatus
	Subject           string
	QueuedAt          time.Time
	SentAt            *time.Time
	ConversationID    string
	ProviderMessageID string
	Error             string
}

// ToWorkItem renders the response as an Outbox audit record. Outbox records
// are not part of the item state machine; the response status lives in the
// header.
func (r *OutboundResponse) ToWorkItem() *WorkItem {
	var md Metadata
	md.Set(MetaChannel, string(r.Channel))
	md.Set(MetaRecipient, r.Recipient)
	md.Set("response_status", string(r.Status))
	md.SetIfNotEmpty(MetaSubject, r.Subject)
	md.SetIfNotEmpty(MetaResponseType, r.ResponseType)
	md.SetIfNotEmpty(MetaPriority, string(r.Priority))
	md.SetIfNotEmpty(MetaOriginalMessage, r.OriginalMessageID)
	md.SetIfNotEmpty(MetaConversationID, r.ConversationID)
	if !r.QueuedAt.IsZero() {
		md.Set(MetaQueuedAt, r.QueuedAt.UTC().Format(time.RFC3339))
	}
	if r.SentAt != nil {
		md.Set(MetaSentAt, r.SentAt.UTC().Format(time.RFC3339))
	}
	md.SetIfNotEmpty(MetaProviderID, r.ProviderMessageID)
	md.SetIfNotEmpty(MetaError, r.Error)

	return &WorkItem{
		ID:        r.ID,
		Kind:      KindOutboundResponse,
		CreatedAt: r.QueuedAt,
		Metadata:  md,
		Body:      r.Content,
	}
}
