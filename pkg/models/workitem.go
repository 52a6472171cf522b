package models

import (
	"fmt"
	"time"
)

// Kind identifies what a work item record represents.
type Kind string

const (
	KindEmail            Kind = "email"
	KindFileDrop         Kind = "file_drop"
	KindChatMessage      Kind = "chat_message"
	KindApprovalRequest  Kind = "approval_request"
	KindOutboundResponse Kind = "outbound_response"
)

// Status represents the processing state of a work item.
type Status string

const (
	StatusNew      Status = "new"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDone     Status = "done"
	StatusError    Status = "error"
)

// Folder is the logical directory holding a record. A record's folder is
// its state.
type Folder string

const (
	FolderInbox           Folder = "Inbox"
	FolderNeedsAction     Folder = "Needs_Action"
	FolderPendingApproval Folder = "Pending_Approval"
	FolderApproved        Folder = "Approved"
	FolderRejected        Folder = "Rejected"
	FolderDone            Folder = "Done"
)

// Folders returns every state folder in lifecycle order.
func Folders() []Folder {
	return []Folder{
		FolderInbox,
		FolderNeedsAction,
		FolderPendingApproval,
		FolderApproved,
		FolderRejected,
		FolderDone,
	}
}

// StatusForFolder maps a folder to the status every record in it carries
// (records marked StatusError excepted).
func StatusForFolder(f Folder) Status {
	switch f {
	case FolderInbox, FolderNeedsAction:
		return StatusNew
	case FolderPendingApproval:
		return StatusInReview
	case FolderApproved:
		return StatusApproved
	case FolderRejected:
		return StatusRejected
	case FolderDone:
		return StatusDone
	default:
		return ""
	}
}

// ParseFolder accepts a folder name case-insensitively, with or without the
// underscore (e.g. "needs_action", "NeedsAction", "pending-approval").
func ParseFolder(s string) (Folder, error) {
	norm := normalizeFolderName(s)
	for _, f := range Folders() {
		if normalizeFolderName(string(f)) == norm {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown folder %q", s)
}

func normalizeFolderName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '-' || c == ' ':
			continue
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// WorkItem is a unit of inbound content (or an approval/outbound record)
// persisted as a markdown file with a YAML header.
type WorkItem struct {
	ID        string
	Kind      Kind
	Status    Status
	Folder    Folder
	CreatedAt time.Time
	Metadata  Metadata
	Body      string
}

// IsNew reports whether the item is waiting to be processed.
func (w *WorkItem) IsNew() bool {
	return w.Status == StatusNew
}

// Subject returns the subject header, if any.
func (w *WorkItem) Subject() string {
	return w.Metadata.Get("subject")
}

// Sender returns the originator of the item ("from" header).
func (w *WorkItem) Sender() string {
	return w.Metadata.Get("from")
}
