package models

import (
	"slices"
	"time"
)

// ConversationResponse is one outbound reply recorded against a conversation.
type ConversationResponse struct {
	ID        string    `yaml:"id"`
	Content   string    `yaml:"content"`
	Sender    string    `yaml:"sender"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Conversation correlates an inbound originator on a channel with every
// reply sent back to them.
type Conversation struct {
	ID                string                 `yaml:"id"`
	OriginalChannel   Channel                `yaml:"original_channel"`
	OriginalSender    string                 `yaml:"original_sender"`
	OriginalMessageID string                 `yaml:"original_message_id,omitempty"`
	ThreadID          string                 `yaml:"thread_id"`
	Summary           string                 `yaml:"summary,omitempty"`
	Participants      []string               `yaml:"participants"`
	Responses         []ConversationResponse `yaml:"responses"`
	Active            bool                   `yaml:"active"`
	CreatedAt         time.Time              `yaml:"created_at"`
	LastActivity      time.Time              `yaml:"last_activity"`
}

// AddParticipant adds p unless already present.
func (c *Conversation) AddParticipant(p string) {
	if p == "" || slices.Contains(c.Participants, p) {
		return
	}
	c.Participants = append(c.Participants, p)
}

// Matches reports whether the conversation belongs to sender on channel.
func (c *Conversation) Matches(sender string, channel Channel) bool {
	return c.OriginalSender == sender && c.OriginalChannel == channel
}
