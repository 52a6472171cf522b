package core

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// SendOptions carries the optional attributes of an outbound message.
type SendOptions struct {
	ResponseID        string
	Subject           string
	ResponseType      string
	Priority          models.Priority
	OriginalMessageID string
	ConversationID    string
}

// SendReceipt is what a channel reports after accepting a message.
type SendReceipt struct {
	Status            string
	ProviderMessageID string
}

// ChannelSender delivers outbound messages on one channel.
type ChannelSender interface {
	Channel() models.Channel
	Send(ctx context.Context, recipient, content string, opts SendOptions) (*SendReceipt, error)
}

// SenderRegistry holds the channel senders known to the coordinator.
type SenderRegistry interface {
	Register(sender ChannelSender) error
	Get(channel models.Channel) (ChannelSender, error)
	Channels() []models.Channel
}

type senderRegistry struct {
	mu      sync.RWMutex
	senders map[models.Channel]ChannelSender
}

// NewSenderRegistry creates an empty SenderRegistry.
func NewSenderRegistry() SenderRegistry {
	return &senderRegistry{senders: make(map[models.Channel]ChannelSender)}
}

func (r *senderRegistry) Register(sender ChannelSender) error {
	if sender == nil {
		return fmt.Errorf("registering channel sender: sender is nil")
	}
	ch := sender.Channel()
	if ch == "" {
		return fmt.Errorf("registering channel sender: channel is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.senders[ch]; exists {
		return fmt.Errorf("registering channel sender: channel %q already registered", ch)
	}
	r.senders[ch] = sender
	return nil
}

func (r *senderRegistry) Get(channel models.Channel) (ChannelSender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sender, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", channel)
	}
	return sender, nil
}

func (r *senderRegistry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}
