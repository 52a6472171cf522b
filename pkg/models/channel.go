package models

import (
	"fmt"
	"strings"
)

// Channel identifies an outbound communication channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSlack    Channel = "slack"
)

// KnownChannels lists the channels with built-in defaults. Other channel
// names are accepted as long as a sender is registered for them.
func KnownChannels() []Channel {
	return []Channel{ChannelEmail, ChannelLinkedIn, ChannelWhatsApp, ChannelSlack}
}

// ParseChannel normalises a channel name. Any non-empty name is valid.
func ParseChannel(s string) (Channel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return "", fmt.Errorf("channel name is empty")
	}
	return Channel(name), nil
}

// ChannelSenderType selects the sender implementation for a channel.
type ChannelSenderType string

const (
	SenderFile    ChannelSenderType = "file"
	SenderWebhook ChannelSenderType = "webhook"
)

// ChannelConfig holds per-channel sender settings.
type ChannelConfig struct {
	Sender     ChannelSenderType `yaml:"sender" mapstructure:"sender"`
	WebhookURL string            `yaml:"webhook_url,omitempty" mapstructure:"webhook_url"`
	Disabled   bool              `yaml:"disabled,omitempty" mapstructure:"disabled"`
}
