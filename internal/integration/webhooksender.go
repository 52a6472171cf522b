package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// DefaultWebhookTimeout bounds a single webhook request.
const DefaultWebhookTimeout = 10 * time.Second

// webhookSender implements core.ChannelSender by posting a JSON payload to
// an incoming webhook URL (Slack-compatible: the text field carries the
// message).
type webhookSender struct {
	channel models.Channel
	url     string
	client  *http.Client
}

// NewWebhookSender creates a sender for channel that posts to url. A nil
// client selects one with DefaultWebhookTimeout.
func NewWebhookSender(channel models.Channel, url string, client *http.Client) (core.ChannelSender, error) {
	if channel == "" {
		return nil, fmt.Errorf("creating webhook sender: channel is empty")
	}
	if url == "" {
		return nil, fmt.Errorf("creating webhook sender for %s: url is empty", channel)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &webhookSender{channel: channel, url: url, client: client}, nil
}

func (s *webhookSender) Channel() models.Channel {
	return s.channel
}

type webhookPayload struct {
	Text           string `json:"text"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject,omitempty"`
	ResponseID     string `json:"response_id,omitempty"`
	Priority       string `json:"priority,omitempty"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type webhookReply struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

func (s *webhookSender) Send(ctx context.Context, recipient, content string, opts core.SendOptions) (*core.SendReceipt, error) {
	body, err := json.Marshal(webhookPayload{
		Text:           content,
		Channel:        string(s.channel),
		Recipient:      recipient,
		Subject:        opts.Subject,
		ResponseID:     opts.ResponseID,
		Priority:       string(opts.Priority),
		InReplyTo:      opts.OriginalMessageID,
		ConversationID: opts.ConversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s webhook payload: %w", s.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building %s webhook request: %w", s.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s webhook: %w", s.channel, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s webhook returned status %d: %s", s.channel, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	receipt := &core.SendReceipt{Status: "sent"}
	// Providers that answer with JSON may return a message id; plain "ok"
	// bodies are fine too.
	var reply webhookReply
	if json.Unmarshal(raw, &reply) == nil {
		receipt.ProviderMessageID = reply.MessageID
		if receipt.ProviderMessageID == "" {
			receipt.ProviderMessageID = reply.ID
		}
	}
	return receipt, nil
}
