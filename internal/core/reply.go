package core

import (
	"fmt"
	"strings"

	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// AcknowledgementType is the response type of composed acknowledgements.
const AcknowledgementType = "acknowledgement"

type ackComposer struct {
	signature string
}

// NewAckComposer returns a ReplyComposer that answers emails and chat
// messages with a short acknowledgement signed with signature. Email
// replies go to the "from" header; chat replies go to "from" on the channel
// named by the "channel" header.
func NewAckComposer(signature string) ReplyComposer {
	return &ackComposer{signature: signature}
}

func (c *ackComposer) Compose(item *models.WorkItem) (ResponseRequest, bool) {
	recipient := strings.TrimSpace(item.Sender())
	if recipient == "" {
		return ResponseRequest{}, false
	}

	var channel models.Channel
	switch item.Kind {
	case models.KindEmail:
		channel = models.ChannelEmail
	case models.KindChatMessage:
		ch, err := models.ParseChannel(item.Metadata.Get(models.MetaChannel))
		if err != nil {
			return ResponseRequest{}, false
		}
		channel = ch
	default:
		return ResponseRequest{}, false
	}

	subject := item.Subject()
	var body strings.Builder
	if subject != "" {
		fmt.Fprintf(&body, "Thanks for your message about %q. ", subject)
	} else {
		body.WriteString("Thanks for your message. ")
	}
	body.WriteString("I've received it and will follow up shortly.")
	if c.signature != "" {
		fmt.Fprintf(&body, "\n\n%s", c.signature)
	}

	req := ResponseRequest{
		OriginalMessageID: item.ID,
		Channel:           channel,
		Recipient:         recipient,
		Content:           body.String(),
		ResponseType:      AcknowledgementType,
		Priority:          models.Priority(item.Metadata.Get(models.MetaPriority)),
	}
	if channel == models.ChannelEmail && subject != "" {
		req.Subject = "Re: " + strings.TrimPrefix(subject, "Re: ")
	}
	return req, true
}
