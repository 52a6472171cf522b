package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

var (
	respondChannel  string
	respondTo       string
	respondSubject  string
	respondMessage  string
	respondType     string
	respondPriority string
	respondReplyTo  string
	respondApproval bool
)

var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Send a response on a channel",
	Long: `Send an outbound response through the response coordinator.

Responses containing sensitive terms, of a gated type (e.g. legal), or sent
with --require-approval become approval requests instead of being sent. The
channel's rate limit applies. Use --message - to read the body from stdin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Responder == nil {
			return fmt.Errorf("responder not initialized")
		}

		ch, err := models.ParseChannel(respondChannel)
		if err != nil {
			return err
		}
		content := respondMessage
		if content == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading message from stdin: %w", err)
			}
			content = strings.TrimRight(string(data), "\n")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		res, err := Responder.SendDirect(ctx, core.ResponseRequest{
			OriginalMessageID: respondReplyTo,
			Channel:           ch,
			Recipient:         respondTo,
			Content:           content,
			Subject:           respondSubject,
			ResponseType:      respondType,
			Priority:          models.Priority(respondPriority),
			RequiresApproval:  respondApproval,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch res.Status {
		case models.ResponseApprovalRequired:
			fmt.Fprintf(out, "Approval required: %s (aie approvals approve %s)\n", res.ApprovalID, res.ApprovalID)
			return nil
		case models.ResponseSent:
			fmt.Fprintf(out, "Sent %s on %s to %s\n", res.ID, ch, respondTo)
			if res.ConversationID != "" {
				fmt.Fprintf(out, "Conversation: %s\n", res.ConversationID)
			}
			return nil
		}

		if rerr := res.Err(); rerr != nil {
			if errors.Is(rerr, core.ErrRateLimitExceeded) {
				return fmt.Errorf("%s rate limit reached, try again later: %w", ch, rerr)
			}
			return rerr
		}
		return fmt.Errorf("response %s ended as %s: %s", res.ID, res.Status, res.Error)
	},
}

func init() {
	respondCmd.Flags().StringVar(&respondChannel, "channel", string(models.ChannelEmail), "Channel to send on")
	respondCmd.Flags().StringVar(&respondTo, "to", "", "Recipient address or handle")
	respondCmd.Flags().StringVar(&respondSubject, "subject", "", "Subject (email)")
	respondCmd.Flags().StringVarP(&respondMessage, "message", "m", "", "Message body, or - to read stdin")
	respondCmd.Flags().StringVar(&respondType, "type", "reply", "Response type (reply, acknowledgement, legal, ...)")
	respondCmd.Flags().StringVar(&respondPriority, "priority", string(models.PriorityNormal), "Priority (high, normal, low)")
	respondCmd.Flags().StringVar(&respondReplyTo, "reply-to", "", "ID of the item being answered")
	respondCmd.Flags().BoolVar(&respondApproval, "require-approval", false, "Require a human approval before sending")
	_ = respondCmd.MarkFlagRequired("to")
	_ = respondCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(respondCmd)
}
