package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	decisionReason string
	decisionBy     string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and decide approval requests",
	Long: `Commands for working with approval requests in Pending_Approval.

A decision only moves the request to Approved or Rejected; the next cycle
acts on it.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests waiting for a decision",
	Long: `List pending approval requests. Requests past their expiry are moved to
Rejected first and are not shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Approvals == nil {
			return fmt.Errorf("approvals not initialized")
		}

		pending, err := Approvals.ListPending()
		if err != nil {
			return fmt.Errorf("listing approvals: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			fmt.Fprintln(out, "No pending approvals.")
			return nil
		}

		fmt.Fprintf(out, "%d pending approval(s):\n\n", len(pending))
		for _, req := range pending {
			fmt.Fprintf(out, "  %s\n", req.ID)
			fmt.Fprintf(out, "    action:  %s (%s)\n", req.Action, req.ActionType)
			if req.RelatedItemID != "" {
				fmt.Fprintf(out, "    item:    %s\n", req.RelatedItemID)
			}
			if req.Channel != "" {
				fmt.Fprintf(out, "    channel: %s -> %s\n", req.Channel, req.Recipient)
			}
			fmt.Fprintf(out, "    reason:  %s\n", req.Reason)
			fmt.Fprintf(out, "    expires: %s\n\n", req.ExpiresAt.Format("2006-01-02 15:04 UTC"))
		}
		return nil
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], true)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], false)
	},
}

func decide(cmd *cobra.Command, id string, approve bool) error {
	if Approvals == nil {
		return fmt.Errorf("approvals not initialized")
	}

	by := decisionBy
	if by == "" {
		by = os.Getenv("USER")
	}
	if by == "" {
		by = "cli"
	}

	req, err := Approvals.Decide(id, approve, by, decisionReason)
	if err != nil {
		return err
	}

	verb := "Rejected"
	if approve {
		verb = "Approved"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) at %s\n", verb, req.ID, req.Action, time.Now().UTC().Format("2006-01-02 15:04 UTC"))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{approvalsApproveCmd, approvalsRejectCmd} {
		c.Flags().StringVar(&decisionReason, "reason", "", "Reason recorded with the decision")
		c.Flags().StringVar(&decisionBy, "by", "", "Who decided (defaults to $USER)")
	}
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)
	rootCmd.AddCommand(approvalsCmd)
}
