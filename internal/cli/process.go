package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processing cycle and exit",
	Long: `Process every new item in Inbox and Needs_Action, act on decided approval
requests, then dispatch the responses the cycle queued.

Useful from cron or when "aie run" is not running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Processor == nil || Responder == nil || Store == nil {
			return fmt.Errorf("engine not initialized")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if err := Store.EnsureLayout(); err != nil {
			return fmt.Errorf("creating folders: %w", err)
		}
		if _, err := Store.Recover(); err != nil {
			return fmt.Errorf("recovering claimed records: %w", err)
		}

		report, err := Processor.RunCycle(ctx)
		if err != nil {
			return err
		}
		dispatched := Responder.Drain(ctx)
		stats := Responder.Stats()

		out := cmd.OutOrStdout()
		items, approvals := report.Items, report.Approvals
		fmt.Fprintf(out, "Items:     %d processed, %d gated, %d replies, %d failed, %d skipped\n",
			items.Processed, items.Gated, items.Replies, items.Failed, items.Skipped)
		fmt.Fprintf(out, "Approvals: %d readmitted, %d dispatched, %d rejected, %d expired, %d failed\n",
			approvals.Readmitted, approvals.Dispatched, approvals.Rejected, approvals.Expired, approvals.Failed)
		fmt.Fprintf(out, "Responses: %d dispatched (%d sent, %d failed, %d rate limited)\n",
			dispatched, stats.Sent, stats.Failed, stats.RateLimited)

		errs := slices.Concat(items.Errors, approvals.Errors)
		for _, f := range stats.RecentFailures {
			errs = append(errs, fmt.Sprintf("%s: send on %s to %s failed: %s", f.ResponseID, f.Channel, f.Recipient, f.Error))
		}
		if len(errs) > 0 {
			fmt.Fprintln(out, "\nErrors:")
			for _, e := range errs {
				fmt.Fprintf(out, "  %s\n", e)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
