package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/internal/observability"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display item, approval and response metrics",
	Long: `Display aggregated metrics derived from the audit event log.

Metrics include processed and gated item counts, approval decisions and
expiries, and response outcomes per channel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := observability.ParseSince(metricsSince, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		m, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		fmt.Fprintf(out, "  %-26s %d\n", "Events recorded:", m.EventCount)
		fmt.Fprintf(out, "  %-26s %d\n", "Cycles:", m.Cycles)
		fmt.Fprintf(out, "  %-26s %d\n", "Items processed:", m.ItemsProcessed)
		fmt.Fprintf(out, "  %-26s %d\n", "Items gated:", m.ItemsGated)
		fmt.Fprintf(out, "  %-26s %d\n", "Items failed:", m.ItemsFailed)
		fmt.Fprintf(out, "  %-26s %d\n", "Items closed:", m.ItemsClosed)

		fmt.Fprintf(out, "\n  %-26s %d\n", "Approvals created:", m.ApprovalsCreated)
		fmt.Fprintf(out, "  %-26s %d\n", "Approvals approved:", m.ApprovalsApproved)
		fmt.Fprintf(out, "  %-26s %d\n", "Approvals rejected:", m.ApprovalsRejected)
		fmt.Fprintf(out, "  %-26s %d\n", "Approvals expired:", m.ApprovalsExpired)

		fmt.Fprintf(out, "\n  %-26s %d\n", "Responses queued:", m.ResponsesQueued)
		fmt.Fprintf(out, "  %-26s %d\n", "Responses gated:", m.ResponsesGated)
		fmt.Fprintf(out, "  %-26s %d\n", "Responses sent:", m.ResponsesSent)
		fmt.Fprintf(out, "  %-26s %d\n", "Responses failed:", m.ResponsesFailed)
		fmt.Fprintf(out, "  %-26s %d\n", "Responses rate limited:", m.ResponsesRateLimited)

		printCounts(out, "Items by kind", m.ItemsByKind)
		printCounts(out, "Sent by channel", m.SentByChannel)
		printCounts(out, "Failed by channel", m.FailedByChannel)

		if m.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-26s %s\n", "Oldest event:", m.OldestEvent.Format(time.RFC3339))
		}
		if m.NewestEvent != nil {
			fmt.Fprintf(out, "  %-26s %s\n", "Newest event:", m.NewestEvent.Format(time.RFC3339))
		}
		return nil
	},
}

// printCounts prints a titled map in key order. Empty maps print nothing.
func printCounts(out io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "\n  %s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(out, "    %-22s %d\n", k+":", counts[k])
	}
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
