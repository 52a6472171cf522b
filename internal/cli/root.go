package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "aie",
	Short: "AI employee - file-based task processing with human approval",
	Long: `The AI employee (aie) watches a folder of work items, decides which ones
need a human's approval, carries out the rest, and sends replies on email,
chat and other channels under per-channel rate limits.

Work items move between the Inbox, Needs_Action, Pending_Approval, Approved,
Rejected and Done folders. Humans approve or reject requests with
"aie approvals" or by moving the request file themselves.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aie %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
