package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

var (
	conversationsAll         bool
	conversationsCleanupDays int
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List and clean up conversation contexts",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Tracker == nil {
			return fmt.Errorf("conversation tracker not initialized")
		}
		convs, err := Tracker.List()
		if err != nil {
			return fmt.Errorf("listing conversations: %w", err)
		}
		if !conversationsAll {
			convs = slices.DeleteFunc(convs, func(c *models.Conversation) bool { return !c.Active })
		}

		out := cmd.OutOrStdout()
		if len(convs) == 0 {
			fmt.Fprintln(out, "No conversations.")
			return nil
		}
		slices.SortFunc(convs, func(a, b *models.Conversation) int {
			return b.LastActivity.Compare(a.LastActivity)
		})

		fmt.Fprintf(out, "  %-42s %-9s %-28s %-9s %s\n", "ID", "CHANNEL", "WITH", "REPLIES", "LAST ACTIVITY")
		for _, c := range convs {
			state := ""
			if !c.Active {
				state = " (inactive)"
			}
			fmt.Fprintf(out, "  %-42s %-9s %-28s %-9d %s%s\n",
				c.ID, c.OriginalChannel, c.OriginalSender, len(c.Responses), c.LastActivity.Format("2006-01-02 15:04"), state)
		}
		return nil
	},
}

var conversationsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deactivate idle conversations and delete old inactive ones",
	Long: `Mark conversations idle for longer than conversations.active_days as
inactive, then delete inactive conversations idle for longer than --days
(conversations.cleanup_days by default).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Tracker == nil || Config == nil {
			return fmt.Errorf("conversation tracker not initialized")
		}
		days := conversationsCleanupDays
		if days <= 0 {
			days = Config.Conversations.CleanupDays
		}

		deactivated, err := Tracker.DeactivateStale(Config.Conversations.ActiveDays)
		if err != nil {
			return err
		}
		removed, err := Tracker.Cleanup(days)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d, deleted %d conversation(s)\n", deactivated, removed)
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().BoolVar(&conversationsAll, "all", false, "Include inactive conversations")
	conversationsCleanupCmd.Flags().IntVar(&conversationsCleanupDays, "days", 0, "Delete inactive conversations idle for more than this many days")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsCleanupCmd)
	rootCmd.AddCommand(conversationsCmd)
}
