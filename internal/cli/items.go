package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeReason string

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Close or retry individual work items",
	Long: `Commands for work items the cycle left behind: items whose approval was
rejected stay in Pending_Approval, and items whose processing failed stay where
they were with status error.`,
}

var itemsCloseCmd = &cobra.Command{
	Use:   "close <item-id>",
	Short: "Move a rejected or failed item to Done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Processor == nil {
			return fmt.Errorf("processor not initialized")
		}
		item, err := Processor.CloseItem(args[0], closeReason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Closed %s (%s)\n", item.ID, item.Kind)
		return nil
	},
}

var itemsRetryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Clear an item's error status so the next cycle retries it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Processor == nil {
			return fmt.Errorf("processor not initialized")
		}
		item, err := Processor.RetryItem(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s will be retried on the next cycle (%s)\n", item.ID, item.Folder)
		return nil
	},
}

func init() {
	itemsCloseCmd.Flags().StringVar(&closeReason, "reason", "", "Reason recorded on the item")
	itemsCmd.AddCommand(itemsCloseCmd, itemsRetryCmd)
	rootCmd.AddCommand(itemsCmd)
}
