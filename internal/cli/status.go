package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

var statusFolder string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display record counts per folder",
	Long: `Display how many records sit in each state folder, in lifecycle order.

Use --folder to list the records of a single folder (e.g. --folder inbox or
--folder Pending_Approval). Output columns: ID, Kind, Status, From, Subject.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("item store not initialized")
		}
		out := cmd.OutOrStdout()

		if statusFolder != "" {
			folder, err := models.ParseFolder(statusFolder)
			if err != nil {
				return err
			}
			var items []*models.WorkItem
			for item := range Store.List(folder) {
				items = append(items, item)
			}
			printFolder(out, folder, items)
			return nil
		}

		counts, err := Store.Counts()
		if err != nil {
			return fmt.Errorf("counting records: %w", err)
		}
		total := 0
		fmt.Fprintf(out, "  %-18s %s\n", "FOLDER", "RECORDS")
		fmt.Fprintf(out, "  %-18s %s\n", "------", "-------")
		for _, f := range models.Folders() {
			fmt.Fprintf(out, "  %-18s %d\n", f, counts[f])
			total += counts[f]
		}
		fmt.Fprintf(out, "\n  %-18s %d\n", "Total", total)

		errored := 0
		for _, f := range []models.Folder{models.FolderInbox, models.FolderNeedsAction} {
			for item := range Store.List(f) {
				if item.Status == models.StatusError {
					errored++
				}
			}
		}
		if errored > 0 {
			fmt.Fprintf(out, "  %-18s %d (see aie items retry|close)\n", "Marked error", errored)
		}
		return nil
	},
}

// printFolder prints a table of records under a folder heading.
func printFolder(out io.Writer, folder models.Folder, items []*models.WorkItem) {
	fmt.Fprintf(out, "== %s (%d) ==\n", folder, len(items))
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "  %-44s %-18s %-10s %-24s %s\n", "ID", "KIND", "STATUS", "FROM", "SUBJECT")
	for _, item := range items {
		fmt.Fprintf(out, "  %-44s %-18s %-10s %-24s %s\n", item.ID, item.Kind, item.Status, item.Sender(), item.Subject())
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusFolder, "folder", "", "List the records of one folder")
	rootCmd.AddCommand(statusCmd)
}
