package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// defaultConfig is written by aie init. Every key shown is the built-in
// default, so deleting a line changes nothing.
const defaultConfig = `# AI employee configuration.
poll_interval: 30s
error_backoff: 60s

approval:
  expiry: 24h

policy:
  financial_terms: [payment, invoice, wire, transfer, refund, bank, purchase]
  urgency_terms: [urgent, asap, emergency, immediately]
  # rules:
  #   - name: legal
  #     category: legal
  #     keywords: [contract, nda, lawsuit]
  # rules_file: policy.yaml

responses:
  identity: assistant
  sensitive_terms: [password, bank account, wire transfer, confidential, contract, legal]
  always_gate_types: [legal, financial]
  queue_size: 100
  rate_limits:
    email: {limit: 10, window: 1h}
    linkedin: {limit: 5, window: 1h}
    whatsapp: {limit: 20, window: 1h}
    slack: {limit: 30, window: 1h}

# channels:
#   slack:
#     sender: webhook
#     webhook_url: https://hooks.slack.com/services/...

conversations:
  active_days: 30
  cleanup_days: 90

log:
  level: info
  format: text

notifications:
  enabled: false
  alerts:
    pending_approval_hours: 24
    max_dispatch_failures: 5
    max_rate_limited: 10
    max_error_items: 5
`

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize an AI employee workspace",
	Long: `Create the state folders (Inbox, Needs_Action, Pending_Approval, Approved,
Rejected, Done) and a default .aieconfig in the given directory.

Safe to run on an existing workspace -- folders and files that already
exist are left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		basePath := "."
		if len(args) > 0 {
			basePath = args[0]
		}
		absPath, err := filepath.Abs(basePath)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		out := cmd.OutOrStdout()
		if err := storage.NewItemStore(absPath, nil).EnsureLayout(); err != nil {
			return fmt.Errorf("creating folders: %w", err)
		}
		for _, f := range models.Folders() {
			fmt.Fprintf(out, "  %s/\n", f)
		}

		cfgPath := filepath.Join(absPath, core.ConfigFileName)
		_, statErr := os.Stat(cfgPath)
		switch {
		case statErr == nil:
			fmt.Fprintf(out, "Skipped %s (already exists)\n", core.ConfigFileName)
		case errors.Is(statErr, fs.ErrNotExist):
			if err := os.WriteFile(cfgPath, []byte(defaultConfig), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", core.ConfigFileName, err)
			}
			fmt.Fprintf(out, "Created %s\n", core.ConfigFileName)
		default:
			return fmt.Errorf("checking %s: %w", core.ConfigFileName, statErr)
		}

		fmt.Fprintf(out, "\nWorkspace initialized at %s\n", absPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
