package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	aiemcp "github.com/valter-silva-au/ai-employee/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the aie MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aie MCP server on stdio",
	Long: `Start the aie MCP server on stdio transport.

The server exposes the engine as MCP tools that AI assistants can call:
run_cycle, list_pending_approvals, decide_approval, queue_response,
get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Processor == nil || Approvals == nil || Responder == nil {
			return fmt.Errorf("engine not initialized")
		}

		srv := aiemcp.NewServer(aiemcp.Services{
			Processor: Processor,
			Approvals: Approvals,
			Responder: Responder,
			Metrics:   MetricsCalc,
			Alerts:    AlertEngine,
		}, appVersion)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
