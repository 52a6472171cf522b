package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/internal/integration"
	"github.com/valter-silva-au/ai-employee/pkg/models"
	"golang.org/x/sync/errgroup"
)

// alertCheckInterval is how often aie run evaluates alerts when
// notifications are enabled.
const alertCheckInterval = time.Hour

var runNoWatch bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the processing loop until interrupted",
	Long: `Start the AI employee: the response dispatch worker, a cycle every
poll_interval, and a file watcher that runs a cycle as soon as records land in
Inbox, Needs_Action, Approved or Rejected.

Stops cleanly on SIGINT or SIGTERM. Use --no-watch to rely on polling only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Processor == nil || Responder == nil || Store == nil || Config == nil {
			return fmt.Errorf("engine not initialized")
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runEngine(ctx, !runNoWatch)
	},
}

// runEngine supervises the dispatch worker and the triggers until ctx is
// done or one of them fails.
func runEngine(ctx context.Context, watch bool) error {
	if err := Store.EnsureLayout(); err != nil {
		return fmt.Errorf("creating folders: %w", err)
	}
	if n, err := Store.Recover(); err != nil {
		return fmt.Errorf("recovering claimed records: %w", err)
	} else if n > 0 {
		Logger.Warn("recovered claimed records", "count", n)
	}

	cycle := func(ctx context.Context) error {
		_, err := Processor.RunCycle(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Responder.Run(gctx)
	})
	g.Go(func() error {
		return integration.NewIntervalTrigger(cycle, Config.PollInterval, Config.ErrorBackoff, Logger).Run(gctx)
	})
	if watch {
		dirs := make([]string, 0, 4)
		for _, f := range []models.Folder{models.FolderInbox, models.FolderNeedsAction, models.FolderApproved, models.FolderRejected} {
			dirs = append(dirs, filepath.Join(Store.BasePath(), string(f)))
		}
		g.Go(func() error {
			return integration.NewWatchTrigger(cycle, dirs, integration.DefaultDebounce, Logger).Run(gctx)
		})
	}
	if Notifier != nil && AlertEngine != nil {
		g.Go(func() error {
			return integration.NewIntervalTrigger(notifyAlerts, alertCheckInterval, alertCheckInterval, Logger).Run(gctx)
		})
	}

	Logger.Info("engine started", "base_path", Store.BasePath(), "poll_interval", Config.PollInterval, "watch", watch)
	err := g.Wait()
	Logger.Info("engine stopped")
	return err
}

// notifyAlerts evaluates alerts and posts any that fire.
func notifyAlerts(_ context.Context) error {
	alerts, err := AlertEngine.Evaluate()
	if err != nil {
		return fmt.Errorf("evaluating alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}
	if err := Notifier.Notify(alerts); err != nil {
		return fmt.Errorf("sending alert notification: %w", err)
	}
	return nil
}

func init() {
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Disable the file watcher and rely on polling")
	rootCmd.AddCommand(runCmd)
}
