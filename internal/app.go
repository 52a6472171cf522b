// Package internal provides the App struct that wires all components of the
// AI employee together and initializes the CLI layer.
package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/valter-silva-au/ai-employee/internal/cli"
	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/internal/integration"
	"github.com/valter-silva-au/ai-employee/internal/observability"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// HomeEnv names the environment variable that selects the base path.
const HomeEnv = "AIE_HOME"

// App holds all service dependencies of the AI employee.
type App struct {
	BasePath string
	Config   *models.GlobalConfig
	Logger   *slog.Logger

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	Store         storage.ItemStore
	Conversations storage.ConversationStore
	ResponseLog   storage.ResponseLog

	// Core services
	Policy    core.PolicyEvaluator
	Approvals core.ApprovalLifecycle
	Tracker   core.ConversationTracker
	Senders   core.SenderRegistry
	Responder core.ResponseCoordinator
	Processor core.TaskProcessor

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// Option configures NewApp.
type Option func(*appOptions)

type appOptions struct {
	logOutput io.Writer
}

// WithLogOutput sends the runtime log to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *appOptions) { o.logOutput = w }
}

// NewApp creates and wires all components. basePath is the root directory
// holding the state folders and .aieconfig.
func NewApp(basePath string, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg
	app.Logger = observability.NewLogger(cfg.Log, o.logOutput)

	// --- Storage layer ---
	app.Store = storage.NewItemStore(basePath, app.Logger)
	app.Conversations = storage.NewConversationStore(basePath)
	app.ResponseLog = storage.NewResponseLog(basePath)

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, observability.EventLogFileName))
	if err != nil {
		// Non-fatal: run without the audit log.
		app.Logger.Warn("audit log disabled", "error", err)
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = observability.NewAuditLogger(app.EventLog)
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.ThresholdsFromConfig(cfg.Notifications.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.Slack.WebhookURL)
	}

	// --- Core services ---
	policySet, err := core.LoadPolicySet(basePath, cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	app.Policy = core.NewPolicyEvaluator(policySet, cfg.Responses.SensitiveTerms)

	app.Approvals = core.NewApprovalLifecycle(app.Store, cfg.Approval.Expiry,
		core.WithApprovalLogger(app.Logger),
		core.WithApprovalEvents(events),
	)
	app.Tracker = core.NewConversationTracker(app.Conversations, cfg.Conversations.ActiveDays,
		core.WithConversationLogger(app.Logger),
	)

	app.Senders, err = buildSenders(basePath, cfg.Channels)
	if err != nil {
		return nil, err
	}
	app.Responder = core.NewResponseCoordinator(cfg.Responses, app.Senders, app.Approvals, app.Policy, app.Tracker,
		core.WithCoordinatorLogger(app.Logger),
		core.WithCoordinatorEvents(events),
		core.WithResponseLog(app.ResponseLog),
	)
	app.Processor = core.NewTaskProcessor(app.Store, app.Policy, app.Approvals, app.Responder,
		core.WithReplyComposer(core.NewAckComposer(cfg.Responses.Identity)),
		core.WithProcessorLogger(app.Logger),
		core.WithProcessorEvents(events),
	)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Logger = app.Logger
	cli.Store = app.Store
	cli.Approvals = app.Approvals
	cli.Tracker = app.Tracker
	cli.Responder = app.Responder
	cli.Processor = app.Processor

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Recover restores records a crashed process left claimed. Folders that do
// not exist yet are ignored.
func (a *App) Recover() error {
	n, err := a.Store.Recover()
	if err != nil {
		return fmt.Errorf("recovering claimed records: %w", err)
	}
	if n > 0 {
		a.Logger.Warn("recovered claimed records", "count", n)
	}
	return nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// buildSenders registers a sender for every known channel and every
// configured one. Channels default to the file outbox; disabled channels get
// no sender, so responses on them fail validation.
func buildSenders(basePath string, channels map[models.Channel]models.ChannelConfig) (core.SenderRegistry, error) {
	names := models.KnownChannels()
	for ch := range channels {
		if !slices.Contains(names, ch) {
			names = append(names, ch)
		}
	}
	slices.Sort(names)

	reg := core.NewSenderRegistry()
	for _, ch := range names {
		cc := channels[ch]
		if cc.Disabled {
			continue
		}

		var (
			sender core.ChannelSender
			err    error
		)
		switch cc.Sender {
		case models.SenderWebhook:
			sender, err = integration.NewWebhookSender(ch, cc.WebhookURL, nil)
		case models.SenderFile, "":
			sender, err = integration.NewFileSender(basePath, ch)
		default:
			err = fmt.Errorf("unknown sender %q", cc.Sender)
		}
		if err != nil {
			return nil, fmt.Errorf("configuring channel %s: %w", ch, err)
		}
		if err := reg.Register(sender); err != nil {
			return nil, fmt.Errorf("configuring channel %s: %w", ch, err)
		}
	}
	return reg, nil
}

// ResolveBasePath determines the base path for the AI employee's data.
// It checks the AIE_HOME env var, then walks up from the current directory
// looking for .aieconfig, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}
