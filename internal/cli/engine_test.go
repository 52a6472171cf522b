package cli

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/internal/integration"
	"github.com/valter-silva-au/ai-employee/internal/observability"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// testEngine is a fully wired engine on a temporary workspace.
type testEngine struct {
	base   string
	cfg    *models.GlobalConfig
	store  storage.ItemStore
	events observability.EventLog
}

// newTestEngine wires real components into the package variables and
// restores the previous values when the test ends. mutate may adjust the
// default configuration first.
func newTestEngine(t *testing.T, mutate func(*models.GlobalConfig)) *testEngine {
	t.Helper()
	restoreVars(t)

	base := t.TempDir()
	cfg := core.DefaultGlobalConfig()
	if mutate != nil {
		mutate(cfg)
	}
	logger := slog.New(slog.DiscardHandler)

	store := storage.NewItemStore(base, logger)
	require.NoError(t, store.EnsureLayout())

	eventLog, err := observability.NewJSONLEventLog(filepath.Join(base, observability.EventLogFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eventLog.Close() })
	events := observability.NewAuditLogger(eventLog)

	set, err := core.NewPolicySet(cfg.Policy)
	require.NoError(t, err)
	policy := core.NewPolicyEvaluator(set, cfg.Responses.SensitiveTerms)
	approvals := core.NewApprovalLifecycle(store, cfg.Approval.Expiry, core.WithApprovalEvents(events))
	tracker := core.NewConversationTracker(storage.NewConversationStore(base), cfg.Conversations.ActiveDays)

	senders := core.NewSenderRegistry()
	for _, ch := range models.KnownChannels() {
		s, err := integration.NewFileSender(base, ch)
		require.NoError(t, err)
		require.NoError(t, senders.Register(s))
	}
	responder := core.NewResponseCoordinator(cfg.Responses, senders, approvals, policy, tracker,
		core.WithCoordinatorEvents(events),
		core.WithResponseLog(storage.NewResponseLog(base)),
	)
	processor := core.NewTaskProcessor(store, policy, approvals, responder,
		core.WithReplyComposer(core.NewAckComposer(cfg.Responses.Identity)),
		core.WithProcessorEvents(events),
	)

	BasePath = base
	Config = cfg
	Logger = logger
	Store = store
	Approvals = approvals
	Tracker = tracker
	Responder = responder
	Processor = processor
	EventLog = eventLog
	AlertEngine = observability.NewAlertEngine(eventLog, observability.ThresholdsFromConfig(cfg.Notifications.Alerts))
	MetricsCalc = observability.NewMetricsCalculator(eventLog)
	Notifier = nil

	return &testEngine{base: base, cfg: cfg, store: store, events: eventLog}
}

// restoreVars snapshots the package variables and restores them on cleanup.
func restoreVars(t *testing.T) {
	t.Helper()
	base, cfg, logger := BasePath, Config, Logger
	store, approvals, tracker, responder, processor := Store, Approvals, Tracker, Responder, Processor
	eventLog, alerts, metrics, notifier := EventLog, AlertEngine, MetricsCalc, Notifier
	t.Cleanup(func() {
		BasePath, Config, Logger = base, cfg, logger
		Store, Approvals, Tracker, Responder, Processor = store, approvals, tracker, responder, processor
		EventLog, AlertEngine, MetricsCalc, Notifier = eventLog, alerts, metrics, notifier
	})
}

func (e *testEngine) addEmail(t *testing.T, folder models.Folder, id, from, subject, body string) {
	t.Helper()
	var md models.Metadata
	md.Set(models.MetaFrom, from)
	md.SetIfNotEmpty(models.MetaSubject, subject)
	require.NoError(t, e.store.Create(folder, &models.WorkItem{ID: id, Kind: models.KindEmail, Metadata: md, Body: body}))
}

func (e *testEngine) ids(folder models.Folder) []string {
	var ids []string
	for item := range e.store.List(folder) {
		ids = append(ids, item.ID)
	}
	return ids
}

// execCmd runs c's RunE with output captured and a background context.
func execCmd(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return execCmdIn(t, c, "", args...)
}

// execCmdIn is execCmd with stdin reading from stdin.
func execCmdIn(t *testing.T, c *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetIn(strings.NewReader(stdin))
	c.SetContext(context.Background())
	t.Cleanup(func() {
		c.SetOut(nil)
		c.SetIn(nil)
	})
	err := c.RunE(c, args)
	return out.String(), err
}
