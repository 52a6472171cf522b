package cli

import (
	"log/slog"

	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/internal/observability"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// Engine service instances, set during app initialization in app.go.
var (
	BasePath  string
	Config    *models.GlobalConfig
	Logger    *slog.Logger
	Store     storage.ItemStore
	Approvals core.ApprovalLifecycle
	Tracker   core.ConversationTracker
	Responder core.ResponseCoordinator
	Processor core.TaskProcessor
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)
