package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-employee/internal/observability"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// Dashboard panel indices.
const (
	panelFolders = iota
	panelApprovals
	panelMetrics
	panelAlerts
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	folderCounts map[models.Folder]int
	approvals    []approvalSnapshot
	metricsData  *metricsSnapshot
	alerts       []alertSnapshot

	// Approval selection and last decision feedback.
	cursor int
	notice string

	loading bool
	err     error
}

type approvalSnapshot struct {
	id        string
	action    string
	recipient string
	expires   time.Time
}

type metricsSnapshot struct {
	processed   int
	gated       int
	approved    int
	rejected    int
	sent        int
	failed      int
	rateLimited int
	eventCount  int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	folderCounts map[models.Folder]int
	approvals    []approvalSnapshot
	metrics      *metricsSnapshot
	alerts       []alertSnapshot
	err          error
}

// decisionMsg reports the outcome of an approve or reject key press.
type decisionMsg struct {
	id       string
	approved bool
	err      error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	folderActive  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	folderWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	folderDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	folderReject  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel:  panelFolders,
		loading:      true,
		folderCounts: make(map[models.Folder]int),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		case "up", "k":
			if m.activePanel == panelApprovals && m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.activePanel == panelApprovals && m.cursor < len(m.approvals)-1 {
				m.cursor++
			}
			return m, nil
		case "a", "x":
			if m.activePanel != panelApprovals || len(m.approvals) == 0 {
				return m, nil
			}
			return m, decideCmd(m.approvals[m.cursor].id, msg.String() == "a")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case decisionMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Decision failed: %s", msg.err)
			return m, nil
		}
		verb := "Rejected"
		if msg.approved {
			verb = "Approved"
		}
		m.notice = fmt.Sprintf("%s %s", verb, msg.id)
		m.loading = true
		return m, loadData

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.folderCounts = msg.folderCounts
		m.approvals = msg.approvals
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		if m.cursor >= len(m.approvals) {
			m.cursor = max(len(m.approvals)-1, 0)
		}
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" AIE Dashboard ")
	help := helpStyle.Render("tab: switch panel | j/k: select | a: approve | x: reject | r: refresh | q: quit")
	if m.notice != "" {
		help = m.notice + "\n" + help
	}

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	panels := []string{
		m.renderFoldersPanel(),
		m.renderApprovalsPanel(),
		m.renderMetricsPanel(),
		m.renderAlertsPanel(),
	}

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		// Two by two grid.
		colWidth := availableWidth / 2
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], colWidth-4)
		}
		top := lipgloss.JoinHorizontal(lipgloss.Top, panels[panelFolders], panels[panelApprovals])
		bottom := lipgloss.JoinHorizontal(lipgloss.Top, panels[panelMetrics], panels[panelAlerts])
		body = lipgloss.JoinVertical(lipgloss.Left, top, bottom)
	} else {
		panelWidth := max(availableWidth-4, 20)
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], panelWidth)
		}
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderFoldersPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Folders"))
	b.WriteString("\n")

	total := 0
	for _, f := range models.Folders() {
		n := m.folderCounts[f]
		total += n
		label := fmt.Sprintf("  %-18s %d", f, n)
		b.WriteString(styleForFolder(f).Render(label))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n  Total: %d", total)
	return b.String()
}

func (m dashboardModel) renderApprovalsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Pending approvals"))
	b.WriteString("\n")

	if len(m.approvals) == 0 {
		b.WriteString("  Nothing waiting.")
		return b.String()
	}

	for i, a := range m.approvals {
		line := fmt.Sprintf("  %s  %s", a.action, a.id)
		if a.recipient != "" {
			line += " -> " + a.recipient
		}
		if i == m.cursor && m.activePanel == panelApprovals {
			line = selectedStyle.Render("> " + strings.TrimPrefix(line, "  "))
		}
		b.WriteString(line)
		fmt.Fprintf(&b, "\n     expires %s\n", a.expires.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value int
	}{
		{"Events", md.eventCount},
		{"Processed", md.processed},
		{"Gated", md.gated},
		{"Approved", md.approved},
		{"Rejected", md.rejected},
		{"Sent", md.sent},
		{"Failed", md.failed},
		{"Rate limited", md.rateLimited},
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "  %-14s %d\n", l.label, l.value)
	}
	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		fmt.Fprintf(&b, "  %s %s\n", sev, a.message)
	}
	fmt.Fprintf(&b, "\n  Total: %d alert(s)", len(m.alerts))
	return b.String()
}

func styleForFolder(f models.Folder) lipgloss.Style {
	switch f {
	case models.FolderInbox, models.FolderNeedsAction:
		return folderActive
	case models.FolderPendingApproval, models.FolderApproved:
		return folderWaiting
	case models.FolderDone:
		return folderDone
	case models.FolderRejected:
		return folderReject
	default:
		return lipgloss.NewStyle()
	}
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func decideCmd(id string, approve bool) tea.Cmd {
	return func() tea.Msg {
		if Approvals == nil {
			return decisionMsg{id: id, approved: approve, err: fmt.Errorf("approvals not initialized")}
		}
		by := os.Getenv("USER")
		if by == "" {
			by = "dashboard"
		}
		_, err := Approvals.Decide(id, approve, by, "")
		return decisionMsg{id: id, approved: approve, err: err}
	}
}

func loadData() tea.Msg {
	result := dataLoadedMsg{
		folderCounts: make(map[models.Folder]int),
	}

	if Store != nil {
		counts, err := Store.Counts()
		if err != nil {
			result.err = fmt.Errorf("loading folder counts: %w", err)
			return result
		}
		result.folderCounts = counts
	}

	if Approvals != nil {
		pending, err := Approvals.ListPending()
		if err != nil {
			result.err = fmt.Errorf("loading approvals: %w", err)
			return result
		}
		for _, req := range pending {
			result.approvals = append(result.approvals, approvalSnapshot{
				id:        req.ID,
				action:    req.Action,
				recipient: req.Recipient,
				expires:   req.ExpiresAt,
			})
		}
	}

	if MetricsCalc != nil {
		since := time.Now().UTC().AddDate(0, 0, -7)
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			processed:   metrics.ItemsProcessed,
			gated:       metrics.ItemsGated,
			approved:    metrics.ApprovalsApproved,
			rejected:    metrics.ApprovalsRejected,
			sent:        metrics.ResponsesSent,
			failed:      metrics.ResponsesFailed,
			rateLimited: metrics.ResponsesRateLimited,
			eventCount:  metrics.EventCount,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		// High severity first.
		slices.SortStableFunc(alerts, func(a, b observability.Alert) int {
			return a.Severity.Rank() - b.Severity.Rank()
		})
		result.alerts = make([]alertSnapshot, 0, len(alerts))
		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for folders, approvals, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing folder counts, pending
approvals, metrics and alerts.

Navigate between panels with Tab and refresh with r. In the approvals panel
select a request with j/k, approve it with a or reject it with x.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil || Approvals == nil {
			return fmt.Errorf("engine not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
