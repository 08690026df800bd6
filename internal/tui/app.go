package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/analyst/internal/models"
	"github.com/mpataki/analyst/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewAsk
	ViewStep
)

// Service is the subset of the orchestrator the TUI drives.
type Service interface {
	Answer(ctx context.Context, req models.Request) models.Output
	ListRuns(limit int) ([]*models.Run, error)
	GetRun(id int64) (*models.Run, error)
	GetExecutionsForRun(runID int64) ([]*models.Execution, error)
	DeleteRun(id int64) error
}

const listLimit = 20

type App struct {
	svc Service
	ctx context.Context

	view            View
	runs            []*models.Run
	selectedIdx     int
	selectedRun     *models.Run
	executions      []*models.Execution
	selectedExecIdx int

	question   textinput.Model
	formatHint textinput.Model
	spinner    spinner.Model
	asking     bool
	lastAnswer *models.Output

	width  int
	height int
	err    error
}

func NewApp(ctx context.Context, svc Service) *App {
	q := textinput.New()
	q.Placeholder = "How many orders were placed in 1997?"
	q.CharLimit = 500
	q.Width = 70

	hint := textinput.New()
	hint.Placeholder = models.DefaultFormatHint
	hint.CharLimit = 60
	hint.Width = 30

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning

	return &App{
		svc:        svc,
		ctx:        ctx,
		view:       ViewRunList,
		question:   q,
		formatHint: hint,
		spinner:    sp,
	}
}

func (a *App) Init() tea.Cmd {
	return a.loadRuns
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case spinner.TickMsg:
		if !a.asking {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case runDetailMsg:
		a.selectedRun = msg.run
		a.executions = msg.executions
		a.selectedExecIdx = 0
		a.err = msg.err
		if a.err == nil {
			a.view = ViewRunDetail
		}
		return a, nil

	case answeredMsg:
		a.asking = false
		a.lastAnswer = &msg.output
		a.question.Reset()
		a.formatHint.Reset()
		a.view = ViewRunList
		a.selectedIdx = 0
		return a, a.loadRuns

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewAsk:
		return a.handleAskKey(msg)
	case ViewStep:
		return a.handleStepKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if run := a.currentRun(); run != nil {
			return a, a.loadRunDetail(run.ID)
		}

	case "n":
		a.view = ViewAsk
		a.err = nil
		a.formatHint.Blur()
		return a, a.question.Focus()

	case "r":
		return a, a.loadRuns

	case "d":
		if run := a.currentRun(); run != nil {
			return a, a.deleteRun(run.ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.executions = nil
		a.selectedExecIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedExecIdx > 0 {
			a.selectedExecIdx--
		}

	case "down", "j":
		if a.selectedExecIdx < len(a.executions)-1 {
			a.selectedExecIdx++
		}

	case "enter":
		if len(a.executions) > 0 {
			a.view = ViewStep
		}
	}

	return a, nil
}

func (a *App) handleStepKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) handleAskKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.asking {
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		return a, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit

	case "esc":
		a.view = ViewRunList
		a.question.Blur()
		a.formatHint.Blur()
		return a, nil

	case "tab", "shift+tab":
		if a.question.Focused() {
			a.question.Blur()
			return a, a.formatHint.Focus()
		}
		a.formatHint.Blur()
		return a, a.question.Focus()

	case "enter":
		question := strings.TrimSpace(a.question.Value())
		if question == "" {
			a.err = fmt.Errorf("question is required")
			return a, nil
		}
		a.err = nil
		a.asking = true
		req := models.Request{Question: question, FormatHint: strings.TrimSpace(a.formatHint.Value())}
		return a, tea.Batch(a.spinner.Tick, a.ask(req))
	}

	var cmd tea.Cmd
	if a.question.Focused() {
		a.question, cmd = a.question.Update(msg)
	} else {
		a.formatHint, cmd = a.formatHint.Update(msg)
	}
	return a, cmd
}

func (a *App) currentRun() *models.Run {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.runs) {
		return nil
	}
	return a.runs[a.selectedIdx]
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewAsk:
		return a.viewAsk()
	case ViewStep:
		return a.viewStep()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDegraded = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("57")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Analyst") + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if a.lastAnswer != nil {
		s += answerStyle.Render(formatAnswer(*a.lastAnswer)) + "\n\n"
	}

	if len(a.runs) == 0 {
		s += "No questions yet. Press 'n' to ask one.\n"
	} else {
		s += "Recent Questions\n"
		s += "────────────────\n"

		for i, run := range a.runs {
			line := a.formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [n] ask  [d] delete  [r] refresh  [q] quit")
	return s
}

func (a *App) formatRunLine(run *models.Run) string {
	status := formatStatus(run.Status)
	age := storage.FormatTimeAgo(run.CreatedAt)
	route := string(run.Route)
	if route == "" {
		route = "-"
	}
	return fmt.Sprintf("#%-3d %-6s %s  %-8s  %s", run.ID, route, status, age, truncate(run.Question, 45))
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running ")
	case models.RunStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.RunStatusDegraded:
		return statusDegraded.Render("⚠ degraded")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed  ")
	default:
		return fmt.Sprintf("%-10s", status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}
	run := a.selectedRun

	s := titleStyle.Render(fmt.Sprintf("Run #%d", run.ID)) + "  " + formatStatus(run.Status) + "\n\n"
	s += run.Question + "\n\n"

	s += labelStyle.Render("Route:       ") + string(run.Route) + "\n"
	s += labelStyle.Render("Format hint: ") + run.FormatHint + "\n"
	s += labelStyle.Render("Confidence:  ") + fmt.Sprintf("%.1f", run.Confidence) + "\n"
	if run.SQLQuery != "" {
		s += labelStyle.Render("SQL:         ") + dimStyle.Render(run.SQLQuery) + "\n"
	}
	if len(run.Citations) > 0 {
		s += labelStyle.Render("Citations:   ") + strings.Join(run.Citations, ", ") + "\n"
	}
	if run.FinalAnswer != "" {
		s += "\n" + answerStyle.Render(run.FinalAnswer) + "\n"
	}

	s += "\nSteps\n"
	s += "─────\n"

	if len(a.executions) == 0 {
		s += "(no steps recorded)\n"
	}
	for i, exec := range a.executions {
		line := formatExecLine(exec)
		if i == a.selectedExecIdx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] step detail  [esc] back")
	return s
}

func formatExecLine(exec *models.Execution) string {
	status := "○"
	switch exec.Status {
	case models.ExecStatusComplete:
		status = statusComplete.Render("✓")
	case models.ExecStatusRunning:
		status = statusRunning.Render("●")
	case models.ExecStatusFailed:
		status = statusFailed.Render("✗")
	}

	line := fmt.Sprintf("%2d. %-12s %s", exec.SequenceNum, exec.Node, status)
	if exec.Attempt > 0 {
		line += dimStyle.Render(fmt.Sprintf("  attempt %d", exec.Attempt))
	}
	if exec.StartedAt != nil && exec.CompletedAt != nil {
		line += "  " + dimStyle.Render(formatDuration(exec.CompletedAt.Sub(*exec.StartedAt)))
	}
	return line
}

func (a *App) viewStep() string {
	if a.selectedExecIdx >= len(a.executions) {
		return "No step selected"
	}
	exec := a.executions[a.selectedExecIdx]

	s := titleStyle.Render(fmt.Sprintf("Step %d: %s", exec.SequenceNum, exec.Node)) + "\n\n"
	s += formatDetail(exec.Detail) + "\n"
	s += "\n" + helpStyle.Render("[esc] back")
	return s
}

func (a *App) viewAsk() string {
	s := titleStyle.Render("Ask a Question") + "\n\n"
	s += labelStyle.Render("Question") + "\n" + a.question.View() + "\n\n"
	s += labelStyle.Render("Format hint") + "\n" + a.formatHint.View() + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(a.err.Error()) + "\n\n"
	}
	if a.asking {
		s += a.spinner.View() + " thinking...\n\n"
	}

	s += helpStyle.Render("[tab] switch field  [enter] ask  [esc] cancel")
	return s
}

// formatDetail renders a step detail map with keys in a stable order.
func formatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return "(no detail)"
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := detail[k]
		var text string
		switch val := v.(type) {
		case string:
			text = val
		default:
			data, err := json.Marshal(val)
			if err != nil {
				text = fmt.Sprint(val)
			} else {
				text = string(data)
			}
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(k+":"), text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAnswer(out models.Output) string {
	answer, err := json.Marshal(out.FinalAnswer)
	if err != nil {
		answer = []byte(fmt.Sprint(out.FinalAnswer))
	}
	s := fmt.Sprintf("%s  %s", string(answer), dimStyle.Render(fmt.Sprintf("confidence %.1f", out.Confidence)))
	if out.Explanation != "" {
		s += "\n" + dimStyle.Render(out.Explanation)
	}
	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run        *models.Run
	executions []*models.Execution
	err        error
}

type answeredMsg struct {
	output models.Output
}

type runDeletedMsg struct {
	runID int64
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.svc.ListRuns(listLimit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.svc.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		execs, err := a.svc.GetExecutionsForRun(id)
		return runDetailMsg{run: run, executions: execs, err: err}
	}
}

func (a *App) ask(req models.Request) tea.Cmd {
	return func() tea.Msg {
		return answeredMsg{output: a.svc.Answer(a.ctx, req)}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.svc.DeleteRun(id); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: id}
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
