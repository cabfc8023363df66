package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"wstrace/internal/analysis"
	"wstrace/internal/pipeline"
)

// TickMsg asks the model to refresh from the run stats.
type TickMsg time.Time

// EventMsg carries a pipeline progress event.
type EventMsg pipeline.Event

// DoneMsg ends the view when the run finishes.
type DoneMsg struct {
	Err error
}

type ProgressModel struct {
	stats   *analysis.RunStats
	input   string
	cancel  context.CancelFunc
	spinner spinner.Model
	table   table.Model

	event     pipeline.Event
	flows     []analysis.FlowSummary
	done      bool
	err       error
	cancelled bool
}

func NewProgressModel(stats *analysis.RunStats, input string, cancel context.CancelFunc) ProgressModel {
	columns := []table.Column{
		{Title: "#", Width: 4},
		{Title: "Conversation", Width: 52},
		{Title: "Exchanges", Width: 10},
		{Title: "Recovered", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return ProgressModel{
		stats:   stats,
		input:   input,
		cancel:  cancel,
		spinner: sp,
		table:   t,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
