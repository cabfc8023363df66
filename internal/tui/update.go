package tui

import (
	"strconv"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"wstrace/internal/pipeline"
)

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
			return m, tea.Quit
		}

	case EventMsg:
		m.event = pipeline.Event(msg)
		return m, nil

	case DoneMsg:
		m.refresh()
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *ProgressModel) refresh() {
	if m.stats == nil {
		return
	}
	m.flows = m.stats.GetFlows()
	rows := make([]table.Row, len(m.flows))
	for i, f := range m.flows {
		recovered := strconv.Itoa(f.RecoveredExchanges)
		if f.Failed {
			recovered = "failed"
		}
		rows[i] = table.Row{strconv.Itoa(f.Ordinal), f.Label(), strconv.Itoa(f.Exchanges), recovered}
	}
	m.table.SetRows(rows)
}
