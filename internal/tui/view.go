package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"wstrace/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)
)

func (m ProgressModel) View() string {
	title := titleStyle.Render(fmt.Sprintf("wstrace - %s", m.input))

	status := m.spinner.View() + " " + m.event.Stage.String()
	switch {
	case m.done && m.err != nil:
		status = "failed: " + m.err.Error()
	case m.done:
		status = "done"
	case m.cancelled:
		status = "cancelling"
	}

	progress := fmt.Sprintf("%s\nPackets: %d\nFlows: %d/%d\nArtifacts: %d\nWarnings: %d",
		status, m.event.Packets, m.event.FlowsDone, m.event.Flows, m.event.Artifacts, m.event.Warnings)
	if m.event.Stage == pipeline.StageLoading && m.event.Message != "" {
		progress += "\n" + m.event.Message
	}
	progressBox := infoStyle.Render(progress)

	flowBox := infoStyle.Render("Flows\n" + m.table.View())

	body := lipgloss.JoinVertical(lipgloss.Left, title, progressBox, flowBox)
	if m.done {
		return body + "\n"
	}
	return body + "\nPress q to stop."
}
