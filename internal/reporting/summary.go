package reporting

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"wstrace/internal/analysis"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failStyle   = cellStyle.Foreground(lipgloss.Color("#D9534F"))
)

// RenderSummary formats the end-of-run summary for the terminal.
func RenderSummary(stats *analysis.RunStats, info RunInfo, outDir string) string {
	sum := stats.Summary()

	var b strings.Builder
	b.WriteString(titleStyle.Render("wstrace - " + info.Input))
	b.WriteString("\n")
	fmt.Fprintf(&b, "key %s, %d packets (%s payload) in %s\n",
		info.Key, sum.Packets, humanize.IBytes(uint64(sum.PayloadBytes)), sum.Elapsed.Round(time.Millisecond))

	flows := stats.GetFlows()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("#", "Conversation", "Exchanges", "Recovered", "Failed").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(flows) && flows[row].Failed {
				return failStyle
			}
			return cellStyle
		})
	for _, f := range flows {
		recovered, failed := strconv.Itoa(f.RecoveredExchanges), strconv.Itoa(f.FailedExchanges)
		if f.Failed {
			recovered, failed = "reassembly failed", "-"
		}
		t.Row(fmt.Sprintf("%03d", f.Ordinal), f.Label(), strconv.Itoa(f.Exchanges), recovered, failed)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	if codecs := stats.GetCodecStats(); len(codecs) > 0 {
		parts := make([]string, len(codecs))
		for i, c := range codecs {
			parts[i] = fmt.Sprintf("%s: %d", c.Codec, c.Count)
		}
		fmt.Fprintf(&b, "codecs: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "exchanges %d: recovered %d, failed %d\n",
		sum.Exchanges, sum.RecoveredExchanges, sum.FailedExchanges)
	fmt.Fprintf(&b, "bodies: decrypted %d, failed %d, skipped %d\n",
		sum.Recovered, sum.DecryptFails, sum.Skipped)
	fmt.Fprintf(&b, "%d artifacts (%s) written to %s\n",
		sum.Artifacts, humanize.IBytes(uint64(sum.BytesWritten)), outDir)
	if sum.Warnings > 0 {
		fmt.Fprintf(&b, "%d warnings, see log\n", sum.Warnings)
	}
	return b.String()
}
