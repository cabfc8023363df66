package reporting

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"wstrace/internal/analysis"
)

// ReportName is the file written into the output directory.
const ReportName = "report.html"

// RunInfo is what the report needs beyond the counters.
type RunInfo struct {
	Input string
	Key   string
}

// GenerateRunReport writes an HTML report of the run into dir and returns
// its path.
func GenerateRunReport(stats *analysis.RunStats, info RunInfo, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create report directory")
	}
	filename := filepath.Join(dir, ReportName)

	sum := stats.Summary()
	flows := stats.GetFlows()
	arts := stats.GetArtifacts()
	warnings := stats.GetWarnings()

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>wstrace Report - %s</title>
    <style>
        body { font-family: sans-serif; margin: 20px; color: #333; }
        h1, h2 { color: #2c3e50; }
        table { width: 100%%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .summary { background: #eef; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
        .alert { color: #d9534f; font-weight: bold; }
    </style>
</head>
<body>
    <h1>wstrace Report</h1>
    <div class="summary">
        <p><strong>Capture:</strong> %s</p>
        <p><strong>Date:</strong> %s</p>
        <p><strong>Key:</strong> %s</p>
        <p><strong>Packets:</strong> %d (%s payload)</p>
        <p><strong>Exchanges:</strong> %d, <strong>recovered:</strong> %d, <strong>failed:</strong> %d</p>
        <p><strong>Bodies:</strong> %d decrypted, %d failed, %d skipped</p>
        <p><strong>Artifacts:</strong> %d (%s)</p>
    </div>
`,
		html.EscapeString(filepath.Base(info.Input)),
		html.EscapeString(info.Input),
		sum.Started.Format(time.RFC1123),
		html.EscapeString(info.Key),
		sum.Packets, humanize.IBytes(uint64(sum.PayloadBytes)),
		sum.Exchanges, sum.RecoveredExchanges, sum.FailedExchanges,
		sum.Recovered, sum.DecryptFails, sum.Skipped,
		sum.Artifacts, humanize.IBytes(uint64(sum.BytesWritten)))

	b.WriteString(`
    <h2>Flows</h2>
    <table>
        <thead>
            <tr>
                <th>#</th>
                <th>Conversation</th>
                <th>Packets</th>
                <th>Exchanges</th>
                <th>Recovered</th>
                <th>Failed</th>
            </tr>
        </thead>
        <tbody>
`)
	if len(flows) == 0 {
		b.WriteString("            <tr><td colspan=\"6\">No TCP flows in capture.</td></tr>\n")
	}
	for _, f := range flows {
		status := fmt.Sprintf("%d</td><td>%d", f.RecoveredExchanges, f.FailedExchanges)
		if f.Failed {
			status = `<span class="alert">reassembly failed</span></td><td>-`
		}
		fmt.Fprintf(&b, "            <tr><td>%03d</td><td>%s</td><td>%d</td><td>%d</td><td>%s</td></tr>\n",
			f.Ordinal, html.EscapeString(f.Label()), f.Packets, f.Exchanges, status)
	}

	b.WriteString(`        </tbody>
    </table>

    <h2>Artifacts</h2>
    <table>
        <thead>
            <tr>
                <th>File</th>
                <th>Kind</th>
                <th>Codec</th>
                <th>Size</th>
            </tr>
        </thead>
        <tbody>
`)
	if len(arts) == 0 {
		b.WriteString("            <tr><td colspan=\"4\">No artifacts recovered.</td></tr>\n")
	}
	for _, a := range arts {
		fmt.Fprintf(&b, "            <tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(a.Name), html.EscapeString(a.Name), a.Kind, html.EscapeString(a.Codec), humanize.IBytes(uint64(a.Size)))
	}

	b.WriteString(`        </tbody>
    </table>

    <h2>Warnings</h2>
    <table>
        <thead>
            <tr>
                <th>Kind</th>
                <th>Flow</th>
                <th>Exchange</th>
                <th>Message</th>
            </tr>
        </thead>
        <tbody>
`)
	if len(warnings) == 0 {
		b.WriteString("            <tr><td colspan=\"4\">No warnings.</td></tr>\n")
	}
	for _, w := range warnings {
		exchange := "-"
		if w.Exchange >= 0 {
			exchange = fmt.Sprintf("%d %s", w.Exchange, w.Side)
		}
		flow := "-"
		if w.Flow >= 0 {
			flow = fmt.Sprintf("%03d", w.Flow)
		}
		fmt.Fprintf(&b, "            <tr><td class=\"alert\">%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			w.Kind, flow, html.EscapeString(exchange), html.EscapeString(w.Message))
	}

	b.WriteString(`        </tbody>
    </table>
</body>
</html>`)

	if err := os.WriteFile(filename, []byte(b.String()), 0o644); err != nil {
		return "", errors.Wrap(err, "write report")
	}
	return filename, nil
}
