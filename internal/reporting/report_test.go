package reporting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wstrace/internal/analysis"
	"wstrace/internal/models"
)

func sampleStats() *analysis.RunStats {
	stats := analysis.NewRunStats()
	client := models.Endpoint{Addr: "192.168.56.1", Port: 50000}
	server := models.Endpoint{Addr: "192.168.56.101", Port: 8080}

	stats.ProcessPacket(models.Packet{Src: client, Payload: make([]byte, 500)})
	stats.ProcessPacket(models.Packet{Src: server, Payload: make([]byte, 300)})
	stats.AddFlow(0, client, server, 2)
	stats.AddFlow(1, client, models.Endpoint{Addr: "10.1.1.1", Port: 80}, 4)
	stats.FlowFailed(1)
	stats.AddExchanges(0, 1)
	stats.Recovered(0, "aes-ecb")
	stats.ExchangeDone(0, 1, 1)
	stats.Written(analysis.ArtifactEntry{Name: "000-0000-req.txt", Kind: models.PlainText, Codec: "aes-ecb", Size: 2048})
	stats.Warn(analysis.Warning{Kind: models.DecryptError, Flow: 0, Exchange: 0, Side: "resp", Message: "<script>alert(1)</script>"})
	stats.Finish()
	return stats
}

func TestGenerateRunReport(t *testing.T) {
	dir := t.TempDir()
	filename, err := GenerateRunReport(sampleStats(), RunInfo{Input: "/cases/shell.pcapng", Key: "e45e329feb5d925b"}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ReportName), filename)

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	html := string(content)

	assert.Contains(t, html, "wstrace Report")
	assert.Contains(t, html, "shell.pcapng")
	assert.Contains(t, html, "192.168.56.1:50000 -&gt; 192.168.56.101:8080 (HTTP-Alt)")
	assert.Contains(t, html, "reassembly failed")
	assert.Contains(t, html, `<a href="000-0000-req.txt">`)
	assert.Contains(t, html, "2.0 KiB")
	assert.Contains(t, html, "<strong>Exchanges:</strong> 1, <strong>recovered:</strong> 0, <strong>failed:</strong> 1")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "<script>")
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(sampleStats(), RunInfo{Input: "shell.pcapng", Key: "e45e329feb5d925b"}, "output")
	assert.Contains(t, out, "shell.pcapng")
	assert.Contains(t, out, "HTTP-Alt")
	assert.Contains(t, out, "reassembly failed")
	assert.Contains(t, out, "aes-ecb: 1")
	assert.Contains(t, out, "exchanges 1: recovered 0, failed 1")
	assert.Contains(t, out, "bodies: decrypted 1, failed 1, skipped 0")
	assert.Contains(t, out, "1 artifacts (2.0 KiB) written to output")
	assert.Contains(t, out, "1 warnings")
}
