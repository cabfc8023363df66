package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wstrace/internal/models"
)

func TestNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for flow := 0; flow < 3; flow++ {
		for ex := 0; ex < 3; ex++ {
			for _, side := range []models.Direction{models.ClientToServer, models.ServerToClient} {
				n := Name(&models.Artifact{Flow: flow, Exchange: ex, Side: side, Ext: "bin"})
				assert.False(t, seen[n], n)
				seen[n] = true
			}
		}
	}
	assert.Equal(t, "002-0001-resp.bin", Name(&models.Artifact{Flow: 2, Exchange: 1, Side: models.ServerToClient, Ext: "bin"}))
	assert.Equal(t, "000-0000-req.json", Name(&models.Artifact{Kind: models.StructuredText}))
	assert.Equal(t, "000-0000-req.txt", Name(&models.Artifact{Kind: models.PlainText}))
}

func TestWriteCreatesDirAndOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")
	w := NewWriter(dir)

	a := &models.Artifact{
		Flow: 1, Exchange: 2, Side: models.ServerToClient,
		Kind: models.StructuredText, Ext: "json",
		Data:      []byte(`{"status":"c3VjY2Vzcw=="}`),
		Companion: []byte(`{"status":"success"}`),
	}
	paths, err := w.Write(a)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "001-0002-resp.json"), paths[0])
	assert.Equal(t, filepath.Join(dir, "001-0002-resp.decoded.json"), paths[1])

	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	a.Data = []byte(`{}`)
	_, err = w.Write(a)
	require.NoError(t, err)
	got, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestWriteFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	// A directory occupying the target name makes that one write fail.
	blocked := &models.Artifact{Flow: 0, Exchange: 0, Side: models.ClientToServer, Ext: "txt", Data: []byte("x")}
	require.NoError(t, os.Mkdir(filepath.Join(dir, Name(blocked)), 0o755))

	_, err := w.Write(blocked)
	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, models.IoWriteError, werr.Kind())
	assert.Equal(t, 0, werr.Exchange)

	ok := &models.Artifact{Flow: 0, Exchange: 1, Side: models.ClientToServer, Ext: "txt", Data: []byte("y")}
	paths, err := w.Write(ok)
	require.NoError(t, err)
	require.Len(t, paths, 1)
}
