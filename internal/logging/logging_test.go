package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	log.WithField("flow", 3).Debug("hello")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, float64(3), entry["flow"])
}

func TestBadSettings(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "noisy", "text")
	assert.Error(t, err)
	_, err = New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestVerbosity(t *testing.T) {
	assert.Equal(t, "info", Verbosity("info", 0))
	assert.Equal(t, "debug", Verbosity("info", 1))
	assert.Equal(t, "trace", Verbosity("info", 5))
	assert.Equal(t, "debug", Verbosity("garbage", 1))
}
