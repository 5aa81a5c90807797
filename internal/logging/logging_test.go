package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTextConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(Options{Level: "info"}, &buf)
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("engine")
	log.Debug("hidden")
	log.WithField("call_id", "c1").Info("dial")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "call_id=c1")
	assert.Contains(t, out, "msg=dial")
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(Options{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Component("ami").Debug("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ami", entry["component"])
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
}

func TestSetupWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callflow.log")
	var buf bytes.Buffer
	l, err := Setup(Options{File: path, MaxSizeMB: 1, MaxBackups: 1}, &buf)
	require.NoError(t, err)

	l.Component("run").Warn("reconnecting")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reconnecting")
	assert.Contains(t, buf.String(), "reconnecting")
}

func TestSetupRejectsBadOptions(t *testing.T) {
	_, err := Setup(Options{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = Setup(Options{Format: "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "log format")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("nothing") })
}
