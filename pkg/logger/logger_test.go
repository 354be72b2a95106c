package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "router.log")
	log, err := New(Config{Level: "info", Format: "json", Output: "file", File: file, MaxSize: 1})
	require.NoError(t, err)
	log.Info("hello")
	assert.FileExists(t, file)
}

func TestWithFields_DoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(Config{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	base.SetOutput(&buf)

	child := base.DomainLogger("example.com").WithField("pool", "be_api")
	child.Info("pool added")
	base.Info("plain")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "example.com", first["domain"])
	assert.Equal(t, "be_api", first["pool"])
	assert.NotContains(t, second, "domain")
}

func TestSetLevelString(t *testing.T) {
	log := NewNop()
	require.NoError(t, log.SetLevelString("debug"))
	assert.Equal(t, "debug", log.GetLevel().String())
	assert.Error(t, log.SetLevelString("nope"))
}
