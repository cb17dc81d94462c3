package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleFormatterSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf)

	logger.WithFields(map[string]interface{}{"step": 3, "kind": "move"}).Infof("Moving arm")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "[INF] Moving arm")
	assert.True(t, strings.HasSuffix(line, "kind=move step=3"), "fields should be sorted: %q", line)
}

func TestSimpleFormatterTruncatesLevel(t *testing.T) {
	var buf bytes.Buffer
	NewWriterLogger(&buf).Warnf("careful")
	assert.Contains(t, buf.String(), "[WAR] careful")
}

func TestNewLogrusLoggerWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewLogrusLogger("debug", dir)
	require.NoError(t, err)
	logger.Debugf("hello %s", "file")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEB] hello file")
}
