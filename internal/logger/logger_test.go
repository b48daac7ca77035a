package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/gapura/pkg/redact"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gapura.log")

	l, err := New(Config{Level: "info", File: path}, nil)
	require.NoError(t, err)

	zl := l.Zerolog()
	zl.Info().Str("tool", "system.noop").Msg("Tool run finalized")
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Tool run finalized")
	assert.Contains(t, string(raw), "system.noop")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "loud"}, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "info", l.Zerolog().GetLevel().String())
}

func TestRedactingWriter_ScrubsSecrets(t *testing.T) {
	var buf bytes.Buffer
	w := &redactingWriter{writer: &buf, redactor: redact.New()}

	line := `{"level":"info","message":"calling api with sk-ant-REDACTED"}`
	n, err := w.Write([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	out := buf.String()
	assert.NotContains(t, out, "sk-ant-REDACTED")
	assert.Contains(t, out, "[REDACTED:")
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotate.log")

	w, err := NewRotatingWriter(path, 1, 0, false)
	require.NoError(t, err)
	defer w.Close()

	// Force rotation by pretending the file is already near the cap
	w.currentSize = w.maxSize - 1

	_, err = w.Write([]byte(strings.Repeat("x", 64)))
	require.NoError(t, err)

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "expected one rotated file")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(64), info.Size())
}
