package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerWritesToRotateFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Level: "warn", Dir: dir, Prefix: "match"})
	require.NoError(t, err)

	l.Slog().Info("dropped")
	l.Slog().Warn("kept", "ticket", "t-1")
	l.SetLevel(slog.LevelDebug)
	l.Slog().Debug("now visible")
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "match.*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	out := string(data)
	assert.False(t, strings.Contains(out, "dropped"))
	assert.Contains(t, out, "ticket=t-1")
	assert.Contains(t, out, "now visible")
}
