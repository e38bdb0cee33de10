package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(LevelInfo, &buf)
	require.NoError(t, err)

	l.Debug("hidden", "k", 1)
	l.Info("shown", "height", 42)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "height=42")
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(LevelError, &buf)
	require.NoError(t, err)
	l.Info("quiet")
	l.Error("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	buf.Reset()
	l, err = New(LevelDebug, &buf)
	require.NoError(t, err)
	l.Debug("details")
	assert.Contains(t, buf.String(), "details")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOpenFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "observer.log")
	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
