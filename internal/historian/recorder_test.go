package historian

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLogFileCreatesWritableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	f, err := OpenLogFile(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("iter         objective\n")
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "objective")
}

func TestOpenHistoryFileTruncatesExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.his")
	require.NoError(t, os.WriteFile(path, []byte("stale content"), 0o644))

	f, err := OpenHistoryFile(path)
	require.NoError(t, err)
	defer f.Close()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(contents))
}

func TestRecorderWithoutPostgresIsANoop(t *testing.T) {
	r := NewRecorder(nil, nil, nil, nil)
	err := r.RecordIteration(context.Background(), 1, "log line", "history line", 3.5, map[string]float64{"drag": 3.5})
	require.NoError(t, err)
}

func TestRecorderCloseClosesLocalFiles(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	logFile, err := OpenLogFile(logPath)
	require.NoError(t, err)

	r := NewRecorder(logFile, nil, nil, nil)
	require.NoError(t, r.Close())

	_, err = logFile.WriteString("x")
	assert.Error(t, err, "file should already be closed")
}
