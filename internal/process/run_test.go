package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/longregen/nlpdrive/internal/nlperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSucceedsAndProducesExpectedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_000")
	r := New(dir, "echo 1.0 > out.dat")
	r.AddExpected("out.dat")

	require.NoError(t, r.Initialize())
	code, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, r.IsRun())

	data, err := os.ReadFile(filepath.Join(dir, "out.dat"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.0")
}

func TestRunNotInitializedReturnsProcessNotInitialized(t *testing.T) {
	r := New(t.TempDir(), "true")
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, nlperrors.ErrProcessNotInitialized)
}

func TestRunFailsAfterExhaustingMaxTries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_fail")
	r := New(dir, "true")
	r.AddExpected("never_written.dat")
	r.SetMaxTries(2)

	require.NoError(t, r.Initialize())
	_, err := r.Run(context.Background())
	require.Error(t, err)

	var rf *nlperrors.RunFailedError
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, 2, rf.Attempts)
	assert.Contains(t, rf.Missing[0], "never_written.dat")
}

func TestPollReturnsFalseWhileProcessIsStillRunning(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_slow")
	r := New(dir, "sleep 0.2 && echo done > out.dat")
	r.AddExpected("out.dat")

	require.NoError(t, r.Initialize())

	done, _, err := r.Poll()
	require.NoError(t, err)
	assert.False(t, done)

	require.Eventually(t, func() bool {
		done, _, err := r.Poll()
		return err == nil && done
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInitializeStagesDataAndConfigFiles(t *testing.T) {
	srcDir := t.TempDir()
	dataPath := filepath.Join(srcDir, "mesh.dat")
	require.NoError(t, os.WriteFile(dataPath, []byte("mesh"), 0o644))
	confPath := filepath.Join(srcDir, "solver.cfg")
	require.NoError(t, os.WriteFile(confPath, []byte("MACH = __MACH__\n"), 0o644))

	dir := filepath.Join(t.TempDir(), "run_stage")
	r := New(dir, "true")
	require.NoError(t, r.AddData(dataPath, Absolute))
	require.NoError(t, r.AddConfig(confPath))

	require.NoError(t, r.Initialize())

	_, err := os.Stat(filepath.Join(dir, "mesh.dat"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "solver.cfg"))
	assert.NoError(t, err)
}
