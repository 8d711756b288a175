package iospec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLabelReplacerWrite(t *testing.T) {
	path := writeTemp(t, "in.cfg", "mach = __MACH__\nalpha = __MACH__\n")
	w := LabelReplacer{Label: "__MACH__"}
	require.NoError(t, w.Write(path, 0.85))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mach = 0.85\nalpha = 0.85\n", string(out))
}

func TestArrayLabelReplacerWrite(t *testing.T) {
	path := writeTemp(t, "in.cfg", "x = __X__\n")
	w := ArrayLabelReplacer{Label: "__X__", Delim: ";"}
	require.NoError(t, w.Write(path, []float64{1, 2, 3}))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x = 1;2;3\n", string(out))
}

func TestTableWriterReplacesRegion(t *testing.T) {
	path := writeTemp(t, "table.dat", "header\n0 0\n0 0\n0 0\nfooter\n")
	w := TableWriter{StartRow: 1, EndRow: 4, StartCol: 1, EndCol: 2}
	require.NoError(t, w.Write(path, []float64{1.1, 2.2, 3.3}))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "header\n0  1.1\n0  2.2\n0  3.3\nfooter\n", string(out))
}

func TestTableWriterRejectsLengthMismatch(t *testing.T) {
	path := writeTemp(t, "table.dat", "0 0\n0 0\n")
	w := TableWriter{StartRow: 0, EndRow: 2, StartCol: 0, EndCol: 1}
	err := w.Write(path, []float64{1.0})
	assert.Error(t, err)
}
