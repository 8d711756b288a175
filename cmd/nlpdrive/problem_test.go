package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/longregen/nlpdrive/internal/iospec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProblemFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "problem.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProblemSpec(t *testing.T) {
	path := writeProblemFile(t, `{
		"command": "./solve.sh",
		"variables": [
			{"name": "x", "initial": [1], "lower": [0], "upper": [10], "writer": {"type": "label", "label": "X="}}
		],
		"objective": {
			"name": "cost", "sense": "min", "scale": 1, "weight": 1,
			"value": {"type": "label", "label": "F=", "file": "out.txt"}
		}
	}`)

	spec, err := loadProblemSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "./solve.sh", spec.Command)
	require.Len(t, spec.Variables, 1)
	assert.Equal(t, "x", spec.Variables[0].Name)
	assert.Equal(t, "min", spec.Objective.Sense)
}

func TestLoadProblemSpecRejectsMissingCommand(t *testing.T) {
	path := writeProblemFile(t, `{"variables": [{"name": "x", "initial": [1]}]}`)
	_, err := loadProblemSpec(path)
	assert.ErrorContains(t, err, "command is required")
}

func TestLoadProblemSpecRejectsNoVariables(t *testing.T) {
	path := writeProblemFile(t, `{"command": "./solve.sh", "variables": []}`)
	_, err := loadProblemSpec(path)
	assert.ErrorContains(t, err, "at least one variable")
}

func TestLoadProblemSpecMissingFile(t *testing.T) {
	_, err := loadProblemSpec(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSinkSpecWriter(t *testing.T) {
	t.Run("label without delim", func(t *testing.T) {
		s := sinkSpec{Type: "label", Label: "X="}
		w, err := s.writer()
		require.NoError(t, err)
		assert.Equal(t, iospec.LabelReplacer{Label: "X="}, w)
	})

	t.Run("label with delim uses array replacer", func(t *testing.T) {
		s := sinkSpec{Type: "label", Label: "X=", Delim: ","}
		w, err := s.writer()
		require.NoError(t, err)
		assert.Equal(t, iospec.ArrayLabelReplacer{Label: "X=", Delim: ","}, w)
	})

	t.Run("table", func(t *testing.T) {
		s := sinkSpec{Type: "table", Row: 2, Col: 3}
		w, err := s.writer()
		require.NoError(t, err)
		assert.Equal(t, iospec.TableWriter{StartRow: 2, EndRow: 3, StartCol: 3, EndCol: 4}, w)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := sinkSpec{Type: "bogus"}.writer()
		assert.ErrorContains(t, err, "unknown writer type")
	})
}

func TestSinkSpecParser(t *testing.T) {
	t.Run("label", func(t *testing.T) {
		s := sinkSpec{Type: "label", Label: "F=", Delim: ";"}
		p, err := s.parser()
		require.NoError(t, err)
		assert.Equal(t, iospec.PreStringHandler{Label: "F=", Delim: ";"}, p)
	})

	t.Run("table defaults row and col to whole selection", func(t *testing.T) {
		s := sinkSpec{Type: "table"}
		p, err := s.parser()
		require.NoError(t, err)
		tr, ok := p.(iospec.TableReader)
		require.True(t, ok)
		assert.Equal(t, -1, tr.Row)
		assert.Equal(t, -1, tr.Col)
	})

	t.Run("table with explicit row and col", func(t *testing.T) {
		s := sinkSpec{Type: "table", Row: 1, Col: 2}
		p, err := s.parser()
		require.NoError(t, err)
		tr, ok := p.(iospec.TableReader)
		require.True(t, ok)
		assert.Equal(t, 1, tr.Row)
		assert.Equal(t, 2, tr.Col)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := sinkSpec{Type: "bogus"}.parser()
		assert.ErrorContains(t, err, "unknown parser type")
	})
}
