package main

import (
	"testing"

	"github.com/longregen/nlpdrive/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDriverWiresVariablesAndObjective(t *testing.T) {
	workDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.KeepDesigns = false

	spec := &problemSpec{
		Command: "./solve.sh",
		Variables: []variableSpec{
			{Name: "x", Initial: []float64{1, 2}, Lower: []float64{0, 0}, Upper: []float64{10, 10},
				Writer: sinkSpec{Type: "label", Label: "X=", File: "in.txt"}},
		},
		Objective: objectiveSpec{
			Name:  "cost",
			Sense: "min",
			Scale: 1,
			Weight: 1,
			Value: sinkSpec{Type: "label", Label: "F=", File: "out.txt"},
		},
		Equality: []constraintSpec{
			{Name: "eq1", Scale: 1, Tol: 1e-3, Target: 0,
				Value: sinkSpec{Type: "label", Label: "G1=", File: "out.txt"}},
		},
	}

	d, err := buildDriver(cfg, spec, workDir)
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, 2, d.GetNumVariables())
	assert.ElementsMatch(t, []string{"cost", "eq1"}, d.GetFunctionNames())
}

func TestBuildDriverRejectsBadWriterType(t *testing.T) {
	cfg := config.DefaultConfig()
	spec := &problemSpec{
		Command: "./solve.sh",
		Variables: []variableSpec{
			{Name: "x", Initial: []float64{1}, Lower: []float64{0}, Upper: []float64{10},
				Writer: sinkSpec{Type: "bogus"}},
		},
		Objective: objectiveSpec{
			Name:  "cost",
			Value: sinkSpec{Type: "label", Label: "F=", File: "out.txt"},
		},
	}

	_, err := buildDriver(cfg, spec, t.TempDir())
	assert.ErrorContains(t, err, "unknown writer type")
}
