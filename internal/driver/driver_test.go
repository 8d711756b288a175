package driver

import (
	"context"
	"os"
	"testing"

	"github.com/longregen/nlpdrive/internal/funcpipeline"
	"github.com/longregen/nlpdrive/internal/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// restoreCwd keeps Evaluate/Fun's working-directory rotation (which chdir's
// the whole process) from leaking into later tests in this package.
func restoreCwd(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// fakeFunc is a minimal funcpipeline.FunctionLike with no evaluation chain:
// its value and gradient are computed in-process from a linear law, so tests
// can exercise DriverBase/ParallelEvalDriver/ExteriorPenaltyDriver without
// spawning any subprocess.
type fakeFunc struct {
	name     string
	v        *variable.InputVariable
	weight   float64
	gradient float64
}

func (f *fakeFunc) GetName() string                             { return f.name }
func (f *fakeFunc) GetVariables() []*variable.InputVariable      { return []*variable.InputVariable{f.v} }
func (f *fakeFunc) GetParameters() []*variable.Parameter         { return nil }
func (f *fakeFunc) GetValueEvalChain() []funcpipeline.Eval       { return nil }
func (f *fakeFunc) GetGradientEvalChain() []funcpipeline.Eval    { return nil }
func (f *fakeFunc) ResetValueEvalChain()                        {}
func (f *fakeFunc) ResetGradientEvalChain()                     {}

func (f *fakeFunc) GetValue() (float64, error) {
	return f.weight * f.v.Current[0], nil
}

func (f *fakeFunc) GetGradient(mask funcpipeline.VarMask) ([]float64, error) {
	size := 0
	for v := range mask {
		size += v.Size
	}
	g := make([]float64, size)
	g[mask[f.v]] = f.gradient
	return g, nil
}

var _ funcpipeline.FunctionLike = (*fakeFunc)(nil)

func newVar(t *testing.T, name string, x0, lb, ub, scale float64) *variable.InputVariable {
	t.Helper()
	v, err := variable.NewScalar(name, x0, lb, ub, scale, nil)
	require.NoError(t, err)
	return v
}

func TestAddObjectiveAppliesSenseAndScale(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 0, -10, 10, 1)
	fn := &fakeFunc{name: "drag", v: v, weight: 1}

	require.NoError(t, d.AddObjective(Minimize, fn, 2, 3))
	assert.Equal(t, 6.0, d.objectives[0].scale)

	require.NoError(t, d.AddObjective(Maximize, fn, 2, 3))
	assert.Equal(t, -6.0, d.objectives[1].scale)
}

func TestAddObjectiveRejectsNonPositiveScaleOrWeight(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 0, -10, 10, 1)
	fn := &fakeFunc{name: "drag", v: v, weight: 1}

	assert.Error(t, d.AddObjective(Minimize, fn, 0, 1))
	assert.Error(t, d.AddObjective(Minimize, fn, 1, -1))
}

func TestAddUpLowBoundComputesScale(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 0, -10, 10, 1)
	fn := &fakeFunc{name: "thickness", v: v}

	require.NoError(t, d.AddUpLowBound(fn, 2, 6))
	assert.InDelta(t, 0.25, d.constraintsIN[0].Scale, 1e-12)
}

func TestAddUpLowBoundRejectsInvertedBounds(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 0, -10, 10, 1)
	fn := &fakeFunc{name: "thickness", v: v}
	assert.Error(t, d.AddUpLowBound(fn, 6, 2))
}

func TestPreprocessVariablesDedupesSharedVariable(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 1, -10, 10, 1)
	obj := &fakeFunc{name: "drag", v: v, weight: 1, gradient: 1}
	con := &fakeFunc{name: "thickness", v: v, weight: 1, gradient: 1}

	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.AddUpperBound(con, 5, 1))
	require.NoError(t, d.PreprocessVariables())

	assert.Len(t, d.variables, 1)
	assert.Equal(t, 1, d.GetNumVariables())
}

func TestGetInitialLowerUpperAreScaled(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 1, -2, 4, 2)
	obj := &fakeFunc{name: "drag", v: v, weight: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.PreprocessVariables())

	assert.Equal(t, []float64{2.0}, d.GetInitial())
	assert.Equal(t, []float64{-4.0}, d.GetLowerBound())
	assert.Equal(t, []float64{8.0}, d.GetUpperBound())
}

func TestSetCurrentDividesByScale(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 0, -10, 10, 2)
	obj := &fakeFunc{name: "drag", v: v, weight: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.PreprocessVariables())

	require.NoError(t, d.setCurrent([]float64{4.0}))
	assert.Equal(t, []float64{2.0}, v.Current)
}

func TestSetCurrentRejectsWrongLength(t *testing.T) {
	d := NewBase()
	v := newVar(t, "x", 0, -10, 10, 1)
	obj := &fakeFunc{name: "drag", v: v, weight: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.PreprocessVariables())

	assert.Error(t, d.setCurrent([]float64{1, 2}))
}

func TestParallelEvalDriverEvaluateComputesScaledValues(t *testing.T) {
	d := NewParallelEvalDriver()
	v := newVar(t, "x", 0, -10, 10, 1)
	obj := &fakeFunc{name: "drag", v: v, weight: 2}
	con := &fakeFunc{name: "thickness", v: v, weight: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.AddUpperBound(con, 5, 3))
	require.NoError(t, d.PreprocessVariables())
	restoreCwd(t)
	d.userDir = t.TempDir()

	require.NoError(t, d.Evaluate(context.Background(), []float64{4.0}))

	assert.Equal(t, 8.0, d.ObjectiveValues()[0])
	assert.InDelta(t, -3.0, d.UpperBoundValues()[0], 1e-9) // (4 - 5) * 3
}

func TestExteriorPenaltyDriverFunCombinesObjectiveAndPenalty(t *testing.T) {
	d := NewExteriorPenaltyDriver()
	v := newVar(t, "x", 0, -10, 10, 1)
	obj := &fakeFunc{name: "drag", v: v, weight: 1}
	con := &fakeFunc{name: "thickness", v: v, weight: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.AddEqualityPenalized(con, 2, 1, 1e-6))
	require.NoError(t, d.initialize())
	restoreCwd(t)
	d.userDir = t.TempDir()

	total, err := d.Fun(context.Background(), []float64{5.0})
	require.NoError(t, err)
	// objective: 5; equality residual: 5-2=3, penalty r=8 -> 8*9=72
	assert.InDelta(t, 77.0, total, 1e-9)
}

func TestExteriorPenaltyDriverUpdateRatchetsEqualityCoefficient(t *testing.T) {
	d := NewExteriorPenaltyDriver()
	v := newVar(t, "x", 0, -10, 10, 1)
	obj := &fakeFunc{name: "drag", v: v, weight: 1}
	con := &fakeFunc{name: "thickness", v: v, weight: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))
	require.NoError(t, d.AddEqualityPenalized(con, 2, 1, 1e-6))
	require.NoError(t, d.initialize())
	restoreCwd(t)
	d.userDir = t.TempDir()

	_, err := d.Fun(context.Background(), []float64{5.0})
	require.NoError(t, err)

	feasible := d.Update(false)
	assert.False(t, feasible)
	assert.Equal(t, 32.0, d.eqBucket.Coefficients()[0])
}

func TestExteriorPenaltyDriverGradFallsBackToOldGradInSoftMode(t *testing.T) {
	d := NewExteriorPenaltyDriver()
	require.NoError(t, d.SetFailureMode(SOFT))
	v := newVar(t, "x", 0, -10, 10, 1)
	obj := &fakeFunc{name: "drag", v: v, weight: 1, gradient: 1}
	require.NoError(t, d.AddObjective(Minimize, obj, 1, 1))

	grad, err := d.Grad(context.Background(), []float64{1.0})
	require.NoError(t, err)
	require.Len(t, grad, 1)

	d.oldGrad = []float64{42.0}
	failing := &failingFunc{fakeFunc: fakeFunc{name: "bad", v: v}}
	d.objectives = []Objective{{Function: failing, scale: 1}}

	grad, err = d.Grad(context.Background(), []float64{2.0})
	require.NoError(t, err)
	assert.Equal(t, []float64{42.0}, grad)
}

type failingFunc struct {
	fakeFunc
}

func (f *failingFunc) GetGradient(mask funcpipeline.VarMask) ([]float64, error) {
	return nil, assert.AnError
}

func TestEvalInParallelDetectsCycleDeadlock(t *testing.T) {
	a := &fakeEval{}
	b := &fakeEval{}
	nodes := []node{
		{eval: a, depends: []funcpipeline.Eval{b}},
		{eval: b, depends: []funcpipeline.Eval{a}},
	}
	err := evalInParallel(context.Background(), nodes, 0)
	require.Error(t, err)
}

type fakeEval struct {
	ran bool
	ini bool
}

func (e *fakeEval) IsRun() bool { return e.ran }
func (e *fakeEval) IsIni() bool { return e.ini }
func (e *fakeEval) Initialize() error {
	e.ini = true
	return nil
}
func (e *fakeEval) Poll() (bool, int, error) {
	e.ran = true
	return true, 0, nil
}
func (e *fakeEval) GetParameters() []*variable.Parameter { return nil }
