// Package driver implements the optimizer-facing driver hierarchy of the
// evaluation-coordination engine (spec.md §4.3-§4.5): DriverBase registers
// objectives and constraints and exposes the flattened design vector;
// ParallelEvalDriver adds the dependency-graph scheduler; ExteriorPenaltyDriver
// composes everything into a single unconstrained penalty function. Grounded
// on original_source/drivers/base_driver.py, parallel_eval_driver.py and
// exterior_penalty.py.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/longregen/nlpdrive/internal/funcpipeline"
	"github.com/longregen/nlpdrive/internal/nlperrors"
	"github.com/longregen/nlpdrive/internal/process"
	"github.com/longregen/nlpdrive/internal/variable"
)

// ObjectiveSense is the optimizer-facing convention for an objective: Min
// passes the scaled value through unchanged, Max negates it so every
// objective in the combined design vector is minimized (spec.md's "objective
// sense convention" invariant).
type ObjectiveSense int

const (
	Minimize ObjectiveSense = iota
	Maximize
)

// FailureMode controls how a failed evaluation propagates: HARD re-raises,
// SOFT falls back to a function's default value (or, for gradients, the
// previous gradient).
type FailureMode int

const (
	HARD FailureMode = iota
	SOFT
)

// Objective pairs a function with the combined scale/weight/sense factor
// applied to its raw value.
type Objective struct {
	Function funcpipeline.FunctionLike
	scale    float64
}

// Constraint pairs a function with its scale and shift bound(s).
type Constraint struct {
	Function funcpipeline.FunctionLike
	Scale    float64
	Bound1   float64
	Bound2   float64
}

// DriverBase registers objectives/constraints, builds the flattened design
// vector, and manages the working-directory lifecycle shared by every
// evaluation mode.
type DriverBase struct {
	variables  []*variable.InputVariable
	varScales  []float64
	parameters []*variable.Parameter

	objectives     []Objective
	constraintsEQ  []Constraint
	constraintsLT  []Constraint
	constraintsGT  []Constraint
	constraintsIN  []Constraint

	ofval, eqval, ltval, gtval, inval         []float64
	ofvalRaw, eqvalRaw, ltvalRaw, gtvalRaw, invalRaw []float64

	variableStartMask map[*variable.InputVariable]int

	userDir     string
	workDir     string
	dirPrefix   string
	keepDesigns bool
	failureMode FailureMode
	lastDesign  []float64

	// funEvalTime/jacEvalTime are cumulative wall-clock totals across every
	// evaluateFunctions/evaluateGradients call, feeding the log file's
	// FUN TIME/GRAD TIME columns.
	funEvalTime time.Duration
	jacEvalTime time.Duration

	logWriter   io.Writer
	logColWidth int
	hisWriter   io.Writer
	hisDelim    string

	userPreProcessFun  string
	userPreProcessGrad string
}

// NewBase constructs a DriverBase with the same defaults as
// original_source/drivers/base_driver.py's __init__.
func NewBase() *DriverBase {
	return &DriverBase{
		workDir:     "__WORKDIR__",
		dirPrefix:   "DSN_",
		keepDesigns: true,
		failureMode: HARD,
		logColWidth: 13,
		hisDelim:    ",  ",
	}
}

// AddObjective registers an objective with the given sense, scale and weight.
// Scale and weight must both be positive.
func (d *DriverBase) AddObjective(sense ObjectiveSense, fn funcpipeline.FunctionLike, scale, weight float64) error {
	if scale <= 0 || weight <= 0 {
		return fmt.Errorf("%w: objective scale and weight must be positive", nlperrors.ErrBadArgument)
	}
	combined := scale * weight
	if sense == Maximize {
		combined = -combined
	}
	d.objectives = append(d.objectives, Objective{Function: fn, scale: combined})
	return nil
}

// AddEquality registers fn(x) == target as a penalized equality constraint.
func (d *DriverBase) AddEquality(fn funcpipeline.FunctionLike, target, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("%w: constraint scale must be positive", nlperrors.ErrBadArgument)
	}
	d.constraintsEQ = append(d.constraintsEQ, Constraint{Function: fn, Scale: scale, Bound1: target})
	return nil
}

// AddUpperBound registers fn(x) <= bound.
func (d *DriverBase) AddUpperBound(fn funcpipeline.FunctionLike, bound, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("%w: constraint scale must be positive", nlperrors.ErrBadArgument)
	}
	d.constraintsLT = append(d.constraintsLT, Constraint{Function: fn, Scale: scale, Bound1: bound})
	return nil
}

// AddLowerBound registers fn(x) >= bound.
func (d *DriverBase) AddLowerBound(fn funcpipeline.FunctionLike, bound, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("%w: constraint scale must be positive", nlperrors.ErrBadArgument)
	}
	d.constraintsGT = append(d.constraintsGT, Constraint{Function: fn, Scale: scale, Bound1: bound})
	return nil
}

// AddUpLowBound registers lower <= fn(x) <= upper, scaled by 1/(upper-lower).
func (d *DriverBase) AddUpLowBound(fn funcpipeline.FunctionLike, lower, upper float64) error {
	if upper <= lower {
		return fmt.Errorf("%w: upper bound must exceed lower bound", nlperrors.ErrBadArgument)
	}
	d.constraintsIN = append(d.constraintsIN, Constraint{
		Function: fn,
		Scale:    1.0 / (upper - lower),
		Bound1:   lower,
		Bound2:   upper,
	})
	return nil
}

// SetWorkingDirectory overrides the default "__WORKDIR__" evaluation root.
func (d *DriverBase) SetWorkingDirectory(dir string) { d.workDir = dir }

// GetNumVariables returns the flattened design vector length.
func (d *DriverBase) GetNumVariables() int {
	n := 0
	for _, v := range d.variables {
		n += v.Size
	}
	return n
}

// GetDesignSize is an alias for GetNumVariables, named the way a CLI/summary
// surface would ask for it.
func (d *DriverBase) GetDesignSize() int { return d.GetNumVariables() }

// GetFunctionNames lists every registered objective and constraint's name in
// registration order (objectives, then EQ, LT, GT, IN).
func (d *DriverBase) GetFunctionNames() []string {
	var names []string
	for _, o := range d.objectives {
		names = append(names, o.Function.GetName())
	}
	for _, c := range d.constraintsEQ {
		names = append(names, c.Function.GetName())
	}
	for _, c := range d.constraintsLT {
		names = append(names, c.Function.GetName())
	}
	for _, c := range d.constraintsGT {
		names = append(names, c.Function.GetName())
	}
	for _, c := range d.constraintsIN {
		names = append(names, c.Function.GetName())
	}
	return names
}

// SetLogger installs the fixed-width progress log sink.
func (d *DriverBase) SetLogger(w io.Writer, width int) {
	d.logWriter = w
	d.logColWidth = width
}

// SetHistorian installs the delimiter-separated convergence history sink.
func (d *DriverBase) SetHistorian(w io.Writer, delim string) {
	d.hisWriter = w
	d.hisDelim = delim
}

func (d *DriverBase) concatenated(get func(*variable.InputVariable) []float64) []float64 {
	x := make([]float64, d.GetNumVariables())
	idx := 0
	for _, v := range d.variables {
		copy(x[idx:idx+v.Size], get(v))
		idx += v.Size
	}
	return x
}

func scaleVec(x, scale []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] * scale[i]
	}
	return out
}

// GetInitial returns the scaled initial design vector.
func (d *DriverBase) GetInitial() []float64 {
	return scaleVec(d.concatenated(func(v *variable.InputVariable) []float64 { return v.Initial }), d.varScales)
}

// GetLowerBound returns the scaled lower-bound vector.
func (d *DriverBase) GetLowerBound() []float64 {
	return scaleVec(d.concatenated(func(v *variable.InputVariable) []float64 { return v.Lower }), d.varScales)
}

// GetUpperBound returns the scaled upper-bound vector.
func (d *DriverBase) GetUpperBound() []float64 {
	return scaleVec(d.concatenated(func(v *variable.InputVariable) []float64 { return v.Upper }), d.varScales)
}

// setCurrent pushes a (scaled) design vector from the optimizer down into
// each variable's Current, dividing out each variable's Scale.
func (d *DriverBase) setCurrent(x []float64) error {
	if len(x) != d.GetNumVariables() {
		return fmt.Errorf("%w: design vector has %d entries, expected %d", nlperrors.ErrBadArgument, len(x), d.GetNumVariables())
	}
	start := 0
	for _, v := range d.variables {
		end := start + v.Size
		unscaled := make([]float64, v.Size)
		for i, xv := range x[start:end] {
			unscaled[i] = xv / v.Scale[i]
		}
		if err := v.SetCurrent(unscaled); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func (d *DriverBase) collectVarsAndPars(funcs []Constraint, objs []Objective) {
	add := func(fn funcpipeline.FunctionLike) {
		for _, v := range fn.GetVariables() {
			if !containsVar(d.variables, v) {
				d.variables = append(d.variables, v)
			}
		}
		for _, p := range fn.GetParameters() {
			if !containsParam(d.parameters, p) {
				d.parameters = append(d.parameters, p)
			}
		}
		steps := append(append([]funcpipeline.Eval{}, fn.GetValueEvalChain()...), fn.GetGradientEvalChain()...)
		for _, e := range steps {
			if r, ok := e.(*process.ExternalRun); ok {
				for _, v := range fn.GetVariables() {
					r.UpdateVariables(v)
				}
			}
		}
	}
	for _, o := range objs {
		add(o.Function)
	}
	for _, c := range funcs {
		add(c.Function)
	}
}

func containsVar(list []*variable.InputVariable, v *variable.InputVariable) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsParam(list []*variable.Parameter, p *variable.Parameter) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}

// PreprocessVariables builds the deduplicated variable/parameter lists and
// the design-vector layout mask from every registered objective and
// constraint. Must be called once, after registration and before any
// evaluation. Grounded on base_driver.py's preprocessVariables.
func (d *DriverBase) PreprocessVariables() error {
	d.variables = nil
	d.parameters = nil

	allObjs := d.objectives
	allConstraints := [][]Constraint{d.constraintsEQ, d.constraintsLT, d.constraintsGT, d.constraintsIN}

	d.collectVarsAndPars(nil, allObjs)
	for _, bucket := range allConstraints {
		d.collectVarsAndPars(bucket, nil)
	}

	if len(d.variables) == 0 {
		return fmt.Errorf("%w: driver has no registered variables", nlperrors.ErrBadArgument)
	}

	mask := make(map[*variable.InputVariable]int, len(d.variables))
	idx := 0
	for _, v := range d.variables {
		mask[v] = idx
		idx += v.Size
	}
	d.variableStartMask = mask

	d.varScales = d.concatenated(func(v *variable.InputVariable) []float64 { return v.Scale })

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("preprocess variables: %w", err)
	}
	d.userDir = wd

	d.ofval = make([]float64, len(d.objectives))
	d.eqval = make([]float64, len(d.constraintsEQ))
	d.ltval = make([]float64, len(d.constraintsLT))
	d.gtval = make([]float64, len(d.constraintsGT))
	d.inval = make([]float64, len(d.constraintsIN))

	d.ofvalRaw = make([]float64, len(d.objectives))
	d.eqvalRaw = make([]float64, len(d.constraintsEQ))
	d.ltvalRaw = make([]float64, len(d.constraintsLT))
	d.gtvalRaw = make([]float64, len(d.constraintsGT))
	d.invalRaw = make([]float64, len(d.constraintsIN))

	return nil
}

// VariableMask exposes the design-vector layout so the driver's gradient
// assembly can scatter per-function gradients into the shared vector.
func (d *DriverBase) VariableMask() funcpipeline.VarMask {
	mask := make(funcpipeline.VarMask, len(d.variableStartMask))
	for v, i := range d.variableStartMask {
		mask[v] = i
	}
	return mask
}

// SetStorageMode controls whether evaluated designs are rotated into
// DSN_NNN-named directories (keepDesigns) or discarded on every change.
func (d *DriverBase) SetStorageMode(keepDesigns bool, dirPrefix string) {
	d.keepDesigns = keepDesigns
	if dirPrefix != "" {
		d.dirPrefix = dirPrefix
	}
}

// SetFailureMode sets HARD (propagate) or SOFT (fall back to defaults).
func (d *DriverBase) SetFailureMode(mode FailureMode) error {
	if mode != HARD && mode != SOFT {
		return nlperrors.ErrUnknownFailureMode
	}
	d.failureMode = mode
	return nil
}

// SetUserPreProcessFun registers a shell command run (in the user's original
// directory) before every function evaluation.
func (d *DriverBase) SetUserPreProcessFun(command string) { d.userPreProcessFun = command }

// SetUserPreProcessGrad registers a shell command run before every gradient
// evaluation.
func (d *DriverBase) SetUserPreProcessGrad(command string) { d.userPreProcessGrad = command }

func (d *DriverBase) resetAllValueEvaluations() {
	for _, o := range d.objectives {
		o.Function.ResetValueEvalChain()
	}
	for _, buckets := range [][]Constraint{d.constraintsEQ, d.constraintsLT, d.constraintsGT, d.constraintsIN} {
		for _, c := range buckets {
			c.Function.ResetValueEvalChain()
		}
	}
}

func (d *DriverBase) resetAllGradientEvaluations() {
	for _, o := range d.objectives {
		o.Function.ResetGradientEvalChain()
	}
	for _, buckets := range [][]Constraint{d.constraintsEQ, d.constraintsLT, d.constraintsGT, d.constraintsIN} {
		for _, c := range buckets {
			c.Function.ResetGradientEvalChain()
		}
	}
}

// runUserCommand runs a preprocessing command in dir, the way ExternalRun
// spawns a solver, but synchronously and without retry: these commands run
// once per evaluation and any failure should surface immediately.
func runUserCommand(ctx context.Context, command, dir string) error {
	if command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("user preprocess command %q: %w (output: %s)", command, err, out)
	}
	return nil
}

func rotateWorkDir(userDir, workDir, dirPrefix string, keepDesigns bool, evalIndex int) error {
	if err := os.Chdir(userDir); err != nil {
		return fmt.Errorf("rotate working directory: %w", err)
	}
	if _, err := os.Stat(workDir); err == nil {
		if keepDesigns {
			dirName := fmt.Sprintf("%s%03d", dirPrefix, evalIndex)
			_ = os.RemoveAll(dirName)
			if err := os.Rename(workDir, dirName); err != nil {
				return fmt.Errorf("rotate %s to %s: %w", workDir, dirName, err)
			}
		} else if err := os.RemoveAll(workDir); err != nil {
			return fmt.Errorf("remove working directory %s: %w", workDir, err)
		}
	}
	return os.MkdirAll(filepath.Join(userDir, workDir), 0o755)
}
