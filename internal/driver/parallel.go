package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/longregen/nlpdrive/internal/funcpipeline"
	"github.com/longregen/nlpdrive/internal/nlperrors"
)

// ParallelEvalDriver adds a dependency-graph scheduler on top of DriverBase:
// every objective and constraint's eval chain is flattened into one pool of
// funcpipeline.Eval nodes, and all nodes whose predecessors have already run
// are initialized or polled on every pass, instead of waiting on one function's
// chain to finish before starting the next. Grounded on
// original_source/drivers/parallel_eval_driver.py's ParallelEvalDriver,
// deliberately kept as a single-threaded cooperative poll loop (not
// errgroup-based fan-out): each node's own subprocess already runs
// concurrently in the OS, this loop only decides scheduling order, and a
// shared goroutine pool would add synchronization cost without shortening
// any individual subprocess's wall-clock time.
type ParallelEvalDriver struct {
	*DriverBase

	WaitTime    time.Duration
	evalCounter int

	// jacEvalCounter counts completed gradient evaluations (GRAD EVAL);
	// gradReady gates it and the outer driver's update cadence so a repeat
	// Grad call on an unchanged design doesn't recount.
	jacEvalCounter int
	gradReady      bool

	// lastEvalNew records whether the most recent Evaluate call actually
	// advanced the design, so a history line is written once per evaluation
	// rather than once per Fun call.
	lastEvalNew bool
}

// NewParallelEvalDriver wraps a fresh DriverBase.
func NewParallelEvalDriver() *ParallelEvalDriver {
	return &ParallelEvalDriver{DriverBase: NewBase(), WaitTime: 200 * time.Millisecond}
}

// node is one scheduler unit: an Eval plus the direct predecessors (within
// its own function's chain) it must wait on.
type node struct {
	eval    funcpipeline.Eval
	depends []funcpipeline.Eval
}

func buildDependencyGraph(functions []funcpipeline.FunctionLike, gradient bool) []node {
	var nodes []node
	for _, fn := range functions {
		var chain []funcpipeline.Eval
		if gradient {
			chain = fn.GetGradientEvalChain()
		} else {
			chain = fn.GetValueEvalChain()
		}
		for i, e := range chain {
			n := node{eval: e}
			if i > 0 {
				n.depends = []funcpipeline.Eval{chain[i-1]}
			}
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func dependenciesSatisfied(n node) bool {
	for _, d := range n.depends {
		if !d.IsRun() {
			return false
		}
	}
	return true
}

// evalInParallel drives every node in nodes to completion, initializing or
// polling whichever nodes have satisfied dependencies on each pass, and
// sleeping waitTime between passes that made no progress. Grounded on
// parallel_eval_driver.py's _evalInParallel.
func evalInParallel(ctx context.Context, nodes []node, waitTime time.Duration) error {
	active := make(map[funcpipeline.Eval]node, len(nodes))
	for _, n := range nodes {
		if !n.eval.IsRun() {
			active[n.eval] = n
		}
	}

	for len(active) > 0 {
		progressed := false
		for e, n := range active {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if !dependenciesSatisfied(n) {
				continue
			}
			if !e.IsIni() {
				if err := e.Initialize(); err != nil {
					return fmt.Errorf("initialize eval: %w", err)
				}
				progressed = true
				continue
			}
			done, _, err := e.Poll()
			if err != nil {
				return fmt.Errorf("poll eval: %w", err)
			}
			if done {
				delete(active, e)
				progressed = true
			}
		}
		if len(active) == 0 {
			break
		}
		if !progressed {
			anyRunning := false
			for _, n := range active {
				if n.eval.IsIni() {
					anyRunning = true
					break
				}
			}
			if !anyRunning {
				return nlperrors.ErrSchedulerInvariantViolation
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}
	return nil
}

func (d *ParallelEvalDriver) allFunctions() []funcpipeline.FunctionLike {
	var fns []funcpipeline.FunctionLike
	for _, o := range d.objectives {
		fns = append(fns, o.Function)
	}
	for _, bucket := range [][]Constraint{d.constraintsEQ, d.constraintsLT, d.constraintsGT, d.constraintsIN} {
		for _, c := range bucket {
			fns = append(fns, c.Function)
		}
	}
	return fns
}

// evaluateFunctions runs every still-pending value eval chain to completion,
// in dependency order, concurrently across functions.
func (d *ParallelEvalDriver) evaluateFunctions(ctx context.Context) error {
	if err := runUserCommand(ctx, d.userPreProcessFun, d.userDir); err != nil {
		return err
	}
	start := time.Now()
	defer func() { d.funEvalTime += time.Since(start) }()
	nodes := buildDependencyGraph(d.allFunctions(), false)
	return evalInParallel(ctx, nodes, d.WaitTime)
}

// evaluateGradients runs every still-pending gradient eval chain to completion.
func (d *ParallelEvalDriver) evaluateGradients(ctx context.Context) error {
	if err := runUserCommand(ctx, d.userPreProcessGrad, d.userDir); err != nil {
		return err
	}
	start := time.Now()
	defer func() { d.jacEvalTime += time.Since(start) }()
	nodes := buildDependencyGraph(d.allFunctions(), true)
	return evalInParallel(ctx, nodes, d.WaitTime)
}

// fetchValue reads fn's current value, falling back to its default in SOFT
// mode if the evaluation failed.
func (d *ParallelEvalDriver) fetchValue(fn funcpipeline.FunctionLike) (float64, error) {
	v, err := fn.GetValue()
	if err == nil {
		return v, nil
	}
	if d.failureMode == SOFT {
		if hd, ok := fn.(interface {
			HasDefaultValue() bool
			GetDefaultValue() float64
		}); ok && hd.HasDefaultValue() {
			return hd.GetDefaultValue(), nil
		}
	}
	return 0, fmt.Errorf("fetch value for %s: %w", fn.GetName(), err)
}

// Evaluate advances the design to x (rotating the working directory if it
// changed), evaluates every objective and constraint, and stores their
// shifted-and-scaled values in DriverBase (objectives first, then the
// EQ/LT/GT/IN buckets). It returns only an error.
func (d *ParallelEvalDriver) Evaluate(ctx context.Context, x []float64) error {
	changed, err := d.advanceDesign(x)
	if err != nil {
		return err
	}
	if changed {
		if err := rotateWorkDir(d.userDir, d.workDir, d.dirPrefix, d.keepDesigns, d.evalCounter); err != nil {
			return err
		}
		d.evalCounter++
		d.resetAllValueEvaluations()
		d.resetAllGradientEvaluations()
	}
	d.lastEvalNew = changed

	if err := d.evaluateFunctions(ctx); err != nil {
		return err
	}

	for i, o := range d.objectives {
		v, err := d.fetchValue(o.Function)
		if err != nil {
			return err
		}
		d.ofvalRaw[i] = v
		d.ofval[i] = v * o.scale
	}
	if err := d.fetchConstraintBucket(d.constraintsEQ, d.eqval, d.eqvalRaw); err != nil {
		return err
	}
	if err := d.fetchConstraintBucket(d.constraintsLT, d.ltval, d.ltvalRaw); err != nil {
		return err
	}
	if err := d.fetchConstraintBucket(d.constraintsGT, d.gtval, d.gtvalRaw); err != nil {
		return err
	}
	if err := d.fetchConstraintBucket(d.constraintsIN, d.inval, d.invalRaw); err != nil {
		return err
	}
	return nil
}

// fetchConstraintBucket fetches each constraint's raw value into raw, and its
// shifted-and-scaled value into out.
func (d *ParallelEvalDriver) fetchConstraintBucket(bucket []Constraint, out, raw []float64) error {
	for i, c := range bucket {
		v, err := d.fetchValue(c.Function)
		if err != nil {
			return err
		}
		raw[i] = v
		out[i] = (v - c.Bound1) * c.Scale
	}
	return nil
}

// advanceDesign calls setCurrent and reports whether the design actually
// moved (epsilon comparison against the previous design vector), mirroring
// ipopt_driver.py's _handleVariableChange change detection.
func (d *ParallelEvalDriver) advanceDesign(x []float64) (changed bool, err error) {
	changed = true
	if d.lastDesign != nil && len(d.lastDesign) == len(x) {
		changed = false
		for i := range x {
			if abs(x[i]-d.lastDesign[i]) > 1e-12 {
				changed = true
				break
			}
		}
	}
	if err := d.setCurrent(x); err != nil {
		return false, err
	}
	d.lastDesign = append([]float64(nil), x...)
	if changed {
		d.gradReady = false
	}
	return changed, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ObjectiveValues returns the last-evaluated, scaled objective values.
func (d *ParallelEvalDriver) ObjectiveValues() []float64 { return d.ofval }

// EqualityValues returns the last-evaluated, shifted-and-scaled EQ constraint values.
func (d *ParallelEvalDriver) EqualityValues() []float64 { return d.eqval }

// UpperBoundValues returns the last-evaluated, shifted-and-scaled LT constraint values.
func (d *ParallelEvalDriver) UpperBoundValues() []float64 { return d.ltval }

// LowerBoundValues returns the last-evaluated, shifted-and-scaled GT constraint values.
func (d *ParallelEvalDriver) LowerBoundValues() []float64 { return d.gtval }

// RangeValues returns the last-evaluated, shifted-and-scaled IN constraint values.
func (d *ParallelEvalDriver) RangeValues() []float64 { return d.inval }
