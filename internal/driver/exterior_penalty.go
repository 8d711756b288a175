package driver

import (
	"bufio"
	"context"
	"fmt"

	"github.com/longregen/nlpdrive/internal/funcpipeline"
	"github.com/longregen/nlpdrive/internal/penalty"
)

// ExteriorPenaltyDriver folds every registered constraint into the objective
// through a per-constraint exterior penalty term, exposing a single
// unconstrained fun(x)/grad(x) pair for a gradient-based optimizer. Grounded
// on original_source/drivers/exterior_penalty.py's ExteriorPenaltyDriver.
type ExteriorPenaltyDriver struct {
	*ParallelEvalDriver

	tolEQ, tolLT, tolGT, tolIN []float64
	rIni, rMax, factorUp, factorDown float64

	eqBucket, ltBucket, gtBucket, inBucket *penalty.Bucket
	initialized bool

	oldGrad []float64

	// freq is the outer-iteration cadence: Update runs automatically every
	// freq successful Grad calls. lastFeasible is what FeasibleDesign
	// reports and Update's log line prints; lastObjective holds the last
	// combined value Fun returned.
	freq          int
	lastFeasible  bool
	lastObjective float64
}

// NewExteriorPenaltyDriver wraps a fresh ParallelEvalDriver with the default
// penalty-update law (rini=8, rmax=1024, factorUp=4, factorDown=0.5), matching
// original_source's ExteriorPenaltyDriver defaults.
func NewExteriorPenaltyDriver() *ExteriorPenaltyDriver {
	return &ExteriorPenaltyDriver{
		ParallelEvalDriver: NewParallelEvalDriver(),
		rIni:               8,
		rMax:               1024,
		factorUp:           4,
		factorDown:         0.5,
		freq:               1,
	}
}

// SetPenaltyParams overrides the default penalty-update coefficients.
func (d *ExteriorPenaltyDriver) SetPenaltyParams(rIni, rMax, factorUp, factorDown float64) {
	d.rIni, d.rMax, d.factorUp, d.factorDown = rIni, rMax, factorUp, factorDown
}

// SetUpdateFrequency sets how many successful Grad calls elapse between
// automatic Update runs. freq <= 0 disables the automatic cadence entirely,
// leaving Update to be driven only by an explicit caller.
func (d *ExteriorPenaltyDriver) SetUpdateFrequency(freq int) { d.freq = freq }

// AddEqualityPenalized registers fn(x) == target with the penalty method's
// own per-constraint feasibility tolerance, distinct from the optimizer-level
// scale/weight DriverBase.AddEquality tracks.
func (d *ExteriorPenaltyDriver) AddEqualityPenalized(fn funcpipeline.FunctionLike, target, scale, tol float64) error {
	if err := d.AddEquality(fn, target, scale); err != nil {
		return err
	}
	d.tolEQ = append(d.tolEQ, tol)
	return nil
}

// AddUpperBoundPenalized registers fn(x) <= bound with a feasibility tolerance.
func (d *ExteriorPenaltyDriver) AddUpperBoundPenalized(fn funcpipeline.FunctionLike, bound, scale, tol float64) error {
	if err := d.AddUpperBound(fn, bound, scale); err != nil {
		return err
	}
	d.tolLT = append(d.tolLT, tol)
	return nil
}

// AddLowerBoundPenalized registers fn(x) >= bound with a feasibility tolerance.
func (d *ExteriorPenaltyDriver) AddLowerBoundPenalized(fn funcpipeline.FunctionLike, bound, scale, tol float64) error {
	if err := d.AddLowerBound(fn, bound, scale); err != nil {
		return err
	}
	d.tolGT = append(d.tolGT, tol)
	return nil
}

// AddUpLowBoundPenalized registers lower <= fn(x) <= upper with a feasibility tolerance.
func (d *ExteriorPenaltyDriver) AddUpLowBoundPenalized(fn funcpipeline.FunctionLike, lower, upper, tol float64) error {
	if err := d.AddUpLowBound(fn, lower, upper); err != nil {
		return err
	}
	d.tolIN = append(d.tolIN, tol)
	return nil
}

func buildConfigs(tols []float64, rIni, rMax, factorUp, factorDown float64, bounds1, bounds2 []float64) []penalty.Config {
	cfgs := make([]penalty.Config, len(tols))
	for i, tol := range tols {
		c := penalty.Config{Tol: tol, RIni: rIni, RMax: rMax, FactorUp: factorUp, FactorDown: factorDown}
		if bounds1 != nil {
			c.Bound1, c.Bound2 = bounds1[i], bounds2[i]
		}
		cfgs[i] = c
	}
	return cfgs
}

// initialize lazily builds the penalty buckets and, if a logger/historian is
// configured, writes their fixed-width/delimited headers. Grounded on
// exterior_penalty.py's _initialize.
func (d *ExteriorPenaltyDriver) initialize() error {
	if d.initialized {
		return nil
	}
	if err := d.PreprocessVariables(); err != nil {
		return err
	}

	d.eqBucket = penalty.NewBucket(penalty.EQ, buildConfigs(d.tolEQ, d.rIni, d.rMax, d.factorUp, d.factorDown, nil, nil))
	d.ltBucket = penalty.NewBucket(penalty.LT, buildConfigs(d.tolLT, d.rIni, d.rMax, d.factorUp, d.factorDown, nil, nil))
	d.gtBucket = penalty.NewBucket(penalty.GT, buildConfigs(d.tolGT, d.rIni, d.rMax, d.factorUp, d.factorDown, nil, nil))

	bound1 := make([]float64, len(d.constraintsIN))
	bound2 := make([]float64, len(d.constraintsIN))
	for i := range d.constraintsIN {
		bound1[i], bound2[i] = 0, 1 // shifted-and-scaled IN values already live in [0,1] when feasible
	}
	d.inBucket = penalty.NewBucket(penalty.IN, buildConfigs(d.tolIN, d.rIni, d.rMax, d.factorUp, d.factorDown, bound1, bound2))

	if err := d.writeLogHeader(); err != nil {
		return err
	}
	if err := d.writeHistoryHeader(); err != nil {
		return err
	}

	d.initialized = true
	return nil
}

// logColumns lists the log file's column headers in order: the fixed
// FUN/GRAD eval-and-time and feasibility columns, then each objective's
// name, then each constraint's name immediately followed by "PEN COEFF".
func (d *ExteriorPenaltyDriver) logColumns() []string {
	cols := []string{"FUN EVAL", "FUN TIME", "GRAD EVAL", "GRAD TIME", "FEASIBLE"}
	for _, o := range d.objectives {
		cols = append(cols, o.Function.GetName())
	}
	for _, bucket := range [][]Constraint{d.constraintsEQ, d.constraintsLT, d.constraintsGT, d.constraintsIN} {
		for _, c := range bucket {
			cols = append(cols, c.Function.GetName(), "PEN COEFF")
		}
	}
	return cols
}

func (d *ExteriorPenaltyDriver) writeLogHeader() error {
	if d.logWriter == nil {
		return nil
	}
	w := bufio.NewWriter(d.logWriter)
	for _, h := range d.logColumns() {
		fmt.Fprintf(w, "%*s", d.logColWidth, h)
	}
	fmt.Fprintln(w)
	return w.Flush()
}

func (d *ExteriorPenaltyDriver) writeHistoryHeader() error {
	if d.hisWriter == nil {
		return nil
	}
	w := bufio.NewWriter(d.hisWriter)
	names := append([]string{"iter"}, d.GetFunctionNames()...)
	names = append(names, "objective")
	for i, n := range names {
		if i > 0 {
			fmt.Fprint(w, d.hisDelim)
		}
		fmt.Fprint(w, n)
	}
	fmt.Fprintln(w)
	return w.Flush()
}

// Fun evaluates the combined, penalized objective at x.
func (d *ExteriorPenaltyDriver) Fun(ctx context.Context, x []float64) (float64, error) {
	if err := d.initialize(); err != nil {
		return 0, err
	}
	if err := d.Evaluate(ctx, x); err != nil {
		return 0, err
	}

	total := 0.0
	for _, v := range d.ofval {
		total += v
	}
	for i, g := range d.eqval {
		total += d.eqBucket.Term(i, g)
	}
	for i, g := range d.ltval {
		total += d.ltBucket.Term(i, g)
	}
	for i, g := range d.gtval {
		total += d.gtBucket.Term(i, g)
	}
	for i, g := range d.inval {
		total += d.inBucket.Term(i, g)
	}

	d.lastObjective = total

	if d.lastEvalNew {
		if err := d.writeHistoryLine(total); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// Grad evaluates the combined gradient at x, then advances the
// gradient-evaluation counter and, on the configured freq cadence, runs
// Update automatically (the "outer iteration" the driver's penalty/parameter
// state machine is built around). On a SOFT-mode evaluation failure it falls
// back to the last successfully computed gradient, matching
// exterior_penalty.py's grad() try/except around _old_grad.
func (d *ExteriorPenaltyDriver) Grad(ctx context.Context, x []float64) ([]float64, error) {
	if err := d.initialize(); err != nil {
		return nil, err
	}
	grad, isNew, err := d.computeGradient(ctx, x)
	if err != nil {
		if d.failureMode == SOFT && d.oldGrad != nil {
			return append([]float64(nil), d.oldGrad...), nil
		}
		return nil, err
	}
	d.oldGrad = append([]float64(nil), grad...)

	if isNew {
		d.jacEvalCounter++
		if d.freq > 0 && d.jacEvalCounter%d.freq == 0 {
			d.Update(false)
		}
	}

	return grad, nil
}

// computeGradient evaluates the combined gradient at x, reporting isNew as
// whether this design's gradient hadn't already been computed (a cache
// miss), the same gate grad()'s jacEval counter and update cadence key off.
func (d *ExteriorPenaltyDriver) computeGradient(ctx context.Context, x []float64) (grad []float64, isNew bool, err error) {
	if _, err := d.advanceDesign(x); err != nil {
		return nil, false, err
	}
	isNew = !d.gradReady

	if err := d.evaluateGradients(ctx); err != nil {
		return nil, false, err
	}

	mask := d.VariableMask()
	n := d.GetNumVariables()
	grad = make([]float64, n)

	accumulate := func(fn funcpipeline.FunctionLike, weight float64) error {
		g, err := fn.GetGradient(mask)
		if err != nil {
			return err
		}
		for i := 0; i < n && i < len(g); i++ {
			grad[i] += weight * g[i]
		}
		return nil
	}

	for _, o := range d.objectives {
		if err := accumulate(o.Function, o.scale); err != nil {
			return nil, false, err
		}
	}
	if err := d.accumulateConstraintGrad(d.constraintsEQ, d.eqBucket, accumulate); err != nil {
		return nil, false, err
	}
	if err := d.accumulateConstraintGrad(d.constraintsLT, d.ltBucket, accumulate); err != nil {
		return nil, false, err
	}
	if err := d.accumulateConstraintGrad(d.constraintsGT, d.gtBucket, accumulate); err != nil {
		return nil, false, err
	}
	if err := d.accumulateConstraintGrad(d.constraintsIN, d.inBucket, accumulate); err != nil {
		return nil, false, err
	}

	d.gradReady = true
	return grad, isNew, nil
}

// accumulateConstraintGrad weighs each constraint's gradient by d/dg of its
// penalty term, then scatters it with accumulate the same way an objective's is.
func (d *ExteriorPenaltyDriver) accumulateConstraintGrad(bucket []Constraint, pb *penalty.Bucket, accumulate func(funcpipeline.FunctionLike, float64) error) error {
	values := d.bucketValues(pb)
	for i, c := range bucket {
		weight := pb.Gradient(i, values[i])
		if err := accumulate(c.Function, weight*c.Scale); err != nil {
			return err
		}
	}
	return nil
}

func (d *ExteriorPenaltyDriver) bucketValues(pb *penalty.Bucket) []float64 {
	switch pb {
	case d.eqBucket:
		return d.eqval
	case d.ltBucket:
		return d.ltval
	case d.gtBucket:
		return d.gtval
	default:
		return d.inval
	}
}

// Update advances the penalty coefficients for every constraint bucket, then,
// unless paramsIfFeasible is true and the design is currently infeasible,
// every parameter's continuation value, by one outer iteration. It then
// invalidates every evaluation cache (forcing the next fun(x)/grad(x) call to
// be a miss) and writes a log line recording the new state. Returns whether
// the design was feasible across all buckets. Grounded on
// exterior_penalty.py's update().
func (d *ExteriorPenaltyDriver) Update(paramsIfFeasible bool) (feasible bool) {
	feasible = true
	if !d.eqBucket.Update(d.eqval) {
		feasible = false
	}
	if !d.ltBucket.Update(d.ltval) {
		feasible = false
	}
	if !d.gtBucket.Update(d.gtval) {
		feasible = false
	}
	if !d.inBucket.Update(d.inval) {
		feasible = false
	}

	if !paramsIfFeasible || feasible {
		for _, p := range d.parameters {
			p.Increment()
		}
	}

	d.lastFeasible = feasible

	// Invalidate caches: the next fun(x)/grad(x) call must re-evaluate even
	// if the optimizer hands back the same x it just used.
	d.lastDesign = nil
	d.gradReady = false
	d.resetAllValueEvaluations()
	d.resetAllGradientEvaluations()

	_ = d.writeLogLine()

	return feasible
}

// FeasibleDesign reports whether every constraint bucket was within
// tolerance at the last Update call.
func (d *ExteriorPenaltyDriver) FeasibleDesign() bool { return d.lastFeasible }

// writeLogLine writes one fixed-width row of logColumns' values: FUN/GRAD
// eval counts and cumulative times, feasibility, each objective's value, and
// each constraint's value followed by its current penalty coefficient.
func (d *ExteriorPenaltyDriver) writeLogLine() error {
	if d.logWriter == nil {
		return nil
	}
	w := bufio.NewWriter(d.logWriter)

	prec := d.logColWidth - 7
	if prec > 8 {
		prec = 8
	}
	if prec < 1 {
		prec = 1
	}

	writeStr := func(s string) { fmt.Fprintf(w, "%*s", d.logColWidth, s) }
	writeInt := func(v int) { fmt.Fprintf(w, "%*d", d.logColWidth, v) }
	writeFloat := func(v float64) { fmt.Fprintf(w, "%*.*g", d.logColWidth, prec, v) }

	writeInt(d.evalCounter)
	writeFloat(d.funEvalTime.Seconds())
	writeInt(d.jacEvalCounter)
	writeFloat(d.jacEvalTime.Seconds())
	if d.lastFeasible {
		writeStr("YES")
	} else {
		writeStr("NO")
	}

	for _, v := range d.ofval {
		writeFloat(v)
	}
	buckets := []struct {
		cons []Constraint
		vals []float64
		pb   *penalty.Bucket
	}{
		{d.constraintsEQ, d.eqval, d.eqBucket},
		{d.constraintsLT, d.ltval, d.ltBucket},
		{d.constraintsGT, d.gtval, d.gtBucket},
		{d.constraintsIN, d.inval, d.inBucket},
	}
	for _, b := range buckets {
		coeffs := b.pb.Coefficients()
		for i := range b.cons {
			writeFloat(b.vals[i])
			writeFloat(coeffs[i])
		}
	}

	fmt.Fprintln(w)
	return w.Flush()
}

// writeHistoryLine writes one delimited row of raw (unshifted, unscaled)
// per-function values, plus the combined penalized objective as a trailing
// summary column.
func (d *ExteriorPenaltyDriver) writeHistoryLine(objective float64) error {
	if d.hisWriter == nil {
		return nil
	}
	w := bufio.NewWriter(d.hisWriter)
	fmt.Fprintf(w, "%d", d.evalCounter)
	for _, v := range d.allRawValuesInOrder() {
		fmt.Fprintf(w, "%s%g", d.hisDelim, v)
	}
	fmt.Fprintf(w, "%s%g\n", d.hisDelim, objective)
	return w.Flush()
}

func (d *ExteriorPenaltyDriver) allValuesInOrder() []float64 {
	var out []float64
	out = append(out, d.ofval...)
	out = append(out, d.eqval...)
	out = append(out, d.ltval...)
	out = append(out, d.gtval...)
	out = append(out, d.inval...)
	return out
}

// allRawValuesInOrder mirrors allValuesInOrder but with each function's raw
// getValue() result, captured before ParallelEvalDriver.Evaluate shifts and
// scales it.
func (d *ExteriorPenaltyDriver) allRawValuesInOrder() []float64 {
	var out []float64
	out = append(out, d.ofvalRaw...)
	out = append(out, d.eqvalRaw...)
	out = append(out, d.ltvalRaw...)
	out = append(out, d.gtvalRaw...)
	out = append(out, d.invalRaw...)
	return out
}

// IterationCount returns how many design-vector changes have been rotated
// into a new working directory so far, the same counter the log/history
// lines are stamped with.
func (d *ExteriorPenaltyDriver) IterationCount() int { return d.evalCounter }

// FunctionValues returns every registered objective and constraint's last
// evaluated, shifted-and-scaled value, keyed by name, for callers (such as a
// historian mirror) that need the structured values rather than a formatted
// line.
func (d *ExteriorPenaltyDriver) FunctionValues() map[string]float64 {
	names := d.GetFunctionNames()
	values := d.allValuesInOrder()
	out := make(map[string]float64, len(names))
	for i, name := range names {
		if i < len(values) {
			out[name] = values[i]
		}
	}
	return out
}

// PenaltyCoefficients returns each bucket's current continuation parameters,
// keyed by bucket name, for callers (such as a metrics exporter) that need
// the raw coefficients rather than a formatted log line.
func (d *ExteriorPenaltyDriver) PenaltyCoefficients() map[string][]float64 {
	out := make(map[string][]float64, 4)
	if d.eqBucket != nil {
		out["equality"] = d.eqBucket.Coefficients()
	}
	if d.ltBucket != nil {
		out["upper"] = d.ltBucket.Coefficients()
	}
	if d.gtBucket != nil {
		out["lower"] = d.gtBucket.Coefficients()
	}
	if d.inBucket != nil {
		out["range"] = d.inBucket.Coefficients()
	}
	return out
}
