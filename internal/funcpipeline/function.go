// Package funcpipeline implements Function, the evaluation-based objective
// or constraint of the evaluation-coordination engine (spec.md §4.2),
// grounded on original_source/function.py's FunctionBase/Function/
// NonDiscreteness hierarchy.
package funcpipeline

import (
	"fmt"
	"time"

	"github.com/longregen/nlpdrive/internal/iospec"
	"github.com/longregen/nlpdrive/internal/variable"
)

// Eval is the subset of *process.ExternalRun a Function drives through its
// pipeline. Kept as an interface so funcpipeline never imports process,
// matching the layering of the rest of the engine (the driver wires the two
// together).
type Eval interface {
	IsRun() bool
	IsIni() bool
	Initialize() error
	Poll() (done bool, retCode int, err error)
	GetParameters() []*variable.Parameter
}

// Function is a scalar-valued objective or constraint produced by reading
// one file at the end of a chain of evaluation steps, with per-variable
// gradient sources read from (possibly different) files.
type Function struct {
	Name string

	outFile   string
	outParser iospec.Parser

	funEval  []Eval
	gradEval []Eval

	variables []*variable.InputVariable
	gradFiles []string
	gradParse []iospec.Parser

	defaultValue    float64
	hasDefaultValue bool
}

// New builds a Function that reads its value from outFile via outParser.
func New(name, outFile string, outParser iospec.Parser) *Function {
	return &Function{Name: name, outFile: outFile, outParser: outParser}
}

// AddInputVariable registers a design variable this function depends on,
// along with where its gradient w.r.t. that variable is read from.
func (f *Function) AddInputVariable(v *variable.InputVariable, gradFile string, gradParser iospec.Parser) {
	f.variables = append(f.variables, v)
	f.gradFiles = append(f.gradFiles, gradFile)
	f.gradParse = append(f.gradParse, gradParser)
}

// SetDefaultValue registers the value returned in SOFT failure mode when
// this function's evaluation chain cannot be completed.
func (f *Function) SetDefaultValue(v float64) {
	f.defaultValue = v
	f.hasDefaultValue = true
}

// HasDefaultValue reports whether SetDefaultValue was called.
func (f *Function) HasDefaultValue() bool { return f.hasDefaultValue }

// GetDefaultValue returns the SOFT-mode fallback value.
func (f *Function) GetDefaultValue() float64 { return f.defaultValue }

// GetVariables returns the variables this function depends on, in
// registration order.
func (f *Function) GetVariables() []*variable.InputVariable { return f.variables }

// GetParameters aggregates the continuation parameters of every evaluation
// step in both chains, matching original_source's Function.getParameters.
func (f *Function) GetParameters() []*variable.Parameter {
	var out []*variable.Parameter
	for _, e := range f.funEval {
		out = append(out, e.GetParameters()...)
	}
	for _, e := range f.gradEval {
		out = append(out, e.GetParameters()...)
	}
	return out
}

// AddValueEvalStep appends an evaluation step to the value pipeline.
func (f *Function) AddValueEvalStep(e Eval) { f.funEval = append(f.funEval, e) }

// AddGradientEvalStep appends an evaluation step to the gradient pipeline.
func (f *Function) AddGradientEvalStep(e Eval) { f.gradEval = append(f.gradEval, e) }

// GetValueEvalChain returns the value pipeline in order.
func (f *Function) GetValueEvalChain() []Eval { return f.funEval }

// GetGradientEvalChain returns the gradient pipeline in order.
func (f *Function) GetGradientEvalChain() []Eval { return f.gradEval }

// GetValue reads the function's value, running its evaluation chain
// sequentially first if any step has not completed (the driver runs the
// chain itself when parallel evaluation is enabled; this is the fallback
// sequential path).
func (f *Function) GetValue() (float64, error) {
	for _, e := range f.funEval {
		if !e.IsRun() {
			if err := sequentialRun(f.funEval); err != nil {
				return 0, err
			}
			break
		}
	}
	v, err := f.outParser.Read(f.outFile)
	if err != nil {
		return 0, fmt.Errorf("function %q: %w", f.Name, err)
	}
	return v.Sum(), nil
}

// VarMask maps a variable to its start index in a flattened design vector,
// used to scatter per-variable gradient reads into the right slots.
type VarMask map[*variable.InputVariable]int

// GetGradient reads and assembles the gradient vector. If mask is nil the
// gradient covers exactly this function's own variables, in registration
// order; otherwise it is scattered into a vector sized and indexed by mask
// (the driver's shared design-vector layout).
func (f *Function) GetGradient(mask VarMask) ([]float64, error) {
	for _, e := range f.gradEval {
		if !e.IsRun() {
			if err := sequentialRun(f.gradEval); err != nil {
				return nil, err
			}
			break
		}
	}

	size := 0
	if mask == nil {
		for _, v := range f.variables {
			size += v.Size
		}
	} else {
		for v := range mask {
			size += v.Size
		}
	}

	gradient := make([]float64, size)
	idx := 0
	for i, v := range f.variables {
		if f.gradParse[i] == nil {
			return nil, fmt.Errorf("function %q has no gradient source for variable %q", f.Name, v.Name)
		}
		val, err := f.gradParse[i].Read(f.gradFiles[i])
		if err != nil {
			return nil, fmt.Errorf("function %q gradient for variable %q: %w", f.Name, v.Name, err)
		}

		var g []float64
		if v.Size == 1 {
			g = []float64{val.Sum()}
		} else {
			g = val.AsVector()
		}

		if mask != nil {
			idx = mask[v]
		}
		for _, x := range g {
			if idx >= len(gradient) {
				break
			}
			gradient[idx] = x
			idx++
		}
	}

	return gradient, nil
}

func sequentialRun(evals []Eval) error {
	for _, e := range evals {
		if err := e.Initialize(); err != nil {
			return err
		}
		for {
			done, _, err := e.Poll()
			if err != nil {
				return err
			}
			if done {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return nil
}

// ResetValueEvalChain finalizes every step of the value pipeline so the next
// GetValue call re-runs it from scratch.
func (f *Function) ResetValueEvalChain() {
	for _, e := range f.funEval {
		if finalizer, ok := e.(interface{ Finalize() }); ok {
			finalizer.Finalize()
		}
	}
}

// ResetGradientEvalChain finalizes every step of the gradient pipeline.
func (f *Function) ResetGradientEvalChain() {
	for _, e := range f.gradEval {
		if finalizer, ok := e.(interface{ Finalize() }); ok {
			finalizer.Finalize()
		}
	}
}
