// Package variable implements the design-variable and parameter-sweep
// building blocks of the evaluation-coordination engine (spec.md §3).
package variable

import (
	"fmt"

	"github.com/longregen/nlpdrive/internal/iospec"
	"github.com/longregen/nlpdrive/internal/nlperrors"
)

// InputVariable is a bounded vector of real-valued design components. All
// vectors share the same length; the writer is immutable after construction.
// Values are mutated exclusively through SetCurrent, which the driver calls.
type InputVariable struct {
	Name    string
	Size    int
	Initial []float64
	Lower   []float64
	Upper   []float64
	Current []float64
	Scale   []float64
	writer  iospec.Writer
}

// New builds a vector-valued variable. x0, lb, ub and scale must all have
// length n (scale may be nil, defaulting to all-ones).
func New(name string, n int, x0, lb, ub, scale []float64, w iospec.Writer) (*InputVariable, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: variable %q size must be >= 1, got %d", nlperrors.ErrBadArgument, name, n)
	}
	if len(x0) != n || len(lb) != n || len(ub) != n {
		return nil, fmt.Errorf("%w: variable %q: x0/lb/ub must all have length %d", nlperrors.ErrBadArgument, name, n)
	}
	if scale == nil {
		scale = ones(n)
	} else if len(scale) != n {
		return nil, fmt.Errorf("%w: variable %q: scale must have length %d", nlperrors.ErrBadArgument, name, n)
	}
	current := make([]float64, n)
	copy(current, x0)
	return &InputVariable{
		Name:    name,
		Size:    n,
		Initial: append([]float64(nil), x0...),
		Lower:   append([]float64(nil), lb...),
		Upper:   append([]float64(nil), ub...),
		Current: current,
		Scale:   scale,
		writer:  w,
	}, nil
}

// NewScalar broadcasts scalar x0/lb/ub/scale to a size-1 variable.
func NewScalar(name string, x0, lb, ub, scale float64, w iospec.Writer) (*InputVariable, error) {
	return New(name, 1, []float64{x0}, []float64{lb}, []float64{ub}, []float64{scale}, w)
}

// SetCurrent overwrites Current in place. x must have length Size and is
// assumed already divided by Scale by the caller (DriverBase.setCurrent).
func (v *InputVariable) SetCurrent(x []float64) error {
	if len(x) != v.Size {
		return fmt.Errorf("%w: variable %q expects %d values, got %d", nlperrors.ErrBadArgument, v.Name, v.Size, len(x))
	}
	copy(v.Current, x)
	return nil
}

// Write templates the variable's current value into the given file using its
// writer capability.
func (v *InputVariable) Write(path string) error {
	if v.Size == 1 {
		return v.writer.Write(path, v.Current[0])
	}
	return v.writer.Write(path, v.Current)
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// Parameter is an ordered, finite sequence of values with a saturating
// cursor, used for stage-advancing homotopy/continuation.
type Parameter struct {
	Name      string
	Values    []float64
	cursor    int
	Transform func(float64) float64
	writer    iospec.Writer
}

// NewParameter requires at least one value.
func NewParameter(name string, values []float64, transform func(float64) float64, w iospec.Writer) (*Parameter, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: parameter %q needs at least one value", nlperrors.ErrBadArgument, name)
	}
	return &Parameter{Name: name, Values: append([]float64(nil), values...), Transform: transform, writer: w}, nil
}

// Current returns the value at the cursor, transformed if a Transform is set.
func (p *Parameter) Current() float64 {
	v := p.Values[p.cursor]
	if p.Transform != nil {
		return p.Transform(v)
	}
	return v
}

// Cursor returns the current index.
func (p *Parameter) Cursor() int { return p.cursor }

// Increment moves the cursor forward, saturating at the last index.
// Returns true if the cursor was already at (or moved to) saturation.
func (p *Parameter) Increment() (saturated bool) {
	last := len(p.Values) - 1
	if p.cursor >= last {
		p.cursor = last
		return true
	}
	p.cursor++
	return p.cursor == last
}

// Decrement moves the cursor backward, saturating at 0.
func (p *Parameter) Decrement() (saturated bool) {
	if p.cursor <= 0 {
		p.cursor = 0
		return true
	}
	p.cursor--
	return p.cursor == 0
}

// Write templates the parameter's current value into the given file.
func (p *Parameter) Write(path string) error {
	return p.writer.Write(path, p.Current())
}
