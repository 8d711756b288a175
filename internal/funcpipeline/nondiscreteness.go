package funcpipeline

import "github.com/longregen/nlpdrive/internal/variable"

// NonDiscreteness is a closed-form measure of how far the current design sits
// from its bounds' midpoints, typically used as a constraint that pushes a
// relaxed discrete design back toward 0/1 extremes. Grounded on
// original_source/function.py's NonDiscreteness; unlike Function it needs no
// external process, so its value and gradient are computed directly.
type NonDiscreteness struct {
	Name      string
	variables []*variable.InputVariable
}

// NewNonDiscreteness builds an empty measure; variables are added with
// AddInputVariable.
func NewNonDiscreteness(name string) *NonDiscreteness {
	return &NonDiscreteness{Name: name}
}

// AddInputVariable registers a variable this measure aggregates over.
func (n *NonDiscreteness) AddInputVariable(v *variable.InputVariable) {
	n.variables = append(n.variables, v)
}

func (n *NonDiscreteness) GetVariables() []*variable.InputVariable { return n.variables }

func (n *NonDiscreteness) GetParameters() []*variable.Parameter { return nil }

// GetValue returns 4*mean((ub-x)(x-lb)/(ub+lb)^2) across all variable
// components. For bounds [0, ub] this is 1 at the bound midpoint and 0 at
// either bound; it is undefined when ub+lb is 0.
func (n *NonDiscreteness) GetValue() (float64, error) {
	var y float64
	var total int
	for _, v := range n.variables {
		total += v.Size
		for i := 0; i < v.Size; i++ {
			x, lb, ub := v.Current[i], v.Lower[i], v.Upper[i]
			denom := ub + lb
			y += (ub - x) * (x - lb) / (denom * denom)
		}
	}
	if total == 0 {
		return 0, nil
	}
	return 4 * y / float64(total), nil
}

// GetGradient returns d/dx of GetValue, scattered per mask the same way
// Function.GetGradient does.
func (n *NonDiscreteness) GetGradient(mask VarMask) ([]float64, error) {
	var total int
	for _, v := range n.variables {
		total += v.Size
	}

	size := total
	if mask != nil {
		size = 0
		for v := range mask {
			size += v.Size
		}
	}

	gradient := make([]float64, size)
	idx := 0
	for _, v := range n.variables {
		if mask != nil {
			idx = mask[v]
		}
		for i := 0; i < v.Size; i++ {
			x, lb, ub := v.Current[i], v.Lower[i], v.Upper[i]
			denom := ub + lb
			g := (4.0 / float64(total)) * (ub + lb - 2*x) / (denom * denom)
			if idx < len(gradient) {
				gradient[idx] = g
			}
			idx++
		}
	}
	return gradient, nil
}

func (n *NonDiscreteness) ResetValueEvalChain()         {}
func (n *NonDiscreteness) ResetGradientEvalChain()      {}
func (n *NonDiscreteness) GetValueEvalChain() []Eval    { return nil }
func (n *NonDiscreteness) GetGradientEvalChain() []Eval { return nil }
