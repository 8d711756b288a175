package funcpipeline

import "github.com/longregen/nlpdrive/internal/variable"

// FunctionLike is the common surface DriverBase needs from an objective or
// constraint: both *Function and *NonDiscreteness satisfy it. Grounded on
// original_source/function.py's FunctionBase abstract class.
type FunctionLike interface {
	GetName() string
	GetVariables() []*variable.InputVariable
	GetParameters() []*variable.Parameter
	GetValue() (float64, error)
	GetGradient(mask VarMask) ([]float64, error)
	GetValueEvalChain() []Eval
	GetGradientEvalChain() []Eval
	ResetValueEvalChain()
	ResetGradientEvalChain()
}

// GetName returns the function's name.
func (f *Function) GetName() string { return f.Name }

// GetName returns the measure's name.
func (n *NonDiscreteness) GetName() string { return n.Name }

var (
	_ FunctionLike = (*Function)(nil)
	_ FunctionLike = (*NonDiscreteness)(nil)
)
