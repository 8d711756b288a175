// Package penalty implements the exterior penalty method's per-constraint
// coefficient bookkeeping and update law (spec.md §4.5, §8 invariant 6).
// Grounded on original_source/drivers/exterior_penalty.py's update(), which
// tracks a single penalty coefficient per bucket (EQ, GT); this package
// generalizes that to one coefficient and one (tol, rIni, rMax, factorUp,
// factorDown) tuple per constraint, and extends the same law to LT and IN
// buckets, which the original only evaluates through its IPOPT-backed driver
// (original_source/drivers/ipopt_driver.py) rather than the penalty method.
package penalty

// Kind selects the feasibility direction of a constraint, matching
// DriverBase's four constraint buckets.
type Kind int

const (
	EQ Kind = iota
	LT
	GT
	IN
)

// Config is one constraint's penalty-update parameters.
type Config struct {
	Tol        float64
	RIni       float64
	RMax       float64
	FactorUp   float64
	FactorDown float64
	Bound1     float64 // IN only: lower bound
	Bound2     float64 // IN only: upper bound
}

// DefaultConfig mirrors original_source's ExteriorPenaltyDriver defaults
// (tol is caller-supplied there; rini=8, rmax=1024, factorUp=4, factorDown=0.5).
func DefaultConfig(tol float64) Config {
	return Config{Tol: tol, RIni: 8, RMax: 1024, FactorUp: 4, FactorDown: 0.5}
}

// Bucket tracks one penalty coefficient per constraint of a given Kind.
type Bucket struct {
	Kind    Kind
	configs []Config
	coeffs  []float64
}

// NewBucket seeds one coefficient per config at its RIni.
func NewBucket(kind Kind, configs []Config) *Bucket {
	coeffs := make([]float64, len(configs))
	for i, c := range configs {
		coeffs[i] = c.RIni
	}
	return &Bucket{Kind: kind, configs: append([]Config(nil), configs...), coeffs: coeffs}
}

// Len returns the number of constraints in this bucket.
func (b *Bucket) Len() int { return len(b.coeffs) }

// Coefficients returns the current penalty coefficients, in constraint order.
func (b *Bucket) Coefficients() []float64 { return b.coeffs }

// Term returns the i'th constraint's contribution to the combined objective
// given its shifted-and-scaled value g.
func (b *Bucket) Term(i int, g float64) float64 {
	r := b.coeffs[i]
	switch b.Kind {
	case EQ:
		return r * g * g
	case GT:
		return r * min(0, g) * g
	case LT:
		return r * max(0, g) * g
	case IN:
		// Quadratic in the violation distance (r*v^2), not the r*(v-1)*v form
		// some in-bounds penalty formulations use past the upper bound; this
		// keeps Term and Gradient a matched pair without a sign case at v=1.
		v := b.inViolation(i, g)
		return r * v * v
	default:
		return 0
	}
}

// Gradient returns d(Term)/dg for the i'th constraint, the weight the driver
// multiplies a constraint's own gradient by when accumulating the combined
// penalized gradient.
func (b *Bucket) Gradient(i int, g float64) float64 {
	r := b.coeffs[i]
	switch b.Kind {
	case EQ:
		return 2 * r * g
	case GT:
		return 2 * r * min(0, g)
	case LT:
		return 2 * r * max(0, g)
	case IN:
		v := b.inViolation(i, g)
		if g < b.configs[i].Bound1 {
			return -2 * r * v
		}
		if g > b.configs[i].Bound2 {
			return 2 * r * v
		}
		return 0
	default:
		return 0
	}
}

// Update applies one outer-iteration penalty adjustment across the bucket
// given the current (shifted, scaled) constraint values, returning whether
// every constraint in the bucket is feasible.
func (b *Bucket) Update(values []float64) (feasible bool) {
	feasible = true
	for i, g := range values {
		c := b.configs[i]
		switch b.Kind {
		case EQ:
			if abs(g) > c.Tol {
				b.coeffs[i] = min(b.coeffs[i]*c.FactorUp, c.RMax)
				feasible = false
			}
		case GT:
			if g < -c.Tol {
				b.coeffs[i] = min(b.coeffs[i]*c.FactorUp, c.RMax)
				feasible = false
			} else if g > 0 {
				b.coeffs[i] = max(b.coeffs[i]*c.FactorDown, c.RIni)
			}
		case LT:
			if g > c.Tol {
				b.coeffs[i] = min(b.coeffs[i]*c.FactorUp, c.RMax)
				feasible = false
			} else if g < 0 {
				b.coeffs[i] = max(b.coeffs[i]*c.FactorDown, c.RIni)
			}
		case IN:
			v := b.inViolation(i, g)
			if v > c.Tol {
				b.coeffs[i] = min(b.coeffs[i]*c.FactorUp, c.RMax)
				feasible = false
			} else if v == 0 {
				b.coeffs[i] = max(b.coeffs[i]*c.FactorDown, c.RIni)
			}
		}
	}
	return feasible
}

// inViolation returns how far outside [Bound1, Bound2] g sits, 0 if inside.
func (b *Bucket) inViolation(i int, g float64) float64 {
	c := b.configs[i]
	if g < c.Bound1 {
		return c.Bound1 - g
	}
	if g > c.Bound2 {
		return g - c.Bound2
	}
	return 0
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func abs(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
