// Package iospec defines the narrow capability interfaces that let variables,
// parameters, and functions template configuration files and read solver
// output, without the core engine knowing about any concrete file format
// (spec.md §6, §9). The provided writers are LabelReplacer,
// ArrayLabelReplacer, TableWriter and PreStringHandler; the provided parsers
// are PreStringHandler and TableReader. A production system plugs in more
// without touching the engine.
package iospec

import "fmt"

// Writer substitutes a value into a template file in place.
type Writer interface {
	Write(path string, value any) error
}

// Value is the sum type a Parser returns: either a single scalar or a
// vector, collapsed by the caller per spec.md §9 ("sum if the variable is
// scalar but parse yielded a vector; else broadcast").
type Value struct {
	scalar float64
	vector []float64
	isVec  bool
}

// Scalar wraps a single float64 as a Value.
func Scalar(v float64) Value { return Value{scalar: v} }

// Vector wraps a []float64 as a Value.
func Vector(v []float64) Value { return Value{vector: v, isVec: true} }

// IsVector reports whether the value carries a vector payload.
func (v Value) IsVector() bool { return v.isVec }

// AsScalar returns the scalar payload, or the first element of a vector
// payload if the vector has exactly one element.
func (v Value) AsScalar() (float64, error) {
	if !v.isVec {
		return v.scalar, nil
	}
	if len(v.vector) == 1 {
		return v.vector[0], nil
	}
	return 0, fmt.Errorf("value is a %d-element vector, not a scalar", len(v.vector))
}

// AsVector returns the payload as a slice, broadcasting a scalar to length 1.
func (v Value) AsVector() []float64 {
	if v.isVec {
		return v.vector
	}
	return []float64{v.scalar}
}

// Sum collapses a vector payload to a scalar by summation (spec.md §4.2's
// "missing/partial reads raise; sum if scalar variable got a vector read").
func (v Value) Sum() float64 {
	if !v.isVec {
		return v.scalar
	}
	var s float64
	for _, x := range v.vector {
		s += x
	}
	return s
}

// Parser reads a scalar or vector from a solver output file.
type Parser interface {
	Read(path string) (Value, error)
}
