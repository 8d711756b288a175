package variable

import (
	"errors"
	"testing"

	"github.com/longregen/nlpdrive/internal/nlperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriter struct{ path string }

func (w *nopWriter) Write(path string, value any) error {
	w.path = path
	return nil
}

func TestNewRejectsMismatchedLengths(t *testing.T) {
	_, err := New("shape", 3, []float64{0, 0}, []float64{-1, -1, -1}, []float64{1, 1, 1}, nil, &nopWriter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, nlperrors.ErrBadArgument)
}

func TestNewDefaultsScaleToOnes(t *testing.T) {
	v, err := New("x", 2, []float64{1, 2}, []float64{0, 0}, []float64{5, 5}, nil, &nopWriter{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, v.Scale)
}

func TestSetCurrentCopiesValues(t *testing.T) {
	v, err := NewScalar("mach", 0.5, 0.1, 0.9, 1, &nopWriter{})
	require.NoError(t, err)

	require.NoError(t, v.SetCurrent([]float64{0.7}))
	assert.Equal(t, []float64{0.7}, v.Current)
	assert.Equal(t, []float64{0.5}, v.Initial, "Initial must not mutate")
}

func TestSetCurrentRejectsWrongLength(t *testing.T) {
	v, err := NewScalar("mach", 0.5, 0.1, 0.9, 1, &nopWriter{})
	require.NoError(t, err)
	err = v.SetCurrent([]float64{1, 2})
	assert.ErrorIs(t, err, nlperrors.ErrBadArgument)
}

func TestParameterIncrementSaturatesAtLast(t *testing.T) {
	p, err := NewParameter("beta", []float64{1, 2, 3}, nil, &nopWriter{})
	require.NoError(t, err)

	assert.False(t, p.Increment())
	assert.Equal(t, 1, p.Cursor())
	assert.True(t, p.Increment())
	assert.Equal(t, 2, p.Cursor())
	assert.True(t, p.Increment(), "further increment stays saturated")
	assert.Equal(t, 2, p.Cursor())
}

func TestParameterDecrementSaturatesAtZero(t *testing.T) {
	p, err := NewParameter("beta", []float64{1, 2, 3}, nil, &nopWriter{})
	require.NoError(t, err)
	p.Increment()
	p.Increment()

	assert.False(t, p.Decrement())
	assert.Equal(t, 1, p.Cursor())
	assert.True(t, p.Decrement())
	assert.True(t, p.Decrement())
	assert.Equal(t, 0, p.Cursor())
}

func TestParameterCurrentAppliesTransform(t *testing.T) {
	p, err := NewParameter("penalty", []float64{1, 2}, func(x float64) float64 { return x * 10 }, &nopWriter{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Current())
}

func TestNewParameterRejectsEmptyValues(t *testing.T) {
	_, err := NewParameter("beta", nil, nil, &nopWriter{})
	assert.True(t, errors.Is(err, nlperrors.ErrBadArgument))
}
