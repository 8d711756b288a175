package iospec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAsScalar(t *testing.T) {
	v := Scalar(3.5)
	got, err := v.AsScalar()
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)
	assert.False(t, v.IsVector())
}

func TestValueAsScalarSingleElementVector(t *testing.T) {
	v := Vector([]float64{7})
	got, err := v.AsScalar()
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
}

func TestValueAsScalarRejectsMultiElementVector(t *testing.T) {
	v := Vector([]float64{1, 2, 3})
	_, err := v.AsScalar()
	assert.Error(t, err)
}

func TestValueAsVectorBroadcastsScalar(t *testing.T) {
	v := Scalar(2)
	assert.Equal(t, []float64{2}, v.AsVector())
}

func TestValueSumCollapsesVector(t *testing.T) {
	v := Vector([]float64{1, 2, 3, 4})
	assert.Equal(t, 10.0, v.Sum())
}

func TestValueSumScalarIsIdentity(t *testing.T) {
	v := Scalar(9)
	assert.Equal(t, 9.0, v.Sum())
}
