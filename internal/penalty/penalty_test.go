package penalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqualityBucketIncreasesWhenOutsideTolerance(t *testing.T) {
	b := NewBucket(EQ, []Config{DefaultConfig(1e-6)})
	feasible := b.Update([]float64{0.5})
	assert.False(t, feasible)
	assert.Equal(t, 8.0*4, b.Coefficients()[0])
}

func TestEqualityBucketNeverDecreases(t *testing.T) {
	b := NewBucket(EQ, []Config{DefaultConfig(1e-6)})
	b.Update([]float64{0.5})
	b.Update([]float64{0.0})
	assert.Equal(t, 32.0, b.Coefficients()[0], "EQ coefficients only ratchet up, matching the original driver")
}

func TestEqualityBucketCapsAtRMax(t *testing.T) {
	cfg := DefaultConfig(1e-6)
	cfg.RMax = 20
	b := NewBucket(EQ, []Config{cfg})
	for i := 0; i < 5; i++ {
		b.Update([]float64{1.0})
	}
	assert.Equal(t, 20.0, b.Coefficients()[0])
}

func TestLowerBoundBucketIncreasesWhenViolated(t *testing.T) {
	b := NewBucket(GT, []Config{DefaultConfig(1e-6)})
	feasible := b.Update([]float64{-1.0})
	assert.False(t, feasible)
	assert.Equal(t, 32.0, b.Coefficients()[0])
}

func TestLowerBoundBucketDecaysTowardRIniWhenFeasible(t *testing.T) {
	cfg := DefaultConfig(1e-6)
	b := NewBucket(GT, []Config{cfg})
	b.Update([]float64{-1.0}) // 8 -> 32
	feasible := b.Update([]float64{1.0})
	assert.True(t, feasible)
	assert.Equal(t, 16.0, b.Coefficients()[0])
}

func TestLowerBoundBucketStaysAtOrAboveRIniWhenDecaying(t *testing.T) {
	b := NewBucket(GT, []Config{DefaultConfig(1e-6)})
	b.Update([]float64{1.0})
	assert.Equal(t, 8.0, b.Coefficients()[0])
}

func TestUpperBoundBucketMirrorsLowerBound(t *testing.T) {
	b := NewBucket(LT, []Config{DefaultConfig(1e-6)})
	feasible := b.Update([]float64{1.0})
	assert.False(t, feasible)
	assert.Equal(t, 32.0, b.Coefficients()[0])
}

func TestInBucketFeasibleInsideRange(t *testing.T) {
	cfg := DefaultConfig(1e-6)
	cfg.Bound1, cfg.Bound2 = -1, 1
	b := NewBucket(IN, []Config{cfg})
	feasible := b.Update([]float64{0.0})
	assert.True(t, feasible)
}

func TestInBucketInfeasibleOutsideRange(t *testing.T) {
	cfg := DefaultConfig(1e-6)
	cfg.Bound1, cfg.Bound2 = -1, 1
	b := NewBucket(IN, []Config{cfg})
	feasible := b.Update([]float64{2.0})
	assert.False(t, feasible)
	assert.Equal(t, 32.0, b.Coefficients()[0])
}

func TestTermMatchesExteriorPenaltyFormula(t *testing.T) {
	b := NewBucket(GT, []Config{DefaultConfig(1e-6)})
	// r=8 initial, g=-0.5: term = r*min(0,g)*g = 8*(-0.5)*(-0.5) = 2.0
	assert.Equal(t, 2.0, b.Term(0, -0.5))
	// g positive: inactive, contributes 0
	assert.Equal(t, 0.0, b.Term(0, 0.5))
}
