package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("IdenticalVectors", func(t *testing.T) {
		v := []float32{0.5, 0.5, 0.1}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	})

	t.Run("OppositeVectors", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{-1, 0}
		assert.InDelta(t, -1.0, CosineSimilarity(a, b), 1e-9)
	})

	t.Run("Orthogonal", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
	})

	t.Run("Symmetric", func(t *testing.T) {
		a := []float32{0.3, 0.7, 0.2}
		b := []float32{0.9, 0.1, 0.4}
		assert.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	})

	t.Run("ZeroMagnitude", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	})

	t.Run("EmptyVectors", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity(nil, nil))
	})
}

func TestNormalizeVector(t *testing.T) {
	t.Run("UnitLength", func(t *testing.T) {
		normalized := NormalizeVector([]float32{3, 4})
		var mag float64
		for _, v := range normalized {
			mag += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(mag), 1e-6)
	})

	t.Run("ZeroVectorUnchanged", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		assert.Equal(t, zero, NormalizeVector(zero))
	})
}
