package embeddings

import (
	"fmt"
	"math"
)

// DotScore returns the dot product of two vectors. For unit vectors this is
// the cosine similarity. The result is not clamped to [-1, 1].
func DotScore(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: vector length mismatch %d != %d", ErrInvalidInput, len(a), len(b))
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	if f := float64(sum); math.IsNaN(f) || math.IsInf(f, 0) {
		return sum, fmt.Errorf("%w: similarity is %v", ErrNumericAnomaly, sum)
	}
	return sum, nil
}
