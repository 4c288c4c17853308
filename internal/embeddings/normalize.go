package embeddings

import (
	"math"
)

// NormalizeEmbedding scales vec in place to unit L2 norm. A zero vector turns
// into NaN values; callers detect that when scoring.
func NormalizeEmbedding(vec []float32) {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	norm := float32(math.Sqrt(float64(sum)))
	for i := range vec {
		vec[i] /= norm
	}
}

// NormalizeRows normalizes every row of a pooled batch in place.
func NormalizeRows(rows [][]float32) {
	for _, row := range rows {
		NormalizeEmbedding(row)
	}
}

// IsFinite reports whether every component of vec is a finite number.
func IsFinite(vec []float32) bool {
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
