package embeddings

import (
	"fmt"
)

// MeanPool averages the hidden vectors of every token slot of each sentence,
// padding slots included, and divides by the padded width.
//
// Slots are not masked: a sentence pooled inside a batch with longer
// sentences gets a different vector than when pooled alone.
func MeanPool(states *HiddenStates) ([][]float32, error) {
	if states.Tokens == 0 {
		return nil, fmt.Errorf("%w: cannot pool zero tokens", ErrEncoderFailed)
	}

	inv := 1 / float32(states.Tokens)
	pooled := make([][]float32, states.Batch)
	for b := 0; b < states.Batch; b++ {
		sum := make([]float32, states.Hidden)
		for t := 0; t < states.Tokens; t++ {
			for d, v := range states.Vector(b, t) {
				sum[d] += v
			}
		}
		for d := range sum {
			sum[d] *= inv
		}
		pooled[b] = sum
	}
	return pooled, nil
}
