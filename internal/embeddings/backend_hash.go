package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// HashBackend is a deterministic stand-in for a transformer. Each token id
// maps to a fixed pseudo-random vector with a zero first component; the pad
// id maps to a vector along the first axis only. Padding therefore shifts a
// pooled embedding the way a real encoder's pad states do.
type HashBackend struct {
	hidden   int
	padID    int64
	padScale float32
}

// NewHashBackend creates a mock backend producing hiddenSize-wide states.
func NewHashBackend(hiddenSize int, padID int64) (*HashBackend, error) {
	if hiddenSize < 2 {
		return nil, fmt.Errorf("%w: hash backend needs hidden size >= 2, got %d", ErrConfigError, hiddenSize)
	}
	return &HashBackend{
		hidden: hiddenSize,
		padID:  padID,
		// Matches the expected norm of a token vector.
		padScale: float32(math.Sqrt(float64(hiddenSize-1) / 3)),
	}, nil
}

// Forward implements TransformerBackend.
func (b *HashBackend) Forward(ctx context.Context, tokenIDs, tokenTypeIDs [][]int64) (*HiddenStates, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(tokenTypeIDs) != len(tokenIDs) {
		return nil, fmt.Errorf("token type batch %d != token batch %d", len(tokenTypeIDs), len(tokenIDs))
	}
	width := len(tokenIDs[0])
	for i, row := range tokenIDs {
		if len(row) != width || len(tokenTypeIDs[i]) != width {
			return nil, fmt.Errorf("ragged input at row %d", i)
		}
	}

	states := &HiddenStates{
		Batch:  len(tokenIDs),
		Tokens: width,
		Hidden: b.hidden,
		Data:   make([]float32, len(tokenIDs)*width*b.hidden),
	}
	for i, row := range tokenIDs {
		for t, id := range row {
			b.tokenVector(id, states.Vector(i, t))
		}
	}
	return states, nil
}

func (b *HashBackend) tokenVector(id int64, dst []float32) {
	if id == b.padID {
		dst[0] = b.padScale
		return
	}

	var seed [16]byte
	binary.LittleEndian.PutUint64(seed[:8], uint64(id))
	var block [sha256.Size]byte
	for d := 1; d < len(dst); d++ {
		j := (d - 1) % sha256.Size
		if j == 0 {
			binary.LittleEndian.PutUint64(seed[8:], uint64(d))
			block = sha256.Sum256(seed[:])
		}
		dst[d] = float32(block[j])/255.0*2.0 - 1.0
	}
}
