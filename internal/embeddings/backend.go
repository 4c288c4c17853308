package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// TransformerBackend defines a pluggable backend for transformer inference.
// Implementations may use ONNX Runtime or a deterministic mock.
type TransformerBackend interface {
	// Forward runs the encoder over a rectangular batch and returns one
	// hidden vector per token slot, padding slots included.
	Forward(ctx context.Context, tokenIDs, tokenTypeIDs [][]int64) (*HiddenStates, error)
}

// forward invokes the backend and checks the [B][T][H] contract.
func forward(ctx context.Context, backend TransformerBackend, batch *EncodedBatch, hiddenSize int) (*HiddenStates, error) {
	states, err := backend.Forward(ctx, batch.TokenIDs, batch.TokenTypeIDs)
	if err != nil {
		if errors.Is(err, ErrEncoderFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEncoderFailed, err)
	}
	if states == nil {
		return nil, fmt.Errorf("%w: backend returned no output", ErrEncoderFailed)
	}

	b, t := len(batch.TokenIDs), batch.Width
	switch {
	case states.Batch != b || states.Tokens != t:
		return nil, fmt.Errorf("%w: output shape [%d %d %d] does not match batch [%d %d]",
			ErrEncoderFailed, states.Batch, states.Tokens, states.Hidden, b, t)
	case states.Hidden <= 0:
		return nil, fmt.Errorf("%w: output has no hidden dimension", ErrEncoderFailed)
	case hiddenSize > 0 && states.Hidden != hiddenSize:
		return nil, fmt.Errorf("%w: hidden size %d, expected %d", ErrEncoderFailed, states.Hidden, hiddenSize)
	case len(states.Data) != b*t*states.Hidden:
		return nil, fmt.Errorf("%w: output holds %d values for shape [%d %d %d]",
			ErrEncoderFailed, len(states.Data), b, t, states.Hidden)
	}
	return states, nil
}
