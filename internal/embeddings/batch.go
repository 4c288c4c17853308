package embeddings

import (
	"errors"
	"fmt"
)

// EncodedBatch is the rectangular model input for one batch.
type EncodedBatch struct {
	TokenIDs     [][]int64
	TokenTypeIDs [][]int64
	// Lengths holds the unpadded length of each sequence.
	Lengths []int
	Width   int
}

// Tokens returns the number of real (non-padding) tokens in the batch.
func (b *EncodedBatch) Tokens() int {
	n := 0
	for _, l := range b.Lengths {
		n += l
	}
	return n
}

// BatchEncoder turns an ordered list of sentences into model inputs.
type BatchEncoder struct {
	tokenizer Tokenizer
	padding   PaddingPolicy
}

// NewBatchEncoder creates a batch encoder with a fixed padding policy.
func NewBatchEncoder(tokenizer Tokenizer, padding PaddingPolicy) *BatchEncoder {
	return &BatchEncoder{tokenizer: tokenizer, padding: padding}
}

// Encode tokenizes and pads the batch. Row i always belongs to sentences[i].
func (e *BatchEncoder) Encode(sentences []string) (*EncodedBatch, error) {
	if len(sentences) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}

	seqs, err := e.tokenizer.EncodeBatch(sentences)
	if err != nil {
		return nil, wrapTokenization(err)
	}
	if len(seqs) != len(sentences) {
		return nil, fmt.Errorf("%w: tokenizer returned %d sequences for %d sentences",
			ErrTokenizationFailed, len(seqs), len(sentences))
	}

	lengths := make([]int, len(seqs))
	for i, s := range seqs {
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: sentence %d produced no tokens", ErrTokenizationFailed, i)
		}
		lengths[i] = len(s)
	}

	ids, err := e.padding.Pad(seqs)
	if err != nil {
		return nil, err
	}
	width := len(ids[0])

	types := make([][]int64, len(ids))
	for i := range types {
		types[i] = make([]int64, width)
	}

	return &EncodedBatch{
		TokenIDs:     ids,
		TokenTypeIDs: types,
		Lengths:      lengths,
		Width:        width,
	}, nil
}

func wrapTokenization(err error) error {
	if errors.Is(err, ErrTokenizationFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTokenizationFailed, err)
}
