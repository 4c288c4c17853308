//go:build !onnx
// +build !onnx

package embeddings

import (
	"fmt"
)

// HFTokenizer is unavailable without the onnx build tag.
type HFTokenizer struct{}

// NewHFTokenizer always fails in builds without native libraries.
func NewHFTokenizer(path string, maxLength int) (*HFTokenizer, error) {
	return nil, fmt.Errorf("%w: binary built without the onnx tag", ErrModelNotLoaded)
}

// EncodeBatch implements Tokenizer.
func (t *HFTokenizer) EncodeBatch(sentences []string) ([][]int64, error) {
	return nil, fmt.Errorf("%w: huggingface tokenizer not available", ErrTokenizationFailed)
}

// Close is a no-op.
func (t *HFTokenizer) Close() error {
	return nil
}
