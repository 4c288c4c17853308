//go:build !onnx
// +build !onnx

package embeddings

import (
	"fmt"

	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewTransformerBackend(logger *zap.Logger, cfg ModelConfig) (TransformerBackend, error) {
	return nil, fmt.Errorf("%w: binary built without the onnx tag", ErrModelNotLoaded)
}
