package embeddings

import (
	"context"
)

// EmbeddingService defines the interface for embedding generation services
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) (*BatchEmbeddingResult, error)
	CosineSimilarity(ctx context.Context, a, b string) (*SimilarityResult, error)
	CosineSimilarityBatch(ctx context.Context, a, b string) (*SimilarityResult, error)
	ComputeSimilarity(vec1, vec2 []float32) (float32, error)
	HealthCheck(ctx context.Context) error
	GetStats() *ModelStats
	Close() error
}

// EmbeddingCache stores single-sentence embeddings. Embeddings produced
// inside a multi-sentence batch depend on the batch and are never cached.
type EmbeddingCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, embedding []float32) error
}

// Ensure MLEmbeddingService implements the interface
var _ EmbeddingService = (*MLEmbeddingService)(nil)
