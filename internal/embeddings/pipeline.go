package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PipelineConfig fixes the parts of the pipeline that never change per call.
type PipelineConfig struct {
	PadID int64
	// HiddenSize is checked against encoder output when > 0.
	HiddenSize int
}

// SentenceTransformer turns sentences into unit-length embeddings and scores
// them. It holds no mutable state; concurrent use is safe when the tokenizer
// and backend are.
type SentenceTransformer struct {
	encoder    *BatchEncoder
	backend    TransformerBackend
	hiddenSize int
	logger     *zap.Logger
}

// NewSentenceTransformer assembles the pipeline from its collaborators.
func NewSentenceTransformer(cfg PipelineConfig, tokenizer Tokenizer, backend TransformerBackend, logger *zap.Logger) (*SentenceTransformer, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", ErrConfigError)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrModelNotLoaded)
	}
	if cfg.PadID < 0 {
		return nil, fmt.Errorf("%w: pad id must be non-negative", ErrConfigError)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SentenceTransformer{
		encoder:    NewBatchEncoder(tokenizer, PaddingPolicy{PadID: cfg.PadID}),
		backend:    backend,
		hiddenSize: cfg.HiddenSize,
		logger:     logger,
	}, nil
}

// Embed returns one normalized embedding per sentence, in input order. All
// sentences share one padded batch.
func (t *SentenceTransformer) Embed(ctx context.Context, sentences []string) ([][]float32, error) {
	rows, _, err := t.EmbedBatch(ctx, sentences)
	return rows, err
}

// EmbedBatch is Embed that also returns the padded model input.
func (t *SentenceTransformer) EmbedBatch(ctx context.Context, sentences []string) ([][]float32, *EncodedBatch, error) {
	batch, err := t.encoder.Encode(sentences)
	if err != nil {
		return nil, nil, err
	}

	states, err := forward(ctx, t.backend, batch, t.hiddenSize)
	if err != nil {
		return nil, nil, err
	}

	pooled, err := MeanPool(states)
	if err != nil {
		return nil, nil, err
	}
	NormalizeRows(pooled)

	t.logger.Debug("Embedded batch",
		zap.Int("sentences", len(sentences)),
		zap.Int("padded_width", batch.Width),
		zap.Int("hidden", states.Hidden))

	return pooled, batch, nil
}

// Similarity embeds a and b in separate batches and returns their dot score.
// Neither sentence is padded on account of the other.
func (t *SentenceTransformer) Similarity(ctx context.Context, a, b string) (float32, error) {
	ea, err := t.Embed(ctx, []string{a})
	if err != nil {
		return 0, err
	}
	eb, err := t.Embed(ctx, []string{b})
	if err != nil {
		return 0, err
	}
	return DotScore(ea[0], eb[0])
}

// SimilarityBatch embeds a and b in one batch and returns their dot score.
// The shorter sentence is pooled over the longer one's width, so the score
// drifts from Similarity as the length gap grows.
func (t *SentenceTransformer) SimilarityBatch(ctx context.Context, a, b string) (float32, error) {
	e, err := t.Embed(ctx, []string{a, b})
	if err != nil {
		return 0, err
	}
	return DotScore(e[0], e[1])
}
