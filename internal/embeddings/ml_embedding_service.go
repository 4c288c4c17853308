package embeddings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MLEmbeddingService serves the sentence-transformer pipeline with optional
// caching of single-sentence embeddings and running statistics.
type MLEmbeddingService struct {
	config    ModelConfig
	cacheKey  string
	logger    *zap.Logger
	pipeline  *SentenceTransformer
	tokenizer Tokenizer
	backend   TransformerBackend
	cache     EmbeddingCache
	stats     *ModelStats
	mu        sync.RWMutex
	startTime time.Time
}

// NewMLEmbeddingService wires a tokenizer and backend into a service. cache may be nil.
func NewMLEmbeddingService(config ModelConfig, logger *zap.Logger, tokenizer Tokenizer, backend TransformerBackend, cache EmbeddingCache) (*MLEmbeddingService, error) {
	start := time.Now()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing embedding service",
		zap.String("model", config.ModelName),
		zap.String("backend", config.Backend),
		zap.Bool("cache_enabled", cache != nil),
		zap.String("fingerprint", Fingerprint(config)))

	pipeline, err := NewSentenceTransformer(PipelineConfig{
		PadID:      config.PadID,
		HiddenSize: config.HiddenSize,
	}, tokenizer, backend, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	service := &MLEmbeddingService{
		config:    config,
		cacheKey:  Fingerprint(config),
		logger:    logger,
		pipeline:  pipeline,
		tokenizer: tokenizer,
		backend:   backend,
		cache:     cache,
		startTime: start,
		stats: &ModelStats{
			ServiceType:   config.Backend,
			StartTime:     start,
			ModelLoadTime: time.Since(start),
		},
	}

	logger.Info("Embedding service initialized successfully",
		zap.Int("hidden_size", config.HiddenSize),
		zap.Int64("pad_id", config.PadID),
		zap.Int("max_batch_size", config.MaxBatchSize),
		zap.Duration("load_time", service.stats.ModelLoadTime))

	return service, nil
}

// Pipeline exposes the underlying sentence transformer.
func (s *MLEmbeddingService) Pipeline() *SentenceTransformer {
	return s.pipeline
}

// GenerateEmbedding embeds a single sentence on its own.
func (s *MLEmbeddingService) GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error) {
	start := time.Now()

	embedding, tokens, hit, err := s.single(ctx, text)
	if err != nil {
		return nil, err
	}

	return &EmbeddingResult{
		Embedding:   embedding,
		Duration:    time.Since(start),
		TokenCount:  tokens,
		ServiceType: s.config.Backend,
		CacheHit:    hit,
	}, nil
}

// GenerateBatchEmbeddings embeds texts as one padded batch. The batch is
// never split, since splitting would change the padded width.
func (s *MLEmbeddingService) GenerateBatchEmbeddings(ctx context.Context, texts []string) (*BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: batch cannot be empty", ErrInvalidInput)
	}
	if s.config.MaxBatchSize > 0 && len(texts) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds max batch size %d", ErrInvalidInput, len(texts), s.config.MaxBatchSize)
	}

	start := time.Now()
	rows, batch, err := s.run(ctx, texts)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	s.logger.Debug("Batch embedding generation completed",
		zap.Int("batch_size", len(texts)),
		zap.Int("padded_width", batch.Width),
		zap.Duration("duration", duration))

	return &BatchEmbeddingResult{
		Embeddings:  rows,
		Duration:    duration,
		TotalTokens: batch.Tokens(),
		PaddedWidth: batch.Width,
		ServiceType: s.config.Backend,
	}, nil
}

// CosineSimilarity scores a and b with each sentence embedded alone.
func (s *MLEmbeddingService) CosineSimilarity(ctx context.Context, a, b string) (*SimilarityResult, error) {
	start := time.Now()

	ea, _, hitA, err := s.single(ctx, a)
	if err != nil {
		return nil, err
	}
	eb, _, hitB, err := s.single(ctx, b)
	if err != nil {
		return nil, err
	}

	score, err := s.ComputeSimilarity(ea, eb)
	result := &SimilarityResult{
		Score:       score,
		Mode:        ModePairwise,
		Duration:    time.Since(start),
		ServiceType: s.config.Backend,
	}
	if hitA {
		result.CacheHits++
	}
	if hitB {
		result.CacheHits++
	}
	return result, err
}

// CosineSimilarityBatch scores a and b embedded together in one batch.
func (s *MLEmbeddingService) CosineSimilarityBatch(ctx context.Context, a, b string) (*SimilarityResult, error) {
	start := time.Now()

	rows, _, err := s.run(ctx, []string{a, b})
	if err != nil {
		return nil, err
	}

	score, err := s.ComputeSimilarity(rows[0], rows[1])
	return &SimilarityResult{
		Score:       score,
		Mode:        ModeBatch,
		Duration:    time.Since(start),
		ServiceType: s.config.Backend,
	}, err
}

// ComputeSimilarity returns the dot score of two normalized embeddings. A
// non-finite score is returned together with ErrNumericAnomaly.
func (s *MLEmbeddingService) ComputeSimilarity(vec1, vec2 []float32) (float32, error) {
	score, err := DotScore(vec1, vec2)
	if errors.Is(err, ErrNumericAnomaly) {
		s.mu.Lock()
		s.stats.NumericAnomalies++
		s.mu.Unlock()
		s.logger.Warn("Non-finite similarity score", zap.Float32("score", score))
	}
	return score, err
}

// HealthCheck embeds a probe sentence end to end.
func (s *MLEmbeddingService) HealthCheck(ctx context.Context) error {
	rows, err := s.pipeline.Embed(ctx, []string{"health check"})
	if err != nil {
		return err
	}
	if !IsFinite(rows[0]) {
		return fmt.Errorf("%w: probe embedding is not finite", ErrNumericAnomaly)
	}
	return nil
}

// GetStats returns a snapshot of the service statistics.
func (s *MLEmbeddingService) GetStats() *ModelStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := *s.stats
	if lookups := stats.CacheHits + stats.CacheMisses; lookups > 0 {
		stats.CacheHitRatio = float64(stats.CacheHits) / float64(lookups)
	}
	return &stats
}

// Close releases the backend and tokenizer when they hold native resources.
func (s *MLEmbeddingService) Close() error {
	var errs []error
	if c, ok := s.backend.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.tokenizer.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	s.logger.Info("Embedding service closed")
	return errors.Join(errs...)
}

// single returns the embedding of one sentence embedded alone, consulting the cache.
func (s *MLEmbeddingService) single(ctx context.Context, text string) ([]float32, int, bool, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, s.cacheKey, text)
		if err != nil {
			s.logger.Warn("Embedding cache lookup failed", zap.Error(err))
		}
		s.mu.Lock()
		if ok {
			s.stats.CacheHits++
		} else {
			s.stats.CacheMisses++
		}
		s.mu.Unlock()
		if ok {
			return cached, 0, true, nil
		}
	}

	rows, batch, err := s.run(ctx, []string{text})
	if err != nil {
		return nil, 0, false, err
	}

	if s.cache != nil && IsFinite(rows[0]) {
		if err := s.cache.Set(ctx, s.cacheKey, text, rows[0]); err != nil {
			s.logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}
	return rows[0], batch.Tokens(), false, nil
}

// run executes the pipeline under the model timeout and records stats.
func (s *MLEmbeddingService) run(ctx context.Context, texts []string) ([][]float32, *EncodedBatch, error) {
	if s.config.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ModelTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, batch, err := s.pipeline.EmbedBatch(ctx, texts)
	duration := time.Since(start)

	s.mu.Lock()
	if err != nil {
		UpdateStats(s.stats, 0, 0, duration, false)
	} else {
		UpdateStats(s.stats, len(texts), batch.Tokens(), duration, true)
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("%w: %w", ErrTimeoutError, err)
		}
		s.logger.Debug("Embedding failed", zap.Int("batch_size", len(texts)), zap.Error(err))
		return nil, nil, err
	}
	return rows, batch, nil
}
