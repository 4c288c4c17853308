package embeddings

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testHidden = DefaultHiddenSize

func newTestPipeline(t *testing.T) *SentenceTransformer {
	t.Helper()
	backend, err := NewHashBackend(testHidden, 0)
	if err != nil {
		t.Fatalf("Failed to create hash backend: %v", err)
	}
	p, err := NewSentenceTransformer(PipelineConfig{HiddenSize: testHidden}, NewSimpleTokenizer(0), backend, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	return p
}

func closeTo(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// failingTokenizer fails on any sentence containing "bad".
type failingTokenizer struct{ inner *SimpleTokenizer }

func (f failingTokenizer) EncodeBatch(sentences []string) ([][]int64, error) {
	for _, s := range sentences {
		if strings.Contains(s, "bad") {
			return nil, errors.New("unknown byte sequence")
		}
	}
	return f.inner.EncodeBatch(sentences)
}

// stateBackend returns states produced by fn.
type stateBackend struct {
	fn    func(b, t int) (*HiddenStates, error)
	calls int
	mu    sync.Mutex
}

func (s *stateBackend) Forward(ctx context.Context, ids, types [][]int64) (*HiddenStates, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(len(ids), len(ids[0]))
}

func TestPaddingPolicy(t *testing.T) {
	p := PaddingPolicy{PadID: 7}

	t.Run("BatchLongest", func(t *testing.T) {
		seqs := [][]int64{{101, 5, 102}, {101, 5, 6, 7, 102}, {101, 102}}
		padded, err := p.Pad(seqs)
		if err != nil {
			t.Fatalf("Pad failed: %v", err)
		}
		for i, row := range padded {
			if len(row) != 5 {
				t.Errorf("Row %d has width %d, expected 5", i, len(row))
			}
		}
		if padded[0][3] != 7 || padded[0][4] != 7 || padded[2][2] != 7 {
			t.Errorf("Padding id not applied: %v", padded)
		}
		if padded[1][4] != 102 {
			t.Error("Longest row should be unchanged")
		}
	})

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		seqs := [][]int64{{1}, {1, 2}}
		if _, err := p.Pad(seqs); err != nil {
			t.Fatalf("Pad failed: %v", err)
		}
		if len(seqs[0]) != 1 {
			t.Error("Input sequence was modified")
		}
	})

	t.Run("ZeroWidth", func(t *testing.T) {
		_, err := p.Pad([][]int64{{}, {}})
		if !errors.Is(err, ErrTokenizationFailed) {
			t.Errorf("Expected tokenization error, got %v", err)
		}
	})
}

func TestBatchEncoder(t *testing.T) {
	enc := NewBatchEncoder(NewSimpleTokenizer(0), PaddingPolicy{})

	t.Run("ShapesAndTypes", func(t *testing.T) {
		batch, err := enc.Encode([]string{"Hello world", "I am a sentence for which I would like to get its embedding."})
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if batch.Lengths[0] != 4 {
			t.Errorf("Expected 4 tokens for 'Hello world', got %d", batch.Lengths[0])
		}
		if batch.Width != batch.Lengths[1] {
			t.Errorf("Width %d should equal longest length %d", batch.Width, batch.Lengths[1])
		}
		for i := range batch.TokenIDs {
			if len(batch.TokenIDs[i]) != batch.Width || len(batch.TokenTypeIDs[i]) != batch.Width {
				t.Fatalf("Row %d is not rectangular", i)
			}
			for _, v := range batch.TokenTypeIDs[i] {
				if v != 0 {
					t.Fatal("Token type ids must all be zero")
				}
			}
		}
		if batch.TokenIDs[0][0] != ClsTokenID || batch.TokenIDs[0][3] != SepTokenID || batch.TokenIDs[0][4] != 0 {
			t.Errorf("Unexpected first row: %v", batch.TokenIDs[0])
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		if _, err := enc.Encode(nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected invalid input, got %v", err)
		}
	})

	t.Run("EmptySentence", func(t *testing.T) {
		batch, err := enc.Encode([]string{""})
		if err != nil {
			t.Fatalf("Empty sentence should still encode special tokens: %v", err)
		}
		if batch.Width != 2 {
			t.Errorf("Expected width 2, got %d", batch.Width)
		}
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		_, err := enc.Encode([]string{"fine", "\xff\xfe"})
		if !errors.Is(err, ErrTokenizationFailed) {
			t.Errorf("Expected tokenization error, got %v", err)
		}
	})

	t.Run("TokenizerFailureWrapped", func(t *testing.T) {
		enc := NewBatchEncoder(failingTokenizer{NewSimpleTokenizer(0)}, PaddingPolicy{})
		_, err := enc.Encode([]string{"good", "bad"})
		if !errors.Is(err, ErrTokenizationFailed) {
			t.Errorf("Expected tokenization error, got %v", err)
		}
	})
}

func TestSimpleTokenizer(t *testing.T) {
	tok := NewSimpleTokenizer(0)

	ids, err := tok.Encode("Hello, World!")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// [CLS] hello , world ! [SEP]
	if len(ids) != 6 {
		t.Errorf("Expected 6 tokens, got %d: %v", len(ids), ids)
	}
	again, _ := tok.Encode("hello , world !")
	for i := range ids {
		if ids[i] != again[i] {
			t.Fatal("Tokenization should be case-insensitive and deterministic")
		}
	}

	truncated, _ := NewSimpleTokenizer(4).Encode("one two three four five")
	if len(truncated) != 4 || truncated[3] != SepTokenID {
		t.Errorf("Truncation should keep [SEP]: %v", truncated)
	}
}

func TestMeanPool(t *testing.T) {
	// One sentence, three slots (last is padding), hidden 2.
	states := &HiddenStates{
		Batch: 1, Tokens: 3, Hidden: 2,
		Data: []float32{1, 2, 3, 4, 5, 0},
	}
	pooled, err := MeanPool(states)
	if err != nil {
		t.Fatalf("MeanPool failed: %v", err)
	}
	if !closeTo(float64(pooled[0][0]), 3, 1e-6) || !closeTo(float64(pooled[0][1]), 2, 1e-6) {
		t.Errorf("Padding slot must count toward the mean, got %v", pooled[0])
	}

	if _, err := MeanPool(&HiddenStates{Batch: 1, Hidden: 2}); !errors.Is(err, ErrEncoderFailed) {
		t.Errorf("Expected error for zero tokens, got %v", err)
	}
}

func TestNormalizeEmbedding(t *testing.T) {
	t.Run("UnitNorm", func(t *testing.T) {
		v := []float32{3, 4}
		NormalizeEmbedding(v)
		if !closeTo(float64(v[0]), 0.6, 1e-7) || !closeTo(float64(v[1]), 0.8, 1e-7) {
			t.Errorf("Unexpected normalized vector %v", v)
		}
	})

	t.Run("ZeroVectorIsNaN", func(t *testing.T) {
		v := []float32{0, 0, 0}
		NormalizeEmbedding(v)
		if IsFinite(v) {
			t.Errorf("Zero vector should normalize to NaN, got %v", v)
		}
	})
}

func TestDotScore(t *testing.T) {
	t.Run("NotClamped", func(t *testing.T) {
		score, err := DotScore([]float32{1.5, 0}, []float32{1, 0})
		if err != nil {
			t.Fatalf("DotScore failed: %v", err)
		}
		if score != 1.5 {
			t.Errorf("Score should not be clamped, got %f", score)
		}
	})

	t.Run("NaN", func(t *testing.T) {
		nan := float32(math.NaN())
		score, err := DotScore([]float32{nan, 0}, []float32{1, 0})
		if !errors.Is(err, ErrNumericAnomaly) {
			t.Fatalf("Expected numeric anomaly, got %v", err)
		}
		if !math.IsNaN(float64(score)) {
			t.Errorf("NaN score must be returned as NaN, got %f", score)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		if _, err := DotScore([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected invalid input, got %v", err)
		}
	})
}

func TestSentenceTransformer(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t)

	sentences := []string{
		"Hello world",
		"I am a sentence for which I would like to get its embedding.",
		"This is a completely different text that is not similar to the other documents.",
		"This is another completely different text that is not similar to the other documents.",
	}

	t.Run("UnitLength", func(t *testing.T) {
		rows, err := p.Embed(ctx, sentences)
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(rows) != len(sentences) {
			t.Fatalf("Expected %d rows, got %d", len(sentences), len(rows))
		}
		for i, row := range rows {
			if len(row) != testHidden {
				t.Errorf("Row %d has %d dims", i, len(row))
			}
			var norm float64
			for _, v := range row {
				norm += float64(v) * float64(v)
			}
			if !closeTo(math.Sqrt(norm), 1, 1e-6) {
				t.Errorf("Row %d has norm %f", i, math.Sqrt(norm))
			}
		}
	})

	t.Run("Idempotence", func(t *testing.T) {
		for _, s := range sentences {
			score, err := p.Similarity(ctx, s, s)
			if err != nil {
				t.Fatalf("Similarity failed: %v", err)
			}
			if !closeTo(float64(score), 1, 1e-6) {
				t.Errorf("Similarity(%q, itself) = %f", s, score)
			}
		}
	})

	t.Run("Symmetry", func(t *testing.T) {
		for i := range sentences {
			for j := range sentences {
				ab, err := p.Similarity(ctx, sentences[i], sentences[j])
				if err != nil {
					t.Fatalf("Similarity failed: %v", err)
				}
				ba, _ := p.Similarity(ctx, sentences[j], sentences[i])
				if ab != ba {
					t.Errorf("Similarity not symmetric for %d,%d: %f vs %f", i, j, ab, ba)
				}
			}
		}
	})

	t.Run("Range", func(t *testing.T) {
		for i := range sentences {
			for j := range sentences {
				for _, score := range []func(context.Context, string, string) (float32, error){p.Similarity, p.SimilarityBatch} {
					s, err := score(ctx, sentences[i], sentences[j])
					if err != nil {
						t.Fatalf("Scoring failed: %v", err)
					}
					if s < -1-1e-6 || s > 1+1e-6 {
						t.Errorf("Score %f out of range", s)
					}
				}
			}
		}
	})

	t.Run("EqualLengthRowsMatchSingles", func(t *testing.T) {
		same := []string{"red apple pie", "blue sky today", "green tree here"}
		rows, err := p.Embed(ctx, same)
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		for i, s := range same {
			single, err := p.Embed(ctx, []string{s})
			if err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			for d := range single[0] {
				if rows[i][d] != single[0][d] {
					t.Fatalf("Row %d differs from its single-sentence embedding at dim %d", i, d)
				}
			}
		}
	})

	t.Run("OrderPreserved", func(t *testing.T) {
		rows, err := p.Embed(ctx, []string{sentences[0], sentences[1], sentences[2]})
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		permuted, err := p.Embed(ctx, []string{sentences[2], sentences[0], sentences[1]})
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		pairs := [][2]int{{0, 1}, {1, 2}, {2, 0}}
		for _, pr := range pairs {
			for d := range rows[pr[0]] {
				if rows[pr[0]][d] != permuted[pr[1]][d] {
					t.Fatalf("Row %d does not follow its sentence after permutation", pr[0])
				}
			}
		}
	})

	t.Run("EqualLengthVariantsAgree", func(t *testing.T) {
		a, b := "alpha beta gamma", "delta epsilon zeta"
		pair, _ := p.Similarity(ctx, a, b)
		batch, _ := p.SimilarityBatch(ctx, a, b)
		if pair != batch {
			t.Errorf("Equal-length sentences should score identically: %f vs %f", pair, batch)
		}
	})

	t.Run("DivergenceGrowsWithLengthGap", func(t *testing.T) {
		extra := strings.Fields("one two three four five six seven eight")
		prev := -1.0
		for _, gap := range []int{1, 2, 4, 8} {
			b := "alpha " + strings.Join(extra[:gap], " ")
			pair, err := p.Similarity(ctx, "alpha", b)
			if err != nil {
				t.Fatalf("Similarity failed: %v", err)
			}
			batch, err := p.SimilarityBatch(ctx, "alpha", b)
			if err != nil {
				t.Fatalf("SimilarityBatch failed: %v", err)
			}
			if pair <= 0 {
				t.Fatalf("Expected positive similarity, got %f", pair)
			}
			rel := 1 - float64(batch)/float64(pair)
			if rel <= prev {
				t.Errorf("Divergence at gap %d (%f) did not grow past %f", gap, rel, prev)
			}
			prev = rel
		}
	})

	t.Run("ConcurrentUse", func(t *testing.T) {
		want, err := p.Similarity(ctx, sentences[0], sentences[1])
		if err != nil {
			t.Fatalf("Similarity failed: %v", err)
		}
		var wg sync.WaitGroup
		errs := make(chan string, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := p.Similarity(ctx, sentences[0], sentences[1])
				if err != nil || got != want {
					errs <- "concurrent score mismatch"
				}
			}()
		}
		wg.Wait()
		close(errs)
		for e := range errs {
			t.Error(e)
		}
	})
}

func TestSentenceTransformerFailures(t *testing.T) {
	ctx := context.Background()
	tok := NewSimpleTokenizer(0)

	t.Run("EncoderErrorPropagates", func(t *testing.T) {
		backend := &stateBackend{fn: func(b, tk int) (*HiddenStates, error) {
			return nil, errors.New("out of memory")
		}}
		p, _ := NewSentenceTransformer(PipelineConfig{}, tok, backend, nil)
		_, err := p.Similarity(ctx, "a", "b")
		if !errors.Is(err, ErrEncoderFailed) {
			t.Errorf("Expected encoder error, got %v", err)
		}
		if backend.calls != 1 {
			t.Errorf("Pipeline should stop at the first failure, got %d calls", backend.calls)
		}
	})

	t.Run("TokenizationErrorBeforeEncoder", func(t *testing.T) {
		backend := &stateBackend{fn: func(b, tk int) (*HiddenStates, error) {
			return &HiddenStates{Batch: b, Tokens: tk, Hidden: 2, Data: make([]float32, b*tk*2)}, nil
		}}
		p, _ := NewSentenceTransformer(PipelineConfig{}, failingTokenizer{tok}, backend, nil)
		_, err := p.SimilarityBatch(ctx, "fine", "bad")
		if !errors.Is(err, ErrTokenizationFailed) {
			t.Errorf("Expected tokenization error, got %v", err)
		}
		if backend.calls != 0 {
			t.Error("Encoder should not run after a tokenization failure")
		}
	})

	t.Run("ShapeContract", func(t *testing.T) {
		backend := &stateBackend{fn: func(b, tk int) (*HiddenStates, error) {
			// Pre-pooled output: one token per sentence.
			return &HiddenStates{Batch: b, Tokens: 1, Hidden: 4, Data: make([]float32, b*4)}, nil
		}}
		p, _ := NewSentenceTransformer(PipelineConfig{}, tok, backend, nil)
		if _, err := p.Embed(ctx, []string{"hello world"}); !errors.Is(err, ErrEncoderFailed) {
			t.Errorf("Expected encoder error for wrong shape, got %v", err)
		}
	})

	t.Run("HiddenSizeMismatch", func(t *testing.T) {
		backend, _ := NewHashBackend(8, 0)
		p, _ := NewSentenceTransformer(PipelineConfig{HiddenSize: 384}, tok, backend, nil)
		if _, err := p.Embed(ctx, []string{"hello"}); !errors.Is(err, ErrEncoderFailed) {
			t.Errorf("Expected encoder error for hidden size, got %v", err)
		}
	})

	t.Run("ZeroStatesGiveNumericAnomaly", func(t *testing.T) {
		backend := &stateBackend{fn: func(b, tk int) (*HiddenStates, error) {
			return &HiddenStates{Batch: b, Tokens: tk, Hidden: 4, Data: make([]float32, b*tk*4)}, nil
		}}
		p, _ := NewSentenceTransformer(PipelineConfig{}, tok, backend, nil)

		rows, err := p.Embed(ctx, []string{"silence"})
		if err != nil {
			t.Fatalf("Embed should not fail on zero states: %v", err)
		}
		if IsFinite(rows[0]) {
			t.Error("Zero-norm embedding should carry NaN")
		}

		score, err := p.Similarity(ctx, "silence", "quiet")
		if !errors.Is(err, ErrNumericAnomaly) {
			t.Errorf("Expected numeric anomaly, got %v", err)
		}
		if !math.IsNaN(float64(score)) {
			t.Errorf("Score should stay NaN, got %f", score)
		}
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		backend, _ := NewHashBackend(8, 0)
		p, _ := NewSentenceTransformer(PipelineConfig{}, tok, backend, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Embed(cctx, []string{"hello"})
		if !errors.Is(err, ErrEncoderFailed) || !errors.Is(err, context.Canceled) {
			t.Errorf("Expected wrapped cancellation, got %v", err)
		}
	})

	t.Run("MissingCollaborators", func(t *testing.T) {
		if _, err := NewSentenceTransformer(PipelineConfig{}, nil, &stateBackend{}, nil); !errors.Is(err, ErrConfigError) {
			t.Errorf("Expected config error, got %v", err)
		}
		if _, err := NewSentenceTransformer(PipelineConfig{}, tok, nil, nil); !errors.Is(err, ErrModelNotLoaded) {
			t.Errorf("Expected model not loaded, got %v", err)
		}
	})
}

// memCache is an in-memory EmbeddingCache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]float32
	sets int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]float32)}
}

func (c *memCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[model+"|"+text]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, model, text string, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[model+"|"+text] = embedding
	return nil
}

func newTestService(t *testing.T, cache EmbeddingCache) *MLEmbeddingService {
	t.Helper()
	cfg := DefaultModelConfig()
	cfg.HiddenSize = testHidden
	cfg.MaxBatchSize = 4
	cfg.ModelTimeout = 5 * time.Second

	svc, err := NewFactory(zap.NewNop()).CreateService(context.Background(), cfg, cache)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc
}

func TestMLEmbeddingService(t *testing.T) {
	ctx := context.Background()

	t.Run("GenerateEmbedding", func(t *testing.T) {
		svc := newTestService(t, nil)
		defer svc.Close()

		res, err := svc.GenerateEmbedding(ctx, "Hello world")
		if err != nil {
			t.Fatalf("GenerateEmbedding failed: %v", err)
		}
		if len(res.Embedding) != testHidden {
			t.Errorf("Expected %d dims, got %d", testHidden, len(res.Embedding))
		}
		if res.TokenCount != 4 {
			t.Errorf("Expected 4 tokens, got %d", res.TokenCount)
		}
		if res.CacheHit {
			t.Error("No cache configured, hit should be false")
		}
	})

	t.Run("CachesSingleEmbeddingsOnly", func(t *testing.T) {
		cache := newMemCache()
		svc := newTestService(t, cache)

		first, err := svc.CosineSimilarity(ctx, "Hello world", "Hello there world")
		if err != nil {
			t.Fatalf("CosineSimilarity failed: %v", err)
		}
		if first.CacheHits != 0 || cache.sets != 2 {
			t.Fatalf("Expected two cache writes and no hits, got hits=%d sets=%d", first.CacheHits, cache.sets)
		}

		second, err := svc.CosineSimilarity(ctx, "Hello world", "Hello there world")
		if err != nil {
			t.Fatalf("CosineSimilarity failed: %v", err)
		}
		if second.CacheHits != 2 {
			t.Errorf("Expected two cache hits, got %d", second.CacheHits)
		}
		if second.Score != first.Score {
			t.Errorf("Cached score differs: %f vs %f", second.Score, first.Score)
		}

		if _, err := svc.CosineSimilarityBatch(ctx, "Hello world", "Hello there world"); err != nil {
			t.Fatalf("CosineSimilarityBatch failed: %v", err)
		}
		if _, err := svc.GenerateBatchEmbeddings(ctx, []string{"a b", "c"}); err != nil {
			t.Fatalf("GenerateBatchEmbeddings failed: %v", err)
		}
		if cache.sets != 2 {
			t.Errorf("Batch embeddings must not be cached, got %d writes", cache.sets)
		}

		stats := svc.GetStats()
		if stats.CacheHits != 2 || stats.CacheMisses != 2 {
			t.Errorf("Unexpected cache stats: %+v", stats)
		}
		if !closeTo(stats.CacheHitRatio, 0.5, 1e-9) {
			t.Errorf("Expected hit ratio 0.5, got %f", stats.CacheHitRatio)
		}
	})

	t.Run("CacheSeparatesPipelines", func(t *testing.T) {
		cache := newMemCache()
		full := newTestService(t, cache)
		if _, err := full.CosineSimilarity(ctx, "one two three four", "one two three five"); err != nil {
			t.Fatalf("CosineSimilarity failed: %v", err)
		}

		cfg := DefaultModelConfig()
		cfg.HiddenSize = testHidden
		cfg.MaxLength = 4
		truncated, err := NewFactory(zap.NewNop()).CreateService(ctx, cfg, cache)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		got, err := truncated.CosineSimilarity(ctx, "one two three four", "one two three five")
		if err != nil {
			t.Fatalf("CosineSimilarity failed: %v", err)
		}
		if got.CacheHits != 0 {
			t.Errorf("A different max_length must not reuse cached embeddings, got %d hits", got.CacheHits)
		}
		want, err := truncated.Pipeline().Similarity(ctx, "one two three four", "one two three five")
		if err != nil {
			t.Fatalf("Similarity failed: %v", err)
		}
		if got.Score != want {
			t.Errorf("Expected the truncated pipeline's own score %f, got %f", want, got.Score)
		}
	})

	t.Run("BatchModes", func(t *testing.T) {
		svc := newTestService(t, nil)

		pair, err := svc.CosineSimilarity(ctx, "Hello world", "I am a sentence for which I would like to get its embedding.")
		if err != nil {
			t.Fatalf("CosineSimilarity failed: %v", err)
		}
		batch, err := svc.CosineSimilarityBatch(ctx, "Hello world", "I am a sentence for which I would like to get its embedding.")
		if err != nil {
			t.Fatalf("CosineSimilarityBatch failed: %v", err)
		}
		if pair.Mode != ModePairwise || batch.Mode != ModeBatch {
			t.Errorf("Unexpected modes %s, %s", pair.Mode, batch.Mode)
		}
		if pair.Score == batch.Score {
			t.Error("Different-length sentences should diverge between variants")
		}
	})

	t.Run("BatchLimits", func(t *testing.T) {
		svc := newTestService(t, nil)

		if _, err := svc.GenerateBatchEmbeddings(ctx, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected invalid input for empty batch, got %v", err)
		}
		if _, err := svc.GenerateBatchEmbeddings(ctx, []string{"a", "b", "c", "d", "e"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected invalid input for oversized batch, got %v", err)
		}

		res, err := svc.GenerateBatchEmbeddings(ctx, []string{"one", "one two three"})
		if err != nil {
			t.Fatalf("GenerateBatchEmbeddings failed: %v", err)
		}
		if res.PaddedWidth != 5 || res.TotalTokens != 8 {
			t.Errorf("Expected width 5 and 8 tokens, got %d and %d", res.PaddedWidth, res.TotalTokens)
		}
	})

	t.Run("StatsCountFailures", func(t *testing.T) {
		svc := newTestService(t, nil)
		_, _ = svc.GenerateEmbedding(ctx, "ok")
		_, _ = svc.GenerateEmbedding(ctx, "\xff")

		stats := svc.GetStats()
		if stats.SuccessfulRuns != 1 || stats.FailedRuns != 1 {
			t.Errorf("Expected 1 success and 1 failure, got %+v", stats)
		}
		if !closeTo(stats.ErrorRate, 0.5, 1e-9) {
			t.Errorf("Expected error rate 0.5, got %f", stats.ErrorRate)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		svc := newTestService(t, nil)
		if err := svc.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck failed: %v", err)
		}
	})
}

func TestFactory(t *testing.T) {
	f := NewFactory(zap.NewNop())
	ctx := context.Background()

	t.Run("InvalidBackend", func(t *testing.T) {
		cfg := DefaultModelConfig()
		cfg.Backend = "tensorrt"
		if _, err := f.CreateService(ctx, cfg, nil); !errors.Is(err, ErrConfigError) {
			t.Errorf("Expected config error, got %v", err)
		}
	})

	t.Run("InvalidDevice", func(t *testing.T) {
		cfg := DefaultModelConfig()
		cfg.Device = "cuda"
		if _, err := f.CreateService(ctx, cfg, nil); !errors.Is(err, ErrConfigError) {
			t.Errorf("Expected config error, got %v", err)
		}
	})

	t.Run("OnnxMissingModel", func(t *testing.T) {
		cfg := DefaultModelConfig()
		cfg.Backend = BackendONNX
		cfg.ModelPath = "/nonexistent/model.onnx"
		cfg.Tokenizer = TokenizerSimple
		if _, err := f.CreateService(ctx, cfg, nil); !errors.Is(err, ErrModelNotLoaded) {
			t.Errorf("Expected model not loaded, got %v", err)
		}
	})
}

func TestFingerprint(t *testing.T) {
	base := DefaultModelConfig()
	if Fingerprint(base) != Fingerprint(DefaultModelConfig()) {
		t.Fatal("Equal configs must share a fingerprint")
	}
	if !strings.HasPrefix(Fingerprint(base), base.ModelName+"@") {
		t.Errorf("Fingerprint should start with the model name, got %s", Fingerprint(base))
	}

	timeout := base
	timeout.ModelTimeout = time.Minute
	timeout.MaxBatchSize = 8
	if Fingerprint(timeout) != Fingerprint(base) {
		t.Error("Settings that do not change vectors must not change the fingerprint")
	}

	variants := map[string]func(*ModelConfig){
		"Backend":     func(c *ModelConfig) { c.Backend = BackendONNX },
		"Tokenizer":   func(c *ModelConfig) { c.Tokenizer = TokenizerHuggingFace },
		"ModelPath":   func(c *ModelConfig) { c.ModelPath = "/models/other.onnx" },
		"HubRevision": func(c *ModelConfig) { c.HubRevision = "v2" },
		"HiddenSize":  func(c *ModelConfig) { c.HiddenSize = 768 },
		"PadID":       func(c *ModelConfig) { c.PadID = 1 },
		"MaxLength":   func(c *ModelConfig) { c.MaxLength = 128 },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if Fingerprint(cfg) == Fingerprint(base) {
				t.Errorf("Changing %s must change the fingerprint", name)
			}
		})
	}
}
