package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/simscore/internal/embeddings"
	"github.com/raaihank/simscore/internal/vector"
)

// VectorWriter is the part of the vector store the indexer needs
type VectorWriter interface {
	BatchInsert(ctx context.Context, vectors []*vector.SentenceVector) (*vector.BatchInsertResult, error)
	CreateIndex(ctx context.Context) error
}

// Pipeline scores sentence-pair datasets and indexes their sentences
type Pipeline struct {
	embeddingService embeddings.EmbeddingService
	vectorStore      VectorWriter
	config           *Config
	logger           *zap.Logger
	stats            *ProcessingStats
	mu               sync.RWMutex
}

// NewPipeline creates a new ETL pipeline. vectorStore may be nil when only scoring.
func NewPipeline(
	embeddingService embeddings.EmbeddingService,
	vectorStore VectorWriter,
	config *Config,
	logger *zap.Logger,
) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Variant == "" {
		config.Variant = VariantBoth
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	return &Pipeline{
		embeddingService: embeddingService,
		vectorStore:      vectorStore,
		config:           config,
		logger:           logger,
		stats:            &ProcessingStats{StartTime: time.Now()},
	}
}

type pairJob struct {
	index  int
	record *PairRecord
}

// ScoreFile scores every pair in filePath. Results are returned in input order.
func (p *Pipeline) ScoreFile(ctx context.Context, filePath string) (*ScoreReport, []*PairResult, error) {
	src, err := OpenPairs(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	p.logger.Info("Starting pair scoring",
		zap.String("file", filePath),
		zap.String("format", string(DetectFileFormat(filePath))),
		zap.String("variant", string(p.config.Variant)),
		zap.Int("workers", p.config.Workers))

	return p.Score(ctx, src)
}

// Score scores the pairs yielded by src with a pool of workers
func (p *Pipeline) Score(ctx context.Context, src PairSource) (*ScoreReport, []*PairResult, error) {
	switch p.config.Variant {
	case VariantPairwise, VariantBatch, VariantBoth:
	default:
		return nil, nil, fmt.Errorf("unknown variant %q", p.config.Variant)
	}

	start := time.Now()
	p.resetStats()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan pairJob)
	out := make(chan *PairResult)

	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case out <- p.scorePair(ctx, job):
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	readErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		readErr <- p.feed(ctx, src, jobs)
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	var results []*PairResult
	for r := range out {
		for len(results) <= r.Index {
			results = append(results, nil)
		}
		results[r.Index] = r
		if n := p.markProcessed(); n%int64(p.config.ProgressReport) == 0 {
			p.reportProgress()
		}
	}

	if err := <-readErr; err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := summarize(results, p.config.Variant)
	report.Duration = time.Since(start)

	p.logger.Info("Pair scoring completed",
		zap.Int64("total_pairs", report.TotalPairs),
		zap.Int64("scored", report.Scored),
		zap.Int64("failed", report.Failed),
		zap.Int64("numeric_anomalies", report.NumericAnomalies),
		zap.Float64("mean_divergence", report.MeanDivergence),
		zap.Float64("max_divergence", report.MaxDivergence),
		zap.Duration("duration", report.Duration))

	return report, results, nil
}

// feed reads records and hands them to workers. Recoverable read errors
// skip the record.
func (p *Pipeline) feed(ctx context.Context, src PairSource, jobs chan<- pairJob) error {
	index := 0
	for {
		record, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrCorruptSource) {
				return err
			}
			p.logger.Warn("Skipping unreadable record", zap.Error(err))
			p.markInvalid()
			continue
		}
		p.markRead()

		select {
		case jobs <- pairJob{index: index, record: record}:
			index++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) scorePair(ctx context.Context, job pairJob) *PairResult {
	result := &PairResult{
		Index:     job.index,
		Sentence1: job.record.Sentence1,
		Sentence2: job.record.Sentence2,
		Expected:  job.record.Score,
	}

	var errs []string
	variant := p.config.Variant

	if variant == VariantPairwise || variant == VariantBoth {
		res, err := p.embeddingService.CosineSimilarity(ctx, job.record.Sentence1, job.record.Sentence2)
		if err != nil {
			result.NumericAnomaly = result.NumericAnomaly || errors.Is(err, embeddings.ErrNumericAnomaly)
			errs = append(errs, "pairwise: "+err.Error())
		} else {
			result.Pairwise = &res.Score
		}
	}

	if variant == VariantBatch || variant == VariantBoth {
		res, err := p.embeddingService.CosineSimilarityBatch(ctx, job.record.Sentence1, job.record.Sentence2)
		if err != nil {
			result.NumericAnomaly = result.NumericAnomaly || errors.Is(err, embeddings.ErrNumericAnomaly)
			errs = append(errs, "batch: "+err.Error())
		} else {
			result.Batch = &res.Score
		}
	}

	if result.Pairwise != nil && result.Batch != nil {
		d := float32(math.Abs(float64(*result.Pairwise - *result.Batch)))
		result.Divergence = &d
	}
	result.Error = strings.Join(errs, "; ")
	return result
}

// summarize aggregates per-pair results. Failed pairs never contribute a score.
func summarize(results []*PairResult, variant Variant) *ScoreReport {
	report := &ScoreReport{Variant: variant}
	var divSum, pairErr, batchErr float64
	var divN, pairN, batchN int64

	for _, r := range results {
		if r == nil {
			continue
		}
		report.TotalPairs++
		if r.Error != "" {
			report.Failed++
			if r.NumericAnomaly {
				report.NumericAnomalies++
			}
			if len(report.Errors) < 100 {
				report.Errors = append(report.Errors, fmt.Sprintf("pair %d: %s", r.Index, r.Error))
			}
			continue
		}
		report.Scored++

		if r.Divergence != nil {
			d := float64(*r.Divergence)
			divSum += d
			divN++
			if d > report.MaxDivergence {
				report.MaxDivergence = d
			}
		}
		if r.Expected != nil {
			if r.Pairwise != nil {
				pairErr += math.Abs(float64(*r.Pairwise) - *r.Expected)
				pairN++
			}
			if r.Batch != nil {
				batchErr += math.Abs(float64(*r.Batch) - *r.Expected)
				batchN++
			}
		}
	}

	if divN > 0 {
		report.MeanDivergence = divSum / float64(divN)
	}
	if pairN > 0 {
		report.PairwiseMAE = pairErr / float64(pairN)
	}
	if batchN > 0 {
		report.BatchMAE = batchErr / float64(batchN)
	}
	return report
}

// IndexFile embeds every distinct sentence in filePath and stores it
func (p *Pipeline) IndexFile(ctx context.Context, filePath string) (*IndexReport, error) {
	src, err := OpenPairs(filePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	p.logger.Info("Starting sentence indexing",
		zap.String("file", filePath),
		zap.Int("batch_size", p.config.BatchSize))

	return p.Index(ctx, src)
}

// Index embeds each distinct sentence on its own and batch-inserts the
// vectors. Stored vectors therefore equal the pairwise embeddings.
func (p *Pipeline) Index(ctx context.Context, src PairSource) (*IndexReport, error) {
	if p.vectorStore == nil {
		return nil, errors.New("indexing requires a vector store")
	}

	start := time.Now()
	p.resetStats()
	report := &IndexReport{}
	seen := make(map[string]struct{})
	var pending []string

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := p.indexBatch(ctx, pending, report)
		pending = pending[:0]
		return err
	}

	for {
		record, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrCorruptSource) {
				return report, err
			}
			p.logger.Warn("Skipping unreadable record", zap.Error(err))
			p.markInvalid()
			continue
		}
		p.markRead()

		for _, text := range []string{record.Sentence1, record.Sentence2} {
			report.TotalSentences++
			if !p.validText(text) {
				report.Failed++
				continue
			}
			hash := embeddings.TextHash(text)
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			report.UniqueSentences++
			pending = append(pending, text)

			if len(pending) >= p.config.BatchSize {
				if err := flush(); err != nil {
					return report, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return report, err
	}

	if p.config.CreateIndex {
		if err := p.vectorStore.CreateIndex(ctx); err != nil {
			p.logger.Warn("Failed to create vector index", zap.Error(err))
		}
	}

	report.Duration = time.Since(start)
	p.logger.Info("Sentence indexing completed",
		zap.Int64("total_sentences", report.TotalSentences),
		zap.Int64("unique_sentences", report.UniqueSentences),
		zap.Int64("inserted", report.Inserted),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int64("failed", report.Failed),
		zap.Duration("embedding_time", report.EmbeddingTime),
		zap.Duration("database_time", report.DatabaseTime),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// indexBatch embeds texts concurrently and writes them in one insert
func (p *Pipeline) indexBatch(ctx context.Context, texts []string, report *IndexReport) error {
	embeddingStart := time.Now()
	vectors := make([]*vector.SentenceVector, len(texts))
	errs := make([]error, len(texts))

	sem := make(chan struct{}, p.config.Workers)
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := p.embeddingService.GenerateEmbedding(ctx, text)
			if err != nil {
				errs[i] = err
				return
			}
			if !embeddings.IsFinite(res.Embedding) {
				errs[i] = fmt.Errorf("%w: embedding is not finite", embeddings.ErrNumericAnomaly)
				return
			}
			vectors[i] = &vector.SentenceVector{
				Text:      text,
				TextHash:  embeddings.TextHash(text),
				Model:     p.config.Model,
				Embedding: res.Embedding,
			}
		}(i, text)
	}
	wg.Wait()
	report.EmbeddingTime += time.Since(embeddingStart)

	ready := make([]*vector.SentenceVector, 0, len(vectors))
	for i, v := range vectors {
		if errs[i] != nil {
			report.Failed++
			if len(report.Errors) < 100 {
				report.Errors = append(report.Errors, errs[i].Error())
			}
			continue
		}
		ready = append(ready, v)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}

	dbStart := time.Now()
	res, err := p.vectorStore.BatchInsert(ctx, ready)
	report.DatabaseTime += time.Since(dbStart)
	if err != nil {
		return fmt.Errorf("database batch insert failed: %w", err)
	}
	report.Inserted += res.Inserted
	report.Duplicates += res.Duplicates
	report.Failed += res.Failed
	p.markProcessedN(int64(len(ready)))
	return nil
}

func (p *Pipeline) validText(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return p.config.MaxTextLength <= 0 || len(text) <= p.config.MaxTextLength
}

func (p *Pipeline) markRead() {
	p.mu.Lock()
	p.stats.RecordsRead++
	p.mu.Unlock()
}

func (p *Pipeline) markInvalid() {
	p.mu.Lock()
	p.stats.RecordsInvalid++
	p.mu.Unlock()
}

func (p *Pipeline) markProcessed() int64 {
	return p.markProcessedN(1)
}

func (p *Pipeline) markProcessedN(n int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Processed += n
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(p.stats.Processed) / elapsed
	}
	return p.stats.Processed
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress() {
	stats := p.GetStats()
	p.logger.Info("Processing progress",
		zap.Int64("records_read", stats.RecordsRead),
		zap.Int64("records_invalid", stats.RecordsInvalid),
		zap.Int64("processed", stats.Processed),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
