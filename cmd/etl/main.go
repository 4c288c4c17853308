package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/raaihank/simscore/internal/config"
	"github.com/raaihank/simscore/internal/embeddings"
	"github.com/raaihank/simscore/internal/etl"
	"github.com/raaihank/simscore/internal/logger"
	"github.com/raaihank/simscore/internal/vector"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		mode       = flag.String("mode", "score", "Operation: score or index")
		outputFile = flag.String("output", "", "Write per-pair scores to this file (score mode)")
		batchSize  = flag.Int("batch-size", 0, "Sentences per indexing batch (default from config)")
		workers    = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		variant    = flag.String("variant", "", "Similarity variant: pairwise, batch or both (default from config)")
		skipIndex  = flag.Bool("skip-index", false, "Skip creating the vector index")
		showStats  = flag.Bool("stats", false, "Show vector store statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input pairs.csv --output scores.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input pairs.parquet --variant batch --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input pairs.jsonl --mode index\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting simscore ETL pipeline",
		zap.String("mode", *mode),
		zap.String("input", *inputFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	needStore := *showStats || *mode == "index"
	services, err := initializeServices(ctx, cfg, needStore, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	if *showStats {
		if err := showStoreStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	etlConfig := &etl.Config{
		BatchSize:      cfg.ETL.BatchSize,
		Workers:        cfg.ETL.Workers,
		Variant:        etl.Variant(cfg.ETL.Variant),
		Model:          cfg.Model.ModelName,
		CreateIndex:    !*skipIndex,
		ProgressReport: 1000,
		MaxTextLength:  10000,
	}
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		etlConfig.Workers = *workers
	}
	if *variant != "" {
		etlConfig.Variant = etl.Variant(*variant)
	}

	var store etl.VectorWriter
	if services.vectorStore != nil {
		store = services.vectorStore
	}
	pipeline := etl.NewPipeline(services.embeddingService, store, etlConfig, log.WithComponent("etl").Logger)

	switch *mode {
	case "score":
		err = scoreDataset(ctx, pipeline, *inputFile, *outputFile, log)
	case "index":
		err = indexDataset(ctx, pipeline, *inputFile, log)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatal("ETL processing failed", zap.Error(err))
	}

	log.Info("ETL pipeline completed successfully")
}

// services holds all initialized services
type services struct {
	vectorStore      *vector.Store
	embeddingService *embeddings.MLEmbeddingService
}

func (s *services) cleanup() {
	if s.embeddingService != nil {
		s.embeddingService.Close()
	}
	if s.vectorStore != nil {
		s.vectorStore.Close()
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config, needStore bool, log *logger.Logger) (*services, error) {
	services := &services{}

	if needStore {
		log.Info("Initializing vector store...")
		vectorStore, err := vector.NewStore(&vector.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			Dimensions:      cfg.Model.HiddenSize,
			AutoMigrate:     cfg.Store.AutoMigrate,
		}, log.WithComponent("vector").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		services.vectorStore = vectorStore
	}

	log.Info("Initializing embedding service...")
	factory := embeddings.NewFactory(log.WithComponent("embeddings").Logger)
	embeddingService, err := factory.CreateService(ctx, cfg.Model, nil)
	if err != nil {
		services.cleanup()
		return nil, fmt.Errorf("failed to initialize embedding service: %w", err)
	}
	services.embeddingService = embeddingService

	return services, nil
}

// scoreDataset scores every pair and optionally writes the per-pair results
func scoreDataset(ctx context.Context, pipeline *etl.Pipeline, inputFile, outputFile string, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	report, results, err := pipeline.ScoreFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("scoring failed: %w", err)
	}

	if outputFile != "" {
		if err := etl.WriteResults(outputFile, results); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		log.Info("Results written", zap.String("file", outputFile), zap.Int("rows", len(results)))
	}

	fields := []zap.Field{
		zap.String("file", inputFile),
		zap.String("variant", string(report.Variant)),
		zap.Int64("total_pairs", report.TotalPairs),
		zap.Int64("scored", report.Scored),
		zap.Int64("failed", report.Failed),
		zap.Int64("numeric_anomalies", report.NumericAnomalies),
		zap.Duration("duration", report.Duration),
	}
	if report.Variant == etl.VariantBoth {
		fields = append(fields,
			zap.Float64("mean_divergence", report.MeanDivergence),
			zap.Float64("max_divergence", report.MaxDivergence))
	}
	if report.PairwiseMAE > 0 || report.BatchMAE > 0 {
		fields = append(fields,
			zap.Float64("pairwise_mae", report.PairwiseMAE),
			zap.Float64("batch_mae", report.BatchMAE))
	}
	log.Info("Dataset scoring completed", fields...)

	if len(report.Errors) > 0 {
		log.Warn("Scoring completed with errors", zap.Strings("errors", report.Errors))
	}
	return nil
}

// indexDataset embeds every distinct sentence into the vector store
func indexDataset(ctx context.Context, pipeline *etl.Pipeline, inputFile string, log *logger.Logger) error {
	report, err := pipeline.IndexFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	log.Info("Dataset indexing completed",
		zap.String("file", inputFile),
		zap.Int64("total_sentences", report.TotalSentences),
		zap.Int64("unique_sentences", report.UniqueSentences),
		zap.Int64("inserted", report.Inserted),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int64("failed", report.Failed),
		zap.Duration("total_duration", report.Duration),
		zap.Duration("embedding_time", report.EmbeddingTime),
		zap.Duration("database_time", report.DatabaseTime))

	if len(report.Errors) > 0 {
		log.Warn("Indexing completed with errors", zap.Strings("errors", report.Errors))
	}
	return nil
}

// showStoreStats displays current vector store statistics
func showStoreStats(ctx context.Context, services *services) error {
	stats, err := services.vectorStore.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get store stats: %w", err)
	}

	fmt.Printf("\n=== simscore Vector Store Statistics ===\n")
	fmt.Printf("Total Vectors:      %d\n", stats.TotalVectors)
	fmt.Printf("ANN Index:          %t\n", stats.IndexPresent)
	for model, count := range stats.ByModel {
		fmt.Printf("  %-40s %d\n", model, count)
	}

	embeddingStats := services.embeddingService.GetStats()
	fmt.Printf("\n=== Embedding Service Statistics ===\n")
	fmt.Printf("Service Type:       %s\n", embeddingStats.ServiceType)
	fmt.Printf("Model Load Time:    %v\n", embeddingStats.ModelLoadTime)

	return nil
}
