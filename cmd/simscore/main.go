package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/raaihank/simscore/internal/cache"
	"github.com/raaihank/simscore/internal/config"
	"github.com/raaihank/simscore/internal/embeddings"
	"github.com/raaihank/simscore/internal/logger"
	"github.com/raaihank/simscore/internal/modelhub"
	"github.com/raaihank/simscore/internal/server"
	"github.com/raaihank/simscore/internal/vector"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "Health endpoint used by -health-check")
		download    = flag.Bool("download", false, "Download model and tokenizer files into the cache and exit")
		sentenceA   = flag.String("a", "", "First sentence to score and exit")
		sentenceB   = flag.String("b", "", "Second sentence to score")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("simscore %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *download {
		if err := downloadModel(ctx, cfg.Model, log); err != nil {
			log.Fatal("Model download failed", zap.Error(err))
		}
		return
	}

	var embCache *cache.EmbeddingCache
	if cfg.Cache.Enabled {
		embCache, err = cache.NewEmbeddingCache(&cache.Config{
			RedisURL:   cfg.Cache.URL,
			KeyPrefix:  cfg.Cache.Prefix,
			DefaultTTL: cfg.Cache.TTL,
			Timeout:    cfg.Cache.Timeout,
			Dimensions: cfg.Model.HiddenSize,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect embedding cache", zap.Error(err))
		}
		defer embCache.Close()
	}

	service, err := createService(ctx, cfg.Model, embCache, log)
	if err != nil {
		log.Fatal("Failed to create embedding service", zap.Error(err))
	}
	defer service.Close()

	if *sentenceA != "" || *sentenceB != "" {
		code := scorePair(ctx, service, *sentenceA, *sentenceB)
		service.Close()
		os.Exit(code)
	}

	deps := server.Dependencies{Service: service}
	if embCache != nil {
		deps.Cache = embCache
	}
	if cfg.Store.Enabled {
		store, err := vector.NewStore(&vector.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			Dimensions:      cfg.Model.HiddenSize,
			AutoMigrate:     cfg.Store.AutoMigrate,
		}, log.WithComponent("vector").Logger)
		if err != nil {
			log.Fatal("Failed to open vector store", zap.Error(err))
		}
		defer store.Close()
		deps.Store = store
	}

	log.Info("Starting simscore",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.String("model", cfg.Model.ModelName),
	)

	srv, err := server.New(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	err = config.Watch(func(newCfg *config.Config) {
		if err := log.SetLevel(newCfg.Logging.Level); err != nil {
			log.Warn("Ignoring invalid log level", zap.String("level", newCfg.Logging.Level))
		}
		srv.ApplyConfig(newCfg)
	}, func(err error) {
		log.Warn("Configuration reload rejected", zap.Error(err))
	})
	if err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

func createService(ctx context.Context, model embeddings.ModelConfig, embCache *cache.EmbeddingCache, log *logger.Logger) (*embeddings.MLEmbeddingService, error) {
	factory := embeddings.NewFactory(log.WithComponent("embeddings").Logger)
	// a nil *EmbeddingCache must not reach the service as a non-nil interface
	if embCache == nil {
		return factory.CreateService(ctx, model, nil)
	}
	return factory.CreateService(ctx, model, embCache)
}

// scorePair prints both similarity variants for one pair and returns the exit code
func scorePair(ctx context.Context, service embeddings.EmbeddingService, a, b string) int {
	exit := 0
	var scores [2]float32
	for i, run := range []func(context.Context, string, string) (*embeddings.SimilarityResult, error){
		service.CosineSimilarity,
		service.CosineSimilarityBatch,
	} {
		result, err := run(ctx, a, b)
		switch {
		case err != nil && result == nil:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		case err != nil:
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			exit = 2
		}
		scores[i] = result.Score
		fmt.Printf("%-9s %.6f\n", result.Mode, result.Score)
	}
	if d := math.Abs(float64(scores[0] - scores[1])); !math.IsNaN(d) {
		fmt.Printf("%-9s %.6f\n", "diverge", d)
	}
	return exit
}

// downloadModel fetches the hub files the onnx backend needs
func downloadModel(ctx context.Context, model embeddings.ModelConfig, log *logger.Logger) error {
	var hubCache *modelhub.Cache
	var err error
	if model.CacheDir != "" {
		hubCache, err = modelhub.NewCache(model.CacheDir)
	} else {
		hubCache, err = modelhub.AutoCache(log.Logger)
	}
	if err != nil {
		return err
	}

	repo, err := modelhub.NewRepo(hubCache, model.HubRepo, model.HubRevision, log.WithComponent("modelhub").Logger)
	if err != nil {
		return err
	}
	if err := repo.DownloadAll(ctx, embeddings.HubModelFile, embeddings.HubTokenizerFile); err != nil {
		return err
	}

	log.Info("Model files ready",
		zap.String("repo", model.HubRepo),
		zap.String("model", repo.Path(embeddings.HubModelFile)),
		zap.String("tokenizer", repo.Path(embeddings.HubTokenizerFile)))
	return nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
