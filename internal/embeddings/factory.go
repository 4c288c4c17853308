package embeddings

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/raaihank/simscore/internal/modelhub"
)

// Hub files needed by the onnx backend.
const (
	HubTokenizerFile = "tokenizer.json"
	HubModelFile     = "onnx/model.onnx"
)

// Factory creates embedding services based on configuration
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new embedding service factory
func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{
		logger: logger,
	}
}

// CreateService builds the tokenizer and backend named by config and wraps
// them in a service. cache may be nil.
func (f *Factory) CreateService(ctx context.Context, config ModelConfig, cache EmbeddingCache) (*MLEmbeddingService, error) {
	if err := ValidateModelConfig(config); err != nil {
		return nil, err
	}

	if config.Backend == BackendONNX || config.Tokenizer == TokenizerHuggingFace {
		resolved, err := f.resolveModelFiles(ctx, config)
		if err != nil {
			return nil, err
		}
		config = resolved
	}

	tokenizer, err := f.createTokenizer(config)
	if err != nil {
		return nil, err
	}
	backend, err := f.createBackend(config)
	if err != nil {
		return nil, err
	}

	service, err := NewMLEmbeddingService(config, f.logger, tokenizer, backend, cache)
	if err != nil {
		return nil, err
	}
	f.logger.Info("Created embedding service",
		zap.String("backend", config.Backend),
		zap.String("tokenizer", config.Tokenizer))
	return service, nil
}

func (f *Factory) createTokenizer(config ModelConfig) (Tokenizer, error) {
	switch config.Tokenizer {
	case TokenizerHuggingFace:
		return NewHFTokenizer(config.TokenizerPath, config.MaxLength)
	case TokenizerSimple:
		return NewSimpleTokenizer(config.MaxLength), nil
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer %q", ErrConfigError, config.Tokenizer)
	}
}

func (f *Factory) createBackend(config ModelConfig) (TransformerBackend, error) {
	switch config.Backend {
	case BackendONNX:
		return NewTransformerBackend(f.logger.Named("onnx"), config)
	case BackendMock:
		return NewHashBackend(config.HiddenSize, config.PadID)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrConfigError, config.Backend)
	}
}

// resolveModelFiles fills in model and tokenizer paths from the hub cache,
// downloading them when auto_download is on.
func (f *Factory) resolveModelFiles(ctx context.Context, config ModelConfig) (ModelConfig, error) {
	needModel := config.Backend == BackendONNX && config.ModelPath == ""
	needTokenizer := config.Tokenizer == TokenizerHuggingFace && config.TokenizerPath == ""
	if !needModel && !needTokenizer && !config.AutoDownload {
		return config, nil
	}

	var cache *modelhub.Cache
	var err error
	if config.CacheDir != "" {
		cache, err = modelhub.NewCache(config.CacheDir)
	} else {
		cache, err = modelhub.AutoCache(f.logger)
	}
	if err != nil {
		return config, fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}

	repo, err := modelhub.NewRepo(cache, config.HubRepo, config.HubRevision, f.logger.Named("modelhub"))
	if err != nil {
		return config, fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}

	if needModel {
		config.ModelPath = repo.Path(HubModelFile)
	}
	if needTokenizer {
		config.TokenizerPath = repo.Path(HubTokenizerFile)
	}

	if !config.AutoDownload {
		return config, nil
	}

	for path, file := range map[string]string{config.ModelPath: HubModelFile, config.TokenizerPath: HubTokenizerFile} {
		if path == "" || path != repo.Path(file) {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if _, err := repo.Download(ctx, file); err != nil {
			return config, fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
		}
	}
	return config, nil
}

// ValidateModelConfig validates the embedding model configuration
func ValidateModelConfig(config ModelConfig) error {
	switch config.Backend {
	case BackendONNX, BackendMock:
	default:
		return fmt.Errorf("%w: invalid backend %q (must be one of: onnx, mock)", ErrConfigError, config.Backend)
	}

	switch config.Tokenizer {
	case TokenizerHuggingFace, TokenizerSimple:
	default:
		return fmt.Errorf("%w: invalid tokenizer %q (must be one of: huggingface, simple)", ErrConfigError, config.Tokenizer)
	}

	if config.ModelName == "" {
		return fmt.Errorf("%w: model name is required", ErrConfigError)
	}
	if config.Device != "" && config.Device != DeviceCPU {
		return fmt.Errorf("%w: unsupported device %q", ErrConfigError, config.Device)
	}
	if config.HiddenSize < 0 {
		return fmt.Errorf("%w: hidden_size cannot be negative", ErrConfigError)
	}
	if config.Backend == BackendMock && config.HiddenSize < 2 {
		return fmt.Errorf("%w: mock backend needs hidden_size >= 2", ErrConfigError)
	}
	if config.PadID < 0 {
		return fmt.Errorf("%w: pad_id cannot be negative", ErrConfigError)
	}
	if config.MaxBatchSize < 0 {
		return fmt.Errorf("%w: max_batch_size cannot be negative", ErrConfigError)
	}
	if (config.Backend == BackendONNX || config.Tokenizer == TokenizerHuggingFace) &&
		config.HubRepo == "" && (config.ModelPath == "" || config.TokenizerPath == "") {
		return fmt.Errorf("%w: hub_repo is required when model files are not given", ErrConfigError)
	}
	return nil
}
