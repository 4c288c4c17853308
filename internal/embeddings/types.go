package embeddings

import (
	"time"
)

// ModelConfig contains embedding model configuration
type ModelConfig struct {
	ModelName     string        `yaml:"model_name" mapstructure:"model_name"`         // "sentence-transformers/all-MiniLM-L6-v2"
	Backend       string        `yaml:"backend" mapstructure:"backend"`               // "onnx" or "mock"
	Tokenizer     string        `yaml:"tokenizer" mapstructure:"tokenizer"`           // "huggingface" or "simple"
	ModelPath     string        `yaml:"model_path" mapstructure:"model_path"`         // "./models/model.onnx"
	TokenizerPath string        `yaml:"tokenizer_path" mapstructure:"tokenizer_path"` // "./models/tokenizer.json"
	OutputName    string        `yaml:"output_name" mapstructure:"output_name"`       // "last_hidden_state"
	HubRepo       string        `yaml:"hub_repo" mapstructure:"hub_repo"`             // "sentence-transformers/all-MiniLM-L6-v2"
	HubRevision   string        `yaml:"hub_revision" mapstructure:"hub_revision"`     // "main"
	CacheDir      string        `yaml:"cache_dir" mapstructure:"cache_dir"`           // "" resolves SIMSCORE_HOME
	AutoDownload  bool          `yaml:"auto_download" mapstructure:"auto_download"`   // false
	Device        string        `yaml:"device" mapstructure:"device"`                 // "cpu"
	HiddenSize    int           `yaml:"hidden_size" mapstructure:"hidden_size"`       // 384
	PadID         int64         `yaml:"pad_id" mapstructure:"pad_id"`                 // 0
	MaxLength     int           `yaml:"max_length" mapstructure:"max_length"`         // 0 keeps the tokenizer's own truncation
	MaxBatchSize  int           `yaml:"max_batch_size" mapstructure:"max_batch_size"` // 64
	ModelTimeout  time.Duration `yaml:"model_timeout" mapstructure:"model_timeout"`   // 30s
}

// DefaultModelConfig returns the configuration for all-MiniLM-L6-v2 on CPU.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:    "sentence-transformers/all-MiniLM-L6-v2",
		Backend:      BackendMock,
		Tokenizer:    TokenizerSimple,
		OutputName:   "last_hidden_state",
		HubRepo:      "sentence-transformers/all-MiniLM-L6-v2",
		HubRevision:  "main",
		Device:       DeviceCPU,
		HiddenSize:   DefaultHiddenSize,
		PadID:        0,
		MaxBatchSize: 64,
		ModelTimeout: 30 * time.Second,
	}
}

// Backend, tokenizer and device identifiers accepted in ModelConfig.
const (
	BackendONNX = "onnx"
	BackendMock = "mock"

	TokenizerHuggingFace = "huggingface"
	TokenizerSimple      = "simple"

	DeviceCPU = "cpu"

	DefaultHiddenSize = 384
)

// HiddenStates is the encoder's per-token output, laid out row-major as
// [Batch][Tokens][Hidden].
type HiddenStates struct {
	Batch  int
	Tokens int
	Hidden int
	Data   []float32
}

// Vector returns the hidden vector for token t of sentence b. The slice
// aliases Data.
func (h *HiddenStates) Vector(b, t int) []float32 {
	off := (b*h.Tokens + t) * h.Hidden
	return h.Data[off : off+h.Hidden]
}

// EmbeddingResult represents the result of embedding generation
type EmbeddingResult struct {
	Embedding   []float32     `json:"embedding"`
	Duration    time.Duration `json:"duration"`
	TokenCount  int           `json:"token_count"`
	ServiceType string        `json:"service_type"`
	CacheHit    bool          `json:"cache_hit"`
}

// BatchEmbeddingResult represents the result of batch embedding generation.
// A batch either succeeds as a whole or fails as a whole.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32   `json:"embeddings"`
	Duration    time.Duration `json:"duration"`
	TotalTokens int           `json:"total_tokens"`
	PaddedWidth int           `json:"padded_width"`
	ServiceType string        `json:"service_type"`
}

// SimilarityMode names which scorer variant produced a score.
type SimilarityMode string

const (
	ModePairwise SimilarityMode = "pairwise"
	ModeBatch    SimilarityMode = "batch"
)

// SimilarityResult represents a scored sentence pair
type SimilarityResult struct {
	Score       float32        `json:"score"`
	Mode        SimilarityMode `json:"mode"`
	Duration    time.Duration  `json:"duration"`
	CacheHits   int            `json:"cache_hits"`
	ServiceType string         `json:"service_type"`
}

// ModelStats represents model performance statistics
type ModelStats struct {
	TotalInferences   int64         `json:"total_inferences"`
	TotalSentences    int64         `json:"total_sentences"`
	TotalTokens       int64         `json:"total_tokens"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	NumericAnomalies  int64         `json:"numeric_anomalies"`
	AvgInferenceTime  time.Duration `json:"avg_inference_time"`
	AvgTokensPerText  float64       `json:"avg_tokens_per_text"`
	ModelLoadTime     time.Duration `json:"model_load_time"`
	LastInferenceTime time.Time     `json:"last_inference_time"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	CacheHitRatio     float64       `json:"cache_hit_ratio"`
	ErrorRate         float64       `json:"error_rate"`
	ServiceType       string        `json:"service_type"`
	StartTime         time.Time     `json:"start_time"`
}

// EmbeddingErrors define custom error types
type EmbeddingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrInvalidInput        = &EmbeddingError{Type: "invalid_input", Message: "invalid input text", Code: 1001}
	ErrModelNotLoaded      = &EmbeddingError{Type: "model_not_loaded", Message: "model not loaded", Code: 1002}
	ErrEncoderFailed       = &EmbeddingError{Type: "encoder_failed", Message: "encoder failed", Code: 1003}
	ErrCacheError          = &EmbeddingError{Type: "cache_error", Message: "cache operation failed", Code: 1004}
	ErrConfigError         = &EmbeddingError{Type: "config_error", Message: "configuration error", Code: 1005}
	ErrNumericAnomaly      = &EmbeddingError{Type: "numeric_anomaly", Message: "numeric anomaly", Code: 1006}
	ErrTimeoutError        = &EmbeddingError{Type: "timeout_error", Message: "operation timed out", Code: 1007}
	ErrTokenizationFailed  = &EmbeddingError{Type: "tokenization_failed", Message: "tokenization failed", Code: 1008}
	ErrModelDownloadFailed = &EmbeddingError{Type: "model_download_failed", Message: "model download failed", Code: 1009}
)
