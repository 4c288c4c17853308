package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// PairRecord is one sentence pair from the input dataset. Score is the
// optional reference similarity.
type PairRecord struct {
	Sentence1 string   `parquet:"sentence1" json:"sentence1"`
	Sentence2 string   `parquet:"sentence2" json:"sentence2"`
	Score     *float64 `parquet:"score" json:"score,omitempty"`
}

// PairResult is the scored outcome of one pair
type PairResult struct {
	Index      int      `parquet:"index" json:"index"`
	Sentence1  string   `parquet:"sentence1" json:"sentence1"`
	Sentence2  string   `parquet:"sentence2" json:"sentence2"`
	Expected   *float64 `parquet:"expected" json:"expected,omitempty"`
	Pairwise   *float32 `parquet:"pairwise" json:"pairwise,omitempty"`
	Batch      *float32 `parquet:"batch" json:"batch,omitempty"`
	Divergence *float32 `parquet:"divergence" json:"divergence,omitempty"`
	Error      string   `parquet:"error" json:"error,omitempty"`

	NumericAnomaly bool `parquet:"numeric_anomaly" json:"numeric_anomaly,omitempty"`
}

// ScoreReport summarizes a scoring run
type ScoreReport struct {
	TotalPairs       int64         `json:"total_pairs"`
	Scored           int64         `json:"scored"`
	Failed           int64         `json:"failed"`
	NumericAnomalies int64         `json:"numeric_anomalies"`
	Variant          Variant       `json:"variant"`
	MeanDivergence   float64       `json:"mean_divergence"`
	MaxDivergence    float64       `json:"max_divergence"`
	PairwiseMAE      float64       `json:"pairwise_mae,omitempty"`
	BatchMAE         float64       `json:"batch_mae,omitempty"`
	Duration         time.Duration `json:"duration"`
	Errors           []string      `json:"errors,omitempty"`
}

// IndexReport summarizes an indexing run
type IndexReport struct {
	TotalSentences  int64         `json:"total_sentences"`
	UniqueSentences int64         `json:"unique_sentences"`
	Inserted        int64         `json:"inserted"`
	Duplicates      int64         `json:"duplicates"`
	Failed          int64         `json:"failed"`
	Duration        time.Duration `json:"duration"`
	EmbeddingTime   time.Duration `json:"embedding_time"`
	DatabaseTime    time.Duration `json:"database_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Variant selects which similarity computations a scoring run performs
type Variant string

const (
	VariantPairwise Variant = "pairwise"
	VariantBatch    Variant = "batch"
	VariantBoth     Variant = "both"
)

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`           // 64
	Workers        int     `yaml:"workers" mapstructure:"workers"`                 // 4
	Variant        Variant `yaml:"variant" mapstructure:"variant"`                 // both
	Model          string  `yaml:"model" mapstructure:"model"`                     // stored with indexed vectors
	CreateIndex    bool    `yaml:"create_index" mapstructure:"create_index"`       // true
	ProgressReport int     `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	MaxTextLength  int     `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsInvalid int64     `json:"records_invalid"`
	Processed      int64     `json:"processed"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}
