package vector

import (
	"time"
)

// SentenceVector is a stored sentence with its normalized embedding
type SentenceVector struct {
	ID        int64     `db:"id" json:"id"`
	Text      string    `db:"text" json:"text"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Model     string    `db:"model" json:"model"`
	Embedding []float32 `db:"embedding" json:"embedding"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Vector     *SentenceVector `json:"vector"`
	Similarity float32         `json:"similarity"`
	Distance   float32         `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	Model         string  `json:"model,omitempty"`
}

// VectorStats represents database statistics
type VectorStats struct {
	TotalVectors int64            `json:"total_vectors"`
	ByModel      map[string]int64 `json:"by_model"`
	IndexPresent bool             `json:"index_present"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []error       `json:"errors,omitempty"`
}
