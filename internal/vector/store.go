package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const tableName = "sentence_embeddings"

// indexThreshold is the row count below which ivfflat gives poor recall.
const indexThreshold = 1000

// Store handles embedding storage with PostgreSQL + pgvector
type Store struct {
	db         *sqlx.DB
	dimensions int
	logger     *zap.Logger
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	Dimensions      int           `yaml:"dimensions" mapstructure:"dimensions"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// NewStore connects to Postgres and checks for pgvector
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	if config.Dimensions <= 0 {
		return nil, fmt.Errorf("store dimensions must be positive, got %d", config.Dimensions)
	}

	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:         db,
		dimensions: config.Dimensions,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.initialize(ctx, config.AutoMigrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Vector store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("dimensions", config.Dimensions),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

func (s *Store) initialize(ctx context.Context, migrate bool) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if migrate {
		return s.EnsureSchema(ctx)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return errors.New("pgvector extension is not installed")
	}
	return nil
}

// EnsureSchema creates the pgvector extension and the embeddings table
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			text_hash CHAR(64) NOT NULL,
			model TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (text_hash, model)
		)`, tableName, s.dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_model ON %s (model)", tableName, tableName),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}

	s.logger.Info("Embedding schema ready", zap.String("table", tableName))
	return nil
}

// Insert upserts a sentence vector and fills in its ID and CreatedAt. On a
// (text_hash, model) conflict only the text column is rewritten; the stored
// embedding is kept.
func (s *Store) Insert(ctx context.Context, vector *SentenceVector) error {
	if err := s.checkDimensions(vector.Embedding); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (text, text_hash, model, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (text_hash, model) DO UPDATE SET text = EXCLUDED.text
		RETURNING id, created_at`, tableName)

	err := s.db.QueryRowContext(ctx, query,
		vector.Text,
		vector.TextHash,
		vector.Model,
		formatEmbedding(vector.Embedding),
	).Scan(&vector.ID, &vector.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert vector", zap.Error(err), zap.String("model", vector.Model))
		return fmt.Errorf("failed to insert vector: %w", err)
	}

	s.logger.Debug("Vector inserted", zap.Int64("id", vector.ID))
	return nil
}

// BatchInsert adds multiple sentence vectors, skipping duplicates
func (s *Store) BatchInsert(ctx context.Context, vectors []*SentenceVector) (*BatchInsertResult, error) {
	if len(vectors) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueStrings := make([]string, 0, len(vectors))
	valueArgs := make([]interface{}, 0, len(vectors)*4)

	for _, vector := range vectors {
		if err := s.checkDimensions(vector.Embedding); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			continue
		}
		n := len(valueArgs)
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		valueArgs = append(valueArgs,
			vector.Text,
			vector.TextHash,
			vector.Model,
			formatEmbedding(vector.Embedding),
		)
	}

	if len(valueStrings) == 0 {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("batch insert failed: %w", errors.Join(result.Errors...))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (text, text_hash, model, embedding)
		VALUES %s
		ON CONFLICT (text_hash, model) DO NOTHING`,
		tableName, strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(vectors))
		result.Errors = append(result.Errors, err)
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(valueStrings))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(valueStrings)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// FindSimilar returns stored sentences ordered by cosine distance to embedding
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{Limit: 5, MinSimilarity: 0.5}
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}
	if err := s.checkDimensions(embedding); err != nil {
		return nil, err
	}

	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{formatEmbedding(embedding), options.MinSimilarity}
	argIndex := 3

	if options.Model != "" {
		whereClause += fmt.Sprintf(" AND model = $%d", argIndex)
		args = append(args, options.Model)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, text, text_hash, model, embedding::text, created_at,
			(1 - (embedding <=> $1)) AS similarity,
			(embedding <=> $1) AS distance
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, tableName, whereClause, argIndex)
	args = append(args, options.Limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var vector SentenceVector
		var embeddingStr string

		if err := rows.Scan(
			&vector.ID,
			&vector.Text,
			&vector.TextHash,
			&vector.Model,
			&embeddingStr,
			&vector.CreatedAt,
			&result.Similarity,
			&result.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan similarity result: %w", err)
		}

		vector.Embedding, err = parseEmbedding(embeddingStr)
		if err != nil {
			return nil, err
		}

		result.Vector = &vector
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

// GetStats returns row counts per model
func (s *Store) GetStats(ctx context.Context) (*VectorStats, error) {
	stats := &VectorStats{ByModel: make(map[string]int64)}

	var rows []struct {
		Model string `db:"model"`
		Count int64  `db:"count"`
	}
	query := fmt.Sprintf("SELECT model, COUNT(*) AS count FROM %s GROUP BY model", tableName)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}
	for _, r := range rows {
		stats.ByModel[r.Model] = r.Count
		stats.TotalVectors += r.Count
	}

	indexQuery := "SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE indexname = $1)"
	if err := s.db.GetContext(ctx, &stats.IndexPresent, indexQuery, "idx_"+tableName+"_embedding"); err != nil {
		s.logger.Warn("Failed to check vector index", zap.Error(err))
	}

	return stats, nil
}

// CreateIndex creates the ivfflat cosine index once enough rows exist
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+tableName); err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}

	if count < indexThreshold {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := fmt.Sprintf(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_%s_embedding
		ON %s USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, tableName, tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) checkDimensions(embedding []float32) error {
	if len(embedding) != s.dimensions {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.dimensions)
	}
	return nil
}

// formatEmbedding converts a float32 slice to pgvector text format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	var b strings.Builder
	b.Grow(len(embedding) * 12)
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseEmbedding converts pgvector text format back to a float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.TrimSpace(embeddingStr)
	if !strings.HasPrefix(embeddingStr, "[") || !strings.HasSuffix(embeddingStr, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", embeddingStr)
	}
	embeddingStr = embeddingStr[1 : len(embeddingStr)-1]
	if strings.TrimSpace(embeddingStr) == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = float32(val)
	}

	return embedding, nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
