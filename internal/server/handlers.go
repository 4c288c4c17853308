package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/simscore/internal/embeddings"
	"github.com/raaihank/simscore/internal/vector"
	"github.com/raaihank/simscore/internal/websocket"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type embedRequest struct {
	Sentences []string `json:"sentences"`
}

type embedResponse struct {
	Embeddings  [][]float32 `json:"embeddings"`
	Dimensions  int         `json:"dimensions"`
	PaddedWidth int         `json:"padded_width"`
	TotalTokens int         `json:"total_tokens"`
	DurationMS  float64     `json:"duration_ms"`
}

type similarityRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type similarityResponse struct {
	Score      float32 `json:"score"`
	Mode       string  `json:"mode"`
	CacheHits  int     `json:"cache_hits"`
	DurationMS float64 `json:"duration_ms"`
}

type searchRequest struct {
	Text          string  `json:"text"`
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
}

type searchHit struct {
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity"`
	Distance   float32 `json:"distance"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

// handleHealth runs the embedding health probe
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Service.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo describes the loaded model and enabled features
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	m := s.config.Model
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "simscore",
		"version":        Version,
		"model":          m.ModelName,
		"backend":        m.Backend,
		"tokenizer":      m.Tokenizer,
		"dimensions":     m.HiddenSize,
		"max_batch_size": m.MaxBatchSize,
		"cache_enabled":  s.deps.Cache != nil,
		"store_enabled":  s.deps.Store != nil,
		"websocket":      s.config.WebSocket.Enabled,
	})
}

// handleStats reports model, cache, store and websocket statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"model":     s.deps.Service.GetStats(),
		"websocket": s.wsHub.GetStats(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Cache != nil {
		if stats, err := s.deps.Cache.GetStats(r.Context()); err == nil {
			resp["cache"] = stats
		} else {
			s.logger.Warn("Failed to read cache stats", zap.Error(err))
		}
	}
	if s.deps.Store != nil {
		if stats, err := s.deps.Store.GetStats(r.Context()); err == nil {
			resp["store"] = stats
		} else {
			s.logger.Warn("Failed to read store stats", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEmbed embeds the request sentences as one batch
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.deps.Service.GenerateBatchEmbeddings(r.Context(), req.Sentences)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i, row := range result.Embeddings {
		if !embeddings.IsFinite(row) {
			s.writeError(w, r, fmt.Errorf("%w: embedding %d is not finite", embeddings.ErrNumericAnomaly, i))
			return
		}
	}

	dims := 0
	if len(result.Embeddings) > 0 {
		dims = len(result.Embeddings[0])
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeEmbedding,
		RequestID: getRequestID(r.Context()),
		Data: websocket.EmbeddingEvent{
			Sentences:   len(req.Sentences),
			Dimensions:  dims,
			TotalTokens: result.TotalTokens,
			PaddedWidth: result.PaddedWidth,
			DurationMS:  millis(result.Duration),
		},
	})

	writeJSON(w, http.StatusOK, embedResponse{
		Embeddings:  result.Embeddings,
		Dimensions:  dims,
		PaddedWidth: result.PaddedWidth,
		TotalTokens: result.TotalTokens,
		DurationMS:  millis(result.Duration),
	})
}

// handleSimilarity scores a pair in the given mode
func (s *Server) handleSimilarity(mode embeddings.SimilarityMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req similarityRequest
		if !s.decode(w, r, &req) {
			return
		}

		start := time.Now()
		var result *embeddings.SimilarityResult
		var err error
		if mode == embeddings.ModeBatch {
			result, err = s.deps.Service.CosineSimilarityBatch(r.Context(), req.A, req.B)
		} else {
			result, err = s.deps.Service.CosineSimilarity(r.Context(), req.A, req.B)
		}

		event := websocket.SimilarityEvent{Mode: string(mode), DurationMS: millis(time.Since(start))}
		if result != nil {
			event.CacheHits = result.CacheHits
			if !math.IsNaN(float64(result.Score)) && !math.IsInf(float64(result.Score), 0) {
				score := result.Score
				event.Score = &score
			}
		}
		if err != nil {
			event.Error = err.Error()
			event.NumericAnomaly = errors.Is(err, embeddings.ErrNumericAnomaly)
		}
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeSimilarity,
			RequestID: getRequestID(r.Context()),
			Data:      event,
		})

		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, similarityResponse{
			Score:      result.Score,
			Mode:       string(result.Mode),
			CacheHits:  result.CacheHits,
			DurationMS: millis(result.Duration),
		})
	}
}

// handleSearch finds stored sentences closest to the request text
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorBody{
			Type:    "store_disabled",
			Message: "vector store is not configured",
		}})
		return
	}

	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 5
	}

	emb, err := s.deps.Service.GenerateEmbedding(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !embeddings.IsFinite(emb.Embedding) {
		s.writeError(w, r, fmt.Errorf("%w: query embedding is not finite", embeddings.ErrNumericAnomaly))
		return
	}

	results, err := s.deps.Store.FindSimilar(r.Context(), emb.Embedding, &vector.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Model:         s.config.Model.ModelName,
	})
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Vector search failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: errorBody{
			Type:    "store_error",
			Message: "vector search failed",
		}})
		return
	}

	resp := searchResponse{Results: make([]searchHit, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, searchHit{
			Text:       res.Vector.Text,
			Similarity: res.Similarity,
			Distance:   res.Distance,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Type:    embeddings.ErrInvalidInput.Type,
			Message: "malformed request body: " + err.Error(),
			Code:    embeddings.ErrInvalidInput.Code,
		}})
		return false
	}
	return true
}

// writeError maps embedding errors to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Type: "internal_error", Message: err.Error()}

	var embErr *embeddings.EmbeddingError
	if errors.As(err, &embErr) {
		body.Type = embErr.Type
		body.Code = embErr.Code
	}

	log := s.logger.WithRequestID(getRequestID(r.Context()))
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Error: body})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, embeddings.ErrInvalidInput), errors.Is(err, embeddings.ErrTokenizationFailed):
		return http.StatusBadRequest
	case errors.Is(err, embeddings.ErrNumericAnomaly):
		return http.StatusUnprocessableEntity
	case errors.Is(err, embeddings.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrTimeoutError):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
