package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/simscore/internal/config"
	"github.com/raaihank/simscore/internal/embeddings"
	"github.com/raaihank/simscore/internal/logger"
	"github.com/raaihank/simscore/internal/vector"
)

func newTestServer(t *testing.T, mutate func(*config.Config), deps Dependencies) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger.New failed: %v", err)
	}

	if deps.Service == nil {
		svc, err := embeddings.NewFactory(log.Logger).CreateService(context.Background(), cfg.Model, nil)
		if err != nil {
			t.Fatalf("CreateService failed: %v", err)
		}
		deps.Service = svc
	}

	s, err := New(cfg, log, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:40000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

type anomalyService struct {
	embeddings.EmbeddingService
}

func (anomalyService) CosineSimilarity(ctx context.Context, a, b string) (*embeddings.SimilarityResult, error) {
	return &embeddings.SimilarityResult{Score: float32(math.NaN()), Mode: embeddings.ModePairwise},
		fmt.Errorf("%w: score is NaN", embeddings.ErrNumericAnomaly)
}

type fakeStore struct {
	got *vector.SearchOptions
}

func (f *fakeStore) FindSimilar(ctx context.Context, embedding []float32, options *vector.SearchOptions) ([]*vector.SimilarityResult, error) {
	f.got = options
	return []*vector.SimilarityResult{
		{Vector: &vector.SentenceVector{Text: "Hello world"}, Similarity: 0.9, Distance: 0.1},
	}, nil
}

func (f *fakeStore) GetStats(ctx context.Context) (*vector.VectorStats, error) {
	return &vector.VectorStats{TotalVectors: 1}, nil
}

func TestServerEndpoints(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	t.Run("Health", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("Response should carry a request id")
		}
	})

	t.Run("Dashboard", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/", "")
		if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
			t.Fatalf("Expected dashboard page, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
		}
	})

	t.Run("Info", func(t *testing.T) {
		var info map[string]interface{}
		decodeBody(t, do(t, s, http.MethodGet, "/info", ""), &info)
		if info["dimensions"].(float64) != embeddings.DefaultHiddenSize || info["store_enabled"] != false {
			t.Errorf("Unexpected info %v", info)
		}
	})

	t.Run("Embed", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/embed", `{"sentences":["Hello world","I am a sentence"]}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var resp embedResponse
		decodeBody(t, rec, &resp)
		if len(resp.Embeddings) != 2 || resp.Dimensions != embeddings.DefaultHiddenSize {
			t.Fatalf("Unexpected response shape: %d rows, %d dims", len(resp.Embeddings), resp.Dimensions)
		}
		if resp.PaddedWidth < 4 {
			t.Errorf("Padded width %d too small", resp.PaddedWidth)
		}
	})

	t.Run("Similarity", func(t *testing.T) {
		for path, mode := range map[string]string{"/v1/similarity": "pairwise", "/v1/similarity/batch": "batch"} {
			rec := do(t, s, http.MethodPost, path, `{"a":"Hello","b":"Hello"}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body)
			}
			var resp similarityResponse
			decodeBody(t, rec, &resp)
			if resp.Mode != mode || math.Abs(float64(resp.Score)-1) > 1e-6 {
				t.Errorf("%s: unexpected response %+v", path, resp)
			}
		}
	})

	t.Run("Stats", func(t *testing.T) {
		var stats map[string]interface{}
		decodeBody(t, do(t, s, http.MethodGet, "/stats", ""), &stats)
		model := stats["model"].(map[string]interface{})
		if model["total_inferences"].(float64) == 0 {
			t.Errorf("Stats should count earlier requests: %v", model)
		}
	})

	t.Run("BadRequests", func(t *testing.T) {
		cases := map[string]string{
			"/v1/embed":      `{"sentences":[]}`,
			"/v1/similarity": `{"a":`,
		}
		for path, body := range cases {
			rec := do(t, s, http.MethodPost, path, body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s %s: expected 400, got %d", path, body, rec.Code)
			}
		}
		if rec := do(t, s, http.MethodPost, "/v1/similarity", `{"a":"x","b":"y","c":"z"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("Unknown fields should be rejected, got %d", rec.Code)
		}
	})

	t.Run("SearchWithoutStore", func(t *testing.T) {
		if rec := do(t, s, http.MethodPost, "/v1/search", `{"text":"hi"}`); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}
	})
}

func TestServerSearch(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, nil, Dependencies{Store: store})

	rec := do(t, s, http.MethodPost, "/v1/search", `{"text":"Hello","limit":3,"min_similarity":0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp searchResponse
	decodeBody(t, rec, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Text != "Hello world" {
		t.Errorf("Unexpected results %+v", resp.Results)
	}
	if store.got.Limit != 3 || store.got.MinSimilarity != 0.5 || store.got.Model != s.config.Model.ModelName {
		t.Errorf("Unexpected search options %+v", store.got)
	}
}

func TestServerNumericAnomaly(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{Service: anomalyService{}})

	rec := do(t, s, http.MethodPost, "/v1/similarity", `{"a":"x","b":"y"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error.Type != embeddings.ErrNumericAnomaly.Type || resp.Error.Code != embeddings.ErrNumericAnomaly.Code {
		t.Errorf("Unexpected error body %+v", resp.Error)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("score\":")) {
		t.Error("A NaN score must never be reported as a score")
	}
}

func TestServerRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}
	}, Dependencies{})

	body := `{"a":"a","b":"b"}`
	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodPost, "/v1/similarity", body); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodPost, "/v1/similarity", body)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Expected 429 with Retry-After, got %d", rec.Code)
	}

	// Health checks are not limited.
	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Health should bypass the limiter, got %d", rec.Code)
	}

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	s.ApplyConfig(cfg)
	if rec := do(t, s, http.MethodPost, "/v1/similarity", body); rec.Code != http.StatusOK {
		t.Errorf("Disabling the limiter should take effect immediately, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", embeddings.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("sentence 0: %w", embeddings.ErrTokenizationFailed), http.StatusBadRequest},
		{embeddings.ErrNumericAnomaly, http.StatusUnprocessableEntity},
		{embeddings.ErrModelNotLoaded, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", embeddings.ErrTimeoutError, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: session run", embeddings.ErrEncoderFailed), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(true, 0.001, 1)
	if !rl.Allow("a") {
		t.Fatal("First request should pass")
	}
	if rl.Allow("a") {
		t.Error("Second request should exceed the burst")
	}
	if !rl.Allow("b") {
		t.Error("Clients have separate buckets")
	}

	rl.Update(true, 1000, 5)
	time.Sleep(10 * time.Millisecond)
	if !rl.Allow("a") {
		t.Error("Raised limit should apply to existing clients")
	}

	if removed := rl.Cleanup(0); removed != 2 {
		t.Errorf("Expected 2 idle clients removed, got %d", removed)
	}

	rl.Update(false, 0, 0)
	for i := 0; i < 10; i++ {
		if !rl.Allow("c") {
			t.Fatal("Disabled limiter should allow everything")
		}
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:5555"
	if got := clientKey(r, false); got != "192.168.1.5" {
		t.Errorf("Expected host without port, got %s", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientKey(r, false); got != "192.168.1.5" {
		t.Errorf("Untrusted forwarding headers must be ignored, got %s", got)
	}
	if got := clientKey(r, true); got != "203.0.113.7" {
		t.Errorf("Expected first forwarded address, got %s", got)
	}
}

func TestServerRateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	}, Dependencies{})

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/similarity", strings.NewReader(`{"a":"a","b":"b"}`))
		req.RemoteAddr = "10.0.0.9:40000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("198.51.100.1"); code != http.StatusOK {
		t.Fatalf("First request: expected 200, got %d", code)
	}
	if code := send("198.51.100.2"); code != http.StatusTooManyRequests {
		t.Errorf("Rotating X-Forwarded-For must not reset the bucket, got %d", code)
	}

	cfg := config.GetDefaults()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1, TrustForwardedFor: true}
	s.ApplyConfig(cfg)
	if code := send("198.51.100.3"); code != http.StatusOK {
		t.Errorf("Trusted forwarded addresses get their own bucket, got %d", code)
	}
}
