package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/simscore/internal/cache"
	"github.com/raaihank/simscore/internal/config"
	"github.com/raaihank/simscore/internal/embeddings"
	"github.com/raaihank/simscore/internal/logger"
	"github.com/raaihank/simscore/internal/vector"
	"github.com/raaihank/simscore/internal/web"
	"github.com/raaihank/simscore/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// VectorSearcher is the part of the vector store the server uses
type VectorSearcher interface {
	FindSimilar(ctx context.Context, embedding []float32, options *vector.SearchOptions) ([]*vector.SimilarityResult, error)
	GetStats(ctx context.Context) (*vector.VectorStats, error)
}

// CacheStatsProvider reports embedding cache statistics
type CacheStatsProvider interface {
	GetStats(ctx context.Context) (*cache.CacheStats, error)
}

// Dependencies are the collaborators the server exposes. Store and Cache may be nil.
type Dependencies struct {
	Service embeddings.EmbeddingService
	Store   VectorSearcher
	Cache   CacheStatsProvider
}

// Server serves the similarity API
type Server struct {
	mu      sync.RWMutex
	config  *config.Config
	logger  *logger.Logger
	deps    Dependencies
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	limiter *RateLimiter
	started time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("%w: embedding service is required", embeddings.ErrModelNotLoaded)
	}

	ws := cfg.WebSocket
	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastSimilarity:  ws.Events.BroadcastSimilarity,
		BroadcastEmbeddings:  ws.Events.BroadcastEmbeddings,
		BroadcastRequests:    ws.Events.BroadcastRequests,
		BroadcastSystem:      ws.Events.BroadcastSystem,
		BroadcastConnections: ws.Events.BroadcastConnections,
		Username:             ws.Username,
		Password:             ws.Password,
		AllowedOrigins:       ws.AllowedOrigins,
		MaxConnections:       ws.MaxConnections,
		ReadBufferSize:       ws.ReadBufferSize,
		WriteBufferSize:      ws.WriteBufferSize,
		PingInterval:         ws.PingInterval,
		PongTimeout:          ws.PongTimeout,
		WriteTimeout:         ws.WriteTimeout,
		MaxMessageSize:       ws.MaxMessageSize,
	}, log.WithComponent("websocket").Logger)

	rl := cfg.RateLimit
	server := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		deps:    deps,
		router:  mux.NewRouter(),
		wsHub:   wsHub,
		limiter: NewRateLimiter(rl.Enabled, rl.RequestsPerSecond, rl.Burst),
		started: time.Now(),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
		s.router.HandleFunc("/", web.Dashboard(web.DashboardData{
			Model:         s.config.Model.ModelName,
			Version:       Version,
			WebSocketPath: s.config.WebSocket.Path,
		})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/embed", s.handleEmbed).Methods(http.MethodPost)
	api.HandleFunc("/similarity", s.handleSimilarity(embeddings.ModePairwise)).Methods(http.MethodPost)
	api.HandleFunc("/similarity/batch", s.handleSimilarity(embeddings.ModeBatch)).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
}

// Start runs the hub and background loops, then serves until Stop
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting simscore server",
		zap.String("addr", s.server.Addr),
		zap.Bool("websocket", s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
		zap.Bool("store", s.deps.Store != nil),
		zap.Bool("cache", s.deps.Cache != nil))

	go s.wsHub.Run(ctx)
	go s.statusLoop(ctx, 30*time.Second)
	s.limiter.StartCleanup(ctx, s.config.RateLimit.CleanupInterval)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping simscore server")
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

// ApplyConfig updates the settings that can change without a restart
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.config.RateLimit = cfg.RateLimit
	s.config.WebSocket.Events = cfg.WebSocket.Events
	s.mu.Unlock()

	s.limiter.Update(cfg.RateLimit.Enabled, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	ev := cfg.WebSocket.Events
	s.wsHub.SetEvents(ev.BroadcastSimilarity, ev.BroadcastEmbeddings, ev.BroadcastRequests, ev.BroadcastSystem, ev.BroadcastConnections)

	s.logger.Info("Runtime configuration applied",
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Float64("requests_per_second", cfg.RateLimit.RequestsPerSecond),
		zap.Int("burst", cfg.RateLimit.Burst))
}

func (s *Server) statusLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data:      s.systemStatus(ctx),
			})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) systemStatus(ctx context.Context) websocket.SystemStatusEvent {
	stats := s.deps.Service.GetStats()
	status := "healthy"
	if err := s.deps.Service.HealthCheck(ctx); err != nil {
		status = "unhealthy"
	}
	return websocket.SystemStatusEvent{
		Status:           status,
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		Model:            s.config.Model.ModelName,
		TotalInferences:  stats.TotalInferences,
		FailedRuns:       stats.FailedRuns,
		NumericAnomalies: stats.NumericAnomalies,
		CacheHitRatio:    stats.CacheHitRatio,
		ConnectedClients: s.wsHub.ClientCount(),
	}
}
