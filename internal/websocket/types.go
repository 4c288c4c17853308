package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeSimilarity is emitted for every scored pair
	EventTypeSimilarity EventType = "similarity"
	// EventTypeEmbedding is emitted for every embedding request
	EventTypeEmbedding EventType = "embedding"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// SimilarityEvent reports a similarity computation. Sentences are never
// broadcast, only their token counts. Score is omitted when not finite.
type SimilarityEvent struct {
	Mode           string   `json:"mode"`
	Score          *float32 `json:"score,omitempty"`
	NumericAnomaly bool     `json:"numeric_anomaly,omitempty"`
	CacheHits      int      `json:"cache_hits"`
	DurationMS     float64  `json:"duration_ms"`
	Error          string   `json:"error,omitempty"`
}

// EmbeddingEvent reports an embedding request
type EmbeddingEvent struct {
	Sentences   int     `json:"sentences"`
	Dimensions  int     `json:"dimensions"`
	TotalTokens int     `json:"total_tokens"`
	PaddedWidth int     `json:"padded_width"`
	DurationMS  float64 `json:"duration_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	Model            string  `json:"model"`
	TotalInferences  int64   `json:"total_inferences"`
	FailedRuns       int64   `json:"failed_runs"`
	NumericAnomalies int64   `json:"numeric_anomalies"`
	CacheHitRatio    float64 `json:"cache_hit_ratio"`
	ConnectedClients int     `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string             `json:"type"`
	Data SubscriptionRequest `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events        []EventType `json:"events"`
	ExcludeHealth bool        `json:"exclude_health,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.RWMutex
	subscription *SubscriptionRequest
	lastPing     time.Time
}

func (c *Client) setSubscription(sub *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
}

// wants reports whether the client's subscription admits event
func (c *Client) wants(event Event) bool {
	c.mu.RLock()
	sub := c.subscription
	c.mu.RUnlock()

	if sub == nil {
		return true
	}
	if sub.ExcludeHealth && event.Type == EventTypeRequestLog {
		if data, ok := event.Data.(RequestLogEvent); ok && data.Path == "/health" {
			return false
		}
	}
	for _, t := range sub.Events {
		if t == event.Type {
			return true
		}
	}
	return false
}
