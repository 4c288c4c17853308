package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/simscore/internal/embeddings"
)

var (
	mu      sync.Mutex
	current *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, GetDefaults())

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/simscore/")
	v.AddConfigPath("$HOME/.simscore/")

	// Environment variable overrides, e.g. SIMSCORE_MODEL_BACKEND
	v.SetEnvPrefix("SIMSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	current = v
	mu.Unlock()

	return config, nil
}

// setDefaults registers every key so that env overrides apply even when the
// config file omits it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)

	v.SetDefault("model.model_name", d.Model.ModelName)
	v.SetDefault("model.backend", d.Model.Backend)
	v.SetDefault("model.tokenizer", d.Model.Tokenizer)
	v.SetDefault("model.model_path", d.Model.ModelPath)
	v.SetDefault("model.tokenizer_path", d.Model.TokenizerPath)
	v.SetDefault("model.output_name", d.Model.OutputName)
	v.SetDefault("model.hub_repo", d.Model.HubRepo)
	v.SetDefault("model.hub_revision", d.Model.HubRevision)
	v.SetDefault("model.cache_dir", d.Model.CacheDir)
	v.SetDefault("model.auto_download", d.Model.AutoDownload)
	v.SetDefault("model.device", d.Model.Device)
	v.SetDefault("model.hidden_size", d.Model.HiddenSize)
	v.SetDefault("model.pad_id", d.Model.PadID)
	v.SetDefault("model.max_length", d.Model.MaxLength)
	v.SetDefault("model.max_batch_size", d.Model.MaxBatchSize)
	v.SetDefault("model.model_timeout", d.Model.ModelTimeout)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.url", d.Cache.URL)
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.timeout", d.Cache.Timeout)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.database_url", d.Store.DatabaseURL)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.cleanup_interval", d.RateLimit.CleanupInterval)
	v.SetDefault("rate_limit.trust_forwarded_for", d.RateLimit.TrustForwardedFor)

	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.max_connections", d.WebSocket.MaxConnections)
	v.SetDefault("websocket.read_buffer_size", d.WebSocket.ReadBufferSize)
	v.SetDefault("websocket.write_buffer_size", d.WebSocket.WriteBufferSize)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_timeout", d.WebSocket.PongTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.username", d.WebSocket.Username)
	v.SetDefault("websocket.password", d.WebSocket.Password)
	v.SetDefault("websocket.events.broadcast_similarity", d.WebSocket.Events.BroadcastSimilarity)
	v.SetDefault("websocket.events.broadcast_embeddings", d.WebSocket.Events.BroadcastEmbeddings)
	v.SetDefault("websocket.events.broadcast_requests", d.WebSocket.Events.BroadcastRequests)
	v.SetDefault("websocket.events.broadcast_system", d.WebSocket.Events.BroadcastSystem)
	v.SetDefault("websocket.events.broadcast_connections", d.WebSocket.Events.BroadcastConnections)

	v.SetDefault("etl.batch_size", d.ETL.BatchSize)
	v.SetDefault("etl.workers", d.ETL.Workers)
	v.SetDefault("etl.variant", d.ETL.Variant)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if err := embeddings.ValidateModelConfig(config.Model); err != nil {
		return err
	}

	if config.Cache.Enabled && config.Cache.URL == "" {
		return fmt.Errorf("cache.url is required when cache is enabled")
	}

	if config.Store.Enabled && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store.database_url is required when store is enabled")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires positive requests_per_second and burst")
	}

	switch config.ETL.Variant {
	case "pairwise", "batch", "both":
	default:
		return fmt.Errorf("invalid etl variant: %s (must be pairwise, batch, or both)", config.ETL.Variant)
	}

	return nil
}

// Watch starts watching the configuration file loaded by the last Load call.
// Invalid changes are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := current
	mu.Unlock()
	if v == nil {
		return fmt.Errorf("config not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		newConfig := &Config{}
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("failed to unmarshal config: %w", err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("invalid configuration: %w", err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
