// Package config loads the gateway's static, process-wide configuration:
// server/database/redis connection settings, provider credentials, logging,
// and the ambient knobs for the sanitizer/rate limiter/RAG retriever. This
// is distinct from internal/rules, which holds the hot-reloadable,
// database-backed safety rules and is refreshed independently at runtime.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete process configuration, loaded once at startup from
// environment variables and an optional YAML file.
type Config struct {
	Profile    DeploymentProfile `mapstructure:"profile"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Moderation ModerationProviderConfig `mapstructure:"moderation"`
	Completion CompletionProviderConfig `mapstructure:"completion"`
	Log        LogConfig         `mapstructure:"log"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	App        AppConfig         `mapstructure:"app"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Admin      AdminConfig       `mapstructure:"admin"`
}

// DeploymentProfile selects which storage/cache backends are wired.
type DeploymentProfile string

const (
	// ProfileLite is single-node deployment with embedded SQLite and no
	// external dependencies; session rate limiting falls back to an
	// in-process sliding window.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is the HA-ready deployment with Postgres and Redis.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend        StorageBackend `mapstructure:"backend"`
	FilesystemPath string         `mapstructure:"filesystem_path"`
}

// StorageBackend is the concrete persistence implementation in use.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
	StorageBackendMemory   StorageBackend = "memory"
)

// ServerConfig holds HTTP server listen/timeout settings.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`

	// MaxRequestBodyBytes caps the size of any inbound request body. Requests
	// that declare a larger Content-Length are rejected outright; requests
	// that don't (or understate it) are cut off mid-read.
	MaxRequestBodyBytes int64 `mapstructure:"max_request_body_bytes"`
}

// DatabaseConfig holds relational storage connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig holds Redis connection settings, used for cross-instance rate
// limiting and the two-tier conversation-list cache in the standard profile.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// ModerationProviderConfig configures the hosted moderation adapter.
type ModerationProviderConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// CompletionProviderConfig configures the hosted LLM completion adapter.
type CompletionProviderConfig struct {
	Provider        string        `mapstructure:"provider"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	FirstByteTimeout time.Duration `mapstructure:"first_byte_timeout"`
	OverallTimeout   time.Duration `mapstructure:"overall_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig configures the config snapshot cache and conversation list cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
}

// PipelineConfig holds the tunable knobs for each safety pipeline stage.
type PipelineConfig struct {
	MaxInputChars        int           `mapstructure:"max_input_chars"`
	FallbackToDefaults   bool          `mapstructure:"fallback_to_defaults"`
	RAGTopK              int           `mapstructure:"rag_top_k"`
	RAGTokenBudgetChars  int           `mapstructure:"rag_token_budget_chars"`
	ConversationWindow   int           `mapstructure:"conversation_window"`
	RateLimitPerMinute   int           `mapstructure:"rate_limit_per_minute"`
	RateLimitWindow      time.Duration `mapstructure:"rate_limit_window"`
	SanitizerTimeout     time.Duration `mapstructure:"sanitizer_timeout"`
	RuleEngineTimeout    time.Duration `mapstructure:"rule_engine_timeout"`
	RAGTimeout           time.Duration `mapstructure:"rag_timeout"`
	RegexMatchBudget     time.Duration `mapstructure:"regex_match_budget"`
	SystemPrompt         string        `mapstructure:"system_prompt"`
}

// AppConfig holds generic application metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// AdminConfig holds the admin-surface shared secret.
type AdminConfig struct {
	Key string `mapstructure:"key"`
}

// Load reads configuration from configPath (if non-empty) and environment
// variables, applying defaults first so every field has a sane value even
// with an empty environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field invariants that mapstructure cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Profile == ProfileStandard && c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("database connection required for standard profile")
	}
	if c.Pipeline.MaxInputChars <= 0 {
		return fmt.Errorf("pipeline.max_input_chars must be positive")
	}
	if c.Admin.Key == "" {
		return fmt.Errorf("admin.key must be set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "lite")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.filesystem_path", "./data/convogate.db")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "125s") // >= LLM overall timeout + margin
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_timeout", "30s")
	v.SetDefault("server.max_request_body_bytes", 1<<20) // 1MiB

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.database", "convogate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.query_timeout", "30s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", "100ms")
	v.SetDefault("redis.max_retry_backoff", "500ms")

	v.SetDefault("moderation.enabled", true)
	v.SetDefault("moderation.timeout", "5s")
	v.SetDefault("moderation.max_retries", 2)

	v.SetDefault("completion.provider", "openai")
	v.SetDefault("completion.model", "gpt-4o-mini")
	v.SetDefault("completion.max_tokens", 1024)
	v.SetDefault("completion.temperature", 0.4)
	v.SetDefault("completion.first_byte_timeout", "15s")
	v.SetDefault("completion.overall_timeout", "120s")
	v.SetDefault("completion.max_retries", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("cache.ttl", "300s")
	v.SetDefault("cache.cleanup_interval", "60s")
	v.SetDefault("cache.enable_metrics", true)

	v.SetDefault("pipeline.max_input_chars", 2000)
	v.SetDefault("pipeline.fallback_to_defaults", true)
	v.SetDefault("pipeline.rag_top_k", 5)
	v.SetDefault("pipeline.rag_token_budget_chars", 6000)
	v.SetDefault("pipeline.conversation_window", 20)
	v.SetDefault("pipeline.rate_limit_per_minute", 10)
	v.SetDefault("pipeline.rate_limit_window", "60s")
	v.SetDefault("pipeline.sanitizer_timeout", "10ms")
	v.SetDefault("pipeline.rule_engine_timeout", "1s")
	v.SetDefault("pipeline.rag_timeout", "100ms")
	v.SetDefault("pipeline.regex_match_budget", "50ms")
	v.SetDefault("pipeline.system_prompt", "You are a helpful, careful support assistant.")

	v.SetDefault("app.name", "convogate")
	v.SetDefault("app.environment", "development")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// No usable default; registering the key lets Unmarshal pick up ADMIN_KEY.
	v.SetDefault("admin.key", "")
}
