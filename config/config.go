package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"duelkit/adapters/nats"
	"duelkit/adapters/redis"
	"duelkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" mapstructure:"environment" env:"DUELKIT_ENV"`
	Profile     string      `json:"profile" mapstructure:"profile" env:"DUELKIT_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics and monitoring
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Security configuration
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Leaderboard cache
	Leaderboard LeaderboardConfig `json:"leaderboard" mapstructure:"leaderboard"`

	// Match ingestion and event publishing over NATS
	Ingest IngestConfig `json:"ingest" mapstructure:"ingest"`

	// Outbound webhooks
	Webhooks WebhooksConfig `json:"webhooks" mapstructure:"webhooks"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" mapstructure:"address" env:"DUELKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" mapstructure:"path_prefix" env:"DUELKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" mapstructure:"cors_origin" env:"DUELKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" mapstructure:"read_timeout" env:"DUELKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" mapstructure:"write_timeout" env:"DUELKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" env:"DUELKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" mapstructure:"read_header_timeout" env:"DUELKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" env:"DUELKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" mapstructure:"adapter" env:"DUELKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" mapstructure:"redis"`
	SQL     sqlx.Config  `json:"sql,omitempty" mapstructure:"sql"`
	File    FileConfig   `json:"file,omitempty" mapstructure:"file"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" mapstructure:"path" env:"DUELKIT_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" mapstructure:"level" env:"DUELKIT_LOG_LEVEL"`
	Format     string            `json:"format" mapstructure:"format" env:"DUELKIT_LOG_FORMAT"`
	Output     string            `json:"output" mapstructure:"output" env:"DUELKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" mapstructure:"attributes"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled" env:"DUELKIT_METRICS_ENABLED"`
	Address       string `json:"address" mapstructure:"address" env:"DUELKIT_METRICS_ADDR"`
	Path          string `json:"path" mapstructure:"path" env:"DUELKIT_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" mapstructure:"collect_system" env:"DUELKIT_METRICS_COLLECT_SYSTEM"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" mapstructure:"enable_rate_limit" env:"DUELKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty" mapstructure:"rate_limit"`
	APIKeys         []string        `json:"api_keys,omitempty" mapstructure:"api_keys" env:"DUELKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute" env:"DUELKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" mapstructure:"burst_size" env:"DUELKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval" env:"DUELKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// LeaderboardConfig sizes and schedules the top-N cache
type LeaderboardConfig struct {
	Size             int           `json:"size" mapstructure:"size" env:"DUELKIT_LEADERBOARD_SIZE"`
	Counters         []string      `json:"counters" mapstructure:"counters" env:"DUELKIT_LEADERBOARD_COUNTERS"`
	RefreshInterval  time.Duration `json:"refresh_interval" mapstructure:"refresh_interval" env:"DUELKIT_LEADERBOARD_REFRESH_INTERVAL"`
	RecomputeTimeout time.Duration `json:"recompute_timeout" mapstructure:"recompute_timeout" env:"DUELKIT_LEADERBOARD_RECOMPUTE_TIMEOUT"`
	// ServeStale keeps the previous board readable while a rebuild runs.
	ServeStale bool `json:"serve_stale" mapstructure:"serve_stale" env:"DUELKIT_LEADERBOARD_SERVE_STALE"`
}

// IngestConfig enables the NATS match listener and event publisher
type IngestConfig struct {
	Enabled bool        `json:"enabled" mapstructure:"enabled" env:"DUELKIT_INGEST_ENABLED"`
	NATS    nats.Config `json:"nats" mapstructure:"nats"`
}

// WebhooksConfig lists endpoints that receive domain events
type WebhooksConfig struct {
	Endpoints  []string `json:"endpoints,omitempty" mapstructure:"endpoints" env:"DUELKIT_WEBHOOK_ENDPOINTS"`
	EventTypes []string `json:"event_types,omitempty" mapstructure:"event_types" env:"DUELKIT_WEBHOOK_EVENT_TYPES"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file. Environment variables
// override file values.
func LoadFromFile(path string) (*Config, error) {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	cfg := DefaultConfig()
	if err := loadFromFileAndEnv(cfg, filepath.Clean(path)); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/duelkit.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Leaderboard: LeaderboardConfig{
			Size:             10,
			Counters:         []string{"wins", "losses"},
			RefreshInterval:  30 * time.Second,
			RecomputeTimeout: 10 * time.Second,
			ServeStale:       false,
		},
		Ingest: IngestConfig{
			Enabled: false,
			NATS:    nats.DefaultConfig(),
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	// Validate environment
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	// Validate server config
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	// Validate storage config
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	// Validate logging config
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	// Validate metrics config
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("metrics config: %v", err))
	}

	// Validate security config
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Leaderboard.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("leaderboard config: %v", err))
	}

	if err := c.Ingest.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("ingest config: %v", err))
	}

	if err := c.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhooks config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	// Redact sensitive information
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
