package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the preset for a deployment environment, with
// environment variables applied on top.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
		cfg.Ingest.NATS.Embedded = true
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Leaderboard.RefreshInterval = time.Second
		cfg.Leaderboard.RecomputeTimeout = 2 * time.Second
		cfg.Server.ShutdownTimeout = 5 * time.Second
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Server.CORSOrigin = ""
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Server.CORSOrigin = ""
		cfg.Leaderboard.RefreshInterval = time.Minute
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s profile: %w", name, err)
	}
	return cfg, nil
}
