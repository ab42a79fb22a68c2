package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"duelkit/adapters/sqlx"
	"duelkit/core"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{"memory", "redis", "sql", "file"}
	isValidAdapter := false
	for _, adapter := range validAdapters {
		if s.Adapter == adapter {
			isValidAdapter = true
			break
		}
	}

	if !isValidAdapter {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	// Validate adapter-specific configs
	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "sql":
		switch s.SQL.Driver {
		case sqlx.DriverPostgres, sqlx.DriverMySQL, sqlx.DriverSQLite:
		default:
			errs = append(errs, fmt.Sprintf("sql config: unsupported driver %q", s.SQL.Driver))
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	validLevels := []string{"debug", "info", "warn", "error"}
	isValidLevel := false
	for _, level := range validLevels {
		if l.Level == level {
			isValidLevel = true
			break
		}
	}

	if !isValidLevel {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	validFormats := []string{"json", "text"}
	isValidFormat := false
	for _, format := range validFormats {
		if l.Format == format {
			isValidFormat = true
			break
		}
	}

	if !isValidFormat {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}

	validOutputs := []string{"stdout", "stderr"}
	isValidOutput := false
	for _, output := range validOutputs {
		if l.Output == output {
			isValidOutput = true
			break
		}
	}

	if !isValidOutput {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string

	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}

		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates security configuration
func (s *SecurityConfig) Validate() error {
	var errs []string

	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be positive")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be positive")
		}
	}
	for i, k := range s.APIKeys {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] cannot be blank", i))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates leaderboard configuration
func (l *LeaderboardConfig) Validate() error {
	var errs []string

	if l.Size <= 0 {
		errs = append(errs, "size must be positive")
	}
	if len(l.Counters) == 0 {
		errs = append(errs, "counters cannot be empty")
	}
	seen := map[string]bool{}
	for _, c := range l.Counters {
		if err := core.ValidateCounter(core.Counter(c)); err != nil {
			errs = append(errs, fmt.Sprintf("invalid counter %q", c))
		}
		if seen[c] {
			errs = append(errs, fmt.Sprintf("duplicate counter %q", c))
		}
		seen[c] = true
	}
	if l.RefreshInterval < 0 {
		errs = append(errs, "refresh_interval cannot be negative")
	}
	if l.RecomputeTimeout < 0 {
		errs = append(errs, "recompute_timeout cannot be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates ingest configuration
func (i *IngestConfig) Validate() error {
	if !i.Enabled {
		return nil
	}
	var errs []string
	if !i.NATS.Embedded && i.NATS.URL == "" {
		errs = append(errs, "nats.url cannot be empty unless embedded")
	}
	if i.NATS.Subject == "" {
		errs = append(errs, "nats.subject cannot be empty")
	}
	if i.NATS.EventPrefix == "" {
		errs = append(errs, "nats.event_prefix cannot be empty")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates webhook configuration
func (w *WebhooksConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}
	known := map[core.EventType]bool{}
	for _, t := range core.AllEventTypes {
		known[t] = true
	}
	for _, t := range w.EventTypes {
		if !known[core.EventType(t)] {
			errs = append(errs, fmt.Sprintf("unknown event type %q", t))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
