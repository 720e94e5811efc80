// Package config loads reasonloop configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/reasonloop/agentloop"
)

// Config is the full application configuration.
type Config struct {
	Loop         agentloop.Config          `koanf:"loop"`
	Providers    map[string]ProviderConfig `koanf:"providers"`
	Retry        RetryConfig               `koanf:"retry"`
	RateLimit    RateLimitConfig           `koanf:"rate_limit"`
	Logging      LoggingConfig             `koanf:"logging"`
	Session      SessionConfig             `koanf:"session"`
	Metrics      MetricsConfig             `koanf:"metrics"`
	Workspace    WorkspaceConfig           `koanf:"workspace"`
	Instructions string                    `koanf:"instructions"`
}

// ProviderConfig configures one model backend. An empty APIKey falls back to
// the provider's conventional environment variable.
type ProviderConfig struct {
	APIKey      Secret   `koanf:"api_key"`
	Model       string   `koanf:"model"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
	// Headers are sent with every request to the backend.
	Headers map[string]string `koanf:"headers"`
}

// RetryConfig configures per-call retries before provider fallback.
type RetryConfig struct {
	MaxRetries int      `koanf:"max_retries"`
	BaseDelay  Duration `koanf:"base_delay"`
	MaxDelay   Duration `koanf:"max_delay"`
}

// RateLimitConfig caps outgoing model calls. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// SessionConfig selects the prior-context store.
type SessionConfig struct {
	Backend        string   `koanf:"backend"` // memory or sqlite
	Path           string   `koanf:"path"`
	TTL            Duration `koanf:"ttl"`
	MaxRecentCalls int      `koanf:"max_recent_calls"`
	MaxSessions    int      `koanf:"max_sessions"` // memory backend only
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// WorkspaceConfig locates the per-domain file roots used by the built-in
// tools.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// Default returns the configuration used when no file or environment value
// overrides a field.
func Default() *Config {
	return &Config{
		Loop: agentloop.DefaultConfig(),
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  Duration(time.Second),
			MaxDelay:   Duration(30 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Session: SessionConfig{
			Backend:        "memory",
			TTL:            Duration(30 * time.Minute),
			MaxRecentCalls: 10,
			MaxSessions:    1024,
		},
		Workspace: WorkspaceConfig{Root: "."},
	}
}

// Validate reports every configuration error found.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Loop.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("loop: %w", err))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must not be negative"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	switch c.Session.Backend {
	case "memory":
	case "sqlite":
		if c.Session.Path == "" {
			errs = append(errs, errors.New("session.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend must be memory or sqlite, got %q", c.Session.Backend))
	}
	if c.Loop.DefaultProvider != "" && len(c.Providers) > 0 {
		if _, ok := c.Providers[c.Loop.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("loop.default_provider %q is not configured under providers", c.Loop.DefaultProvider))
		}
	}
	return errors.Join(errs...)
}
