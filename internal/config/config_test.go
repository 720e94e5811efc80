package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/reasonloop/agentloop"
)

const sampleYAML = `
instructions: You answer questions about the finance workspace.
loop:
  max_iterations: 8
  max_execution_time: 90s
  default_provider: anthropic
  fallback_provider: openai
  relevance_gate: enforce
  search_class_functions: [search_files]
  role_provider_overrides:
    admin: openai
  observation_char_limits:
    read_file: 4000
providers:
  anthropic:
    api_key: sk-ant-test
    model: claude-sonnet-4-5
  openai:
    model: gpt-5
retry:
  max_retries: 1
  base_delay: 250ms
rate_limit:
  requests_per_second: 2.5
  burst: 4
logging:
  level: debug
  format: json
session:
  backend: sqlite
  path: /tmp/sessions.db
  ttl: 1h
`

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, agentloop.DefaultConfig(), cfg.Loop)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Duration())
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL.Duration())
	assert.Equal(t, 1024, cfg.Session.MaxSessions)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, ".", cfg.Workspace.Root)
}

func TestLoadBytes_ExplicitZeroKept(t *testing.T) {
	cfg, err := LoadBytes([]byte("retry:\n  max_retries: 0\nloop:\n  history_window: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, 0, cfg.Loop.HistoryWindow)
	assert.Equal(t, 15, cfg.Loop.MaxIterations, "unset fields keep defaults")
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Duration())
}

func TestLoadBytes_YAML(t *testing.T) {
	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "You answer questions about the finance workspace.", cfg.Instructions)
	assert.Equal(t, 8, cfg.Loop.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.Loop.MaxExecutionTime)
	assert.Equal(t, "anthropic", cfg.Loop.DefaultProvider)
	assert.Equal(t, "openai", cfg.Loop.FallbackProvider)
	assert.Equal(t, agentloop.GateEnforce, cfg.Loop.RelevanceGate)
	assert.Equal(t, []string{"search_files"}, cfg.Loop.SearchClassFunctions)
	assert.Equal(t, map[string]string{"admin": "openai"}, cfg.Loop.RoleProviderOverrides)
	assert.Equal(t, 4000, cfg.Loop.ObservationCharLimits["read_file"])
	assert.Equal(t, agentloop.RepeatWarn, cfg.Loop.RepeatPolicy, "unset fields keep defaults")

	require.Contains(t, cfg.Providers, "anthropic")
	assert.Equal(t, "sk-ant-test", cfg.Providers["anthropic"].APIKey.Value())
	assert.False(t, cfg.Providers["openai"].APIKey.IsSet())
	assert.Equal(t, "gpt-5", cfg.Providers["openai"].Model)

	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.Duration())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay.Duration())
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 0.001)
	assert.Equal(t, 4, cfg.RateLimit.Burst)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.Equal(t, time.Hour, cfg.Session.TTL.Duration())
}

func TestLoadBytes_ProviderTransport(t *testing.T) {
	cfg, err := LoadBytes([]byte("providers:\n  openai:\n    timeout: 20s\n    headers:\n      X-Team: finance\n"))
	require.NoError(t, err)
	pc := cfg.Providers["openai"]
	assert.Equal(t, 20*time.Second, pc.Timeout.Duration())
	assert.Equal(t, "finance", pc.Headers["X-Team"])
}

func TestLoadBytes_EnvOverrides(t *testing.T) {
	t.Setenv("REASONLOOP_LOOP_MAX_ITERATIONS", "3")
	t.Setenv("REASONLOOP_LOGGING_LEVEL", "warn")
	t.Setenv("REASONLOOP_SESSION_BACKEND", "memory")

	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 90*time.Second, cfg.Loop.MaxExecutionTime)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "loop.max_iterations", envKey("REASONLOOP_LOOP_MAX_ITERATIONS"))
	assert.Equal(t, "logging.level", envKey("REASONLOOP_LOGGING_LEVEL"))
	assert.Equal(t, "instructions", envKey("REASONLOOP_INSTRUCTIONS"))
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"malformed yaml", "loop: [", "parse config"},
		{"sqlite without path", "session:\n  backend: sqlite\n", "session.path"},
		{"unknown backend", "session:\n  backend: redis\n", "session.backend"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"negative retries", "retry:\n  max_retries: -1\n", "retry.max_retries"},
		{"unknown gate", "loop:\n  relevance_gate: strict\n", "relevance_gate"},
		{"negative duration", "retry:\n  base_delay: -1s\n", "decode config"},
		{
			"default provider not configured",
			"loop:\n  default_provider: groq\nproviders:\n  openai:\n    model: gpt-5\n",
			"loop.default_provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reasonloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Loop.MaxIterations)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Loop.MaxIterations)
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("#", maxConfigFileSize+1)), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than")
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", ProviderConfig{APIKey: s}), "sk-live-123")
	assert.Equal(t, "sk-live-123", s.Value())

	raw, err := json.Marshal(ProviderConfig{APIKey: s})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-live-123")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
}
