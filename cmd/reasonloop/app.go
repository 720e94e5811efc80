package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/teilomillet/gollm"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/martinemde/reasonloop/agentloop"
	"github.com/martinemde/reasonloop/internal/config"
	"github.com/martinemde/reasonloop/internal/logging"
	"github.com/martinemde/reasonloop/internal/session"
	"github.com/martinemde/reasonloop/internal/workspace"
	"github.com/martinemde/reasonloop/llm"
)

// knownProviders are registered when the config names none.
var knownProviders = []string{"anthropic", "openai", "groq", "mistral"}

// app holds everything a command needs, built from config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *llm.Client
	registry *prometheus.Registry
	sessions session.Store
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}
	client, err := buildClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, client: client}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
	}
	return a, nil
}

// buildClient registers one gollm provider per configured backend. A backend
// without credentials is still registered, so it reports as unavailable.
func buildClient(cfg *config.Config, logger *zap.Logger) (*llm.Client, error) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		names = knownProviders
	}

	middleware := []llm.Middleware{
		llm.Recover(),
		llm.Tracing(otel.Tracer("github.com/martinemde/reasonloop/llm")),
		llm.Logging(logger.Named("llm")),
	}
	if cfg.Retry.MaxRetries > 0 {
		policy := llm.DefaultRetryPolicy()
		policy.MaxRetries = cfg.Retry.MaxRetries
		policy.BaseDelay = cfg.Retry.BaseDelay.Duration()
		policy.MaxDelay = cfg.Retry.MaxDelay.Duration()
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			logger.Info("retrying model call", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		}
		middleware = append(middleware, llm.Retry(policy))
	}
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		middleware = append(middleware, llm.RateLimit(rate.Limit(rl.RequestsPerSecond), burst))
	}

	opts := []llm.ClientOption{llm.WithMiddleware(middleware...)}
	for _, name := range names {
		pc := cfg.Providers[name]
		var popts []llm.GollmOption
		if pc.APIKey.IsSet() {
			popts = append(popts, llm.WithAPIKey(pc.APIKey.Value()))
		}
		model := cfg.Loop.Models[name]
		if model == "" {
			model = pc.Model
		}
		if model != "" {
			popts = append(popts, llm.WithModel(model))
		}
		if pc.MaxTokens > 0 {
			popts = append(popts, llm.WithMaxTokens(pc.MaxTokens))
		}
		if pc.Temperature > 0 {
			popts = append(popts, llm.WithTemperature(pc.Temperature))
		}
		popts = append(popts, llm.WithGollmOptions(gollmOptions(pc)...))
		p, err := llm.NewGollmProvider(name, popts...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		opts = append(opts, llm.WithProvider(p))
	}
	if cfg.Loop.DefaultProvider != "" {
		opts = append(opts, llm.WithDefaultProvider(cfg.Loop.DefaultProvider))
	}
	return llm.NewClient(opts...), nil
}

// gollmOptions maps transport settings that have no llm-level option.
func gollmOptions(pc config.ProviderConfig) []gollm.ConfigOption {
	var opts []gollm.ConfigOption
	if d := pc.Timeout.Duration(); d > 0 {
		opts = append(opts, gollm.SetTimeout(d))
	}
	if len(pc.Headers) > 0 {
		opts = append(opts, gollm.SetExtraHeaders(pc.Headers))
	}
	return opts
}

func (a *app) openSessions() (session.Store, error) {
	sc := a.cfg.Session
	switch sc.Backend {
	case "sqlite":
		return session.OpenSQLite(sc.Path, sc.TTL.Duration(), sc.MaxRecentCalls)
	default:
		return session.NewMemoryStore(sc.TTL.Duration(), sc.MaxRecentCalls, sc.MaxSessions), nil
	}
}

// controller wires the loop with workspace tools, sessions and metrics.
func (a *app) controller(extra ...agentloop.Option) (*agentloop.Controller, error) {
	ws, err := workspace.New(a.cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	tools := agentloop.NewToolRegistry()
	workspace.Register(tools, ws)

	loopCfg := a.cfg.Loop
	if len(loopCfg.SearchClassFunctions) == 0 {
		loopCfg.SearchClassFunctions = []string{workspace.SearchFunction}
	}

	sessions, err := a.openSessions()
	if err != nil {
		return nil, err
	}
	a.sessions = sessions

	opts := []agentloop.Option{
		agentloop.WithLogger(a.logger.Named("loop")),
		agentloop.WithPriorContextSupplier(sessions),
	}
	if a.cfg.Instructions != "" {
		opts = append(opts, agentloop.WithInstructionSource(agentloop.StaticInstructions(a.cfg.Instructions)))
	}
	if a.registry != nil {
		opts = append(opts, agentloop.WithMetrics(agentloop.NewMetrics(a.registry)))
	}
	opts = append(opts, extra...)
	return agentloop.NewController(loopCfg, a.client, tools, opts...)
}

func (a *app) close() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn("close session store", zap.Error(err))
		}
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close providers", zap.Error(err))
	}
	_ = a.logger.Sync()
}
