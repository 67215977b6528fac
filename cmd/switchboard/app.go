package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/switchboard/pkg/agents"
	"github.com/jllopis/switchboard/pkg/audit"
	"github.com/jllopis/switchboard/pkg/bus"
	"github.com/jllopis/switchboard/pkg/config"
	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/engine"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/llm/anthropic"
	"github.com/jllopis/switchboard/pkg/llm/openai"
	"github.com/jllopis/switchboard/pkg/mcp/pool"
	"github.com/jllopis/switchboard/pkg/memory"
	"github.com/jllopis/switchboard/pkg/planner"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/resilience"
	"github.com/jllopis/switchboard/pkg/telemetry"
)

// app is a fully wired engine plus the connections it owns.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *engine.Engine
	health  *core.HealthChecks
	closers []func() error
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return stderrors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "llm",
		FailureThreshold: cfg.LLM.Breaker.FailureThreshold,
		Timeout:          cfg.LLM.Breaker.Timeout,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			logger.Warn("llm.breaker.state", "breaker", name, "from", from, "to", to)
			metrics.RecordCircuitBreakerState(context.Background(), name, to.Gauge())
		},
	})
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(cfg.LLM.Retry.MaxAttempts).
		WithInitialDelay(cfg.LLM.Retry.InitialDelay)
	svc := llm.NewChatService(llm.NewResilient(provider, retry, breaker),
		llm.WithModel(cfg.LLM.Model),
		llm.WithTemperature(cfg.LLM.Temperature),
	)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithTaskTimeout(cfg.Engine.TaskTimeout),
		engine.WithRunTimeout(cfg.Engine.RunTimeout),
		engine.WithClarificationThreshold(cfg.Engine.ClarificationThreshold),
	}
	if cfg.Engine.Parallel {
		opts = append(opts, engine.WithParallel(cfg.Engine.MaxConcurrency))
	}
	if cfg.Engine.Review {
		opts = append(opts, engine.WithReviewer(svc))
	}
	if cfg.Engine.RoutesPath != "" {
		routes, err := planner.LoadRoutes(cfg.Engine.RoutesPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithRoutes(routes))
	}

	store, err := a.auditStore(cfg.Audit)
	if err != nil {
		return nil, err
	}
	opts = append(opts, engine.WithAuditStore(store))

	conv, err := a.conversation(ctx, cfg.Conversation)
	if err != nil {
		return nil, err
	}
	opts = append(opts, engine.WithConversation(conv, cfg.Engine.HistoryLimit))

	var (
		pub    bus.Publisher
		conn   *bus.Conn
		checks = map[string]core.HealthChecker{}
	)
	if cfg.NATS.URL != "" {
		conn, err = bus.Connect(ctx, bus.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Subjects:      natsSubjects(cfg.Agents),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		pub = conn
		checks["nats"] = conn.HealthCheck()
		if cfg.NATS.Events {
			opts = append(opts, engine.WithEventEmitter(bus.NewEventPublisher(conn, cfg.NATS.SubjectPrefix, logger)))
		}
	}

	mcpPool := pool.New()
	a.closers = append(a.closers, mcpPool.Close)
	checks["mcp_pool"] = core.HealthCheckFunc(mcpPool.HealthCheck)

	reg := registry.New()
	if err := agents.Build(ctx, reg, cfg.Agents, agents.Deps{Publisher: pub, Pool: mcpPool, Logger: logger}); err != nil {
		return nil, err
	}

	a.engine, err = engine.New(reg, svc, opts...)
	if err != nil {
		return nil, err
	}

	a.health = a.engine.HealthChecks()
	for name, c := range checks {
		a.health.Register(name, c)
	}
	a.health.Register("llm", core.HealthCheckFunc(func(context.Context) core.HealthResult {
		if breaker.State() == resilience.StateOpen {
			return core.HealthResult{Status: core.HealthDegraded, Message: "circuit open"}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: cfg.LLM.Provider}
	}))
	return a, nil
}

func (a *app) auditStore(cfg config.StoreConfig) (audit.Store, error) {
	if cfg.Driver != "sqlite" {
		return audit.NewMemoryStore(), nil
	}
	s, err := audit.OpenSQLite(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) conversation(ctx context.Context, cfg config.StoreConfig) (memory.Conversation, error) {
	if cfg.Driver != "sqlite" {
		return memory.NewInMemory(200), nil
	}
	s, err := memory.OpenSQLite(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// defaultOllamaURL is the config default; hosted providers ignore it.
const defaultOllamaURL = "http://localhost:11434"

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		return llm.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "openai":
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" && cfg.BaseURL != defaultOllamaURL {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...), nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" && cfg.BaseURL != defaultOllamaURL {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...), nil
	case "mock":
		return &llm.MockProvider{Response: "This is a mock response."}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// natsSubjects lists the subjects of nats agents so the stream captures them.
func natsSubjects(cfgs []config.AgentConfig) []string {
	var out []string
	for _, c := range cfgs {
		if c.Kind == agents.KindNATS && c.Subject != "" {
			out = append(out, c.Subject)
		}
	}
	return out
}

