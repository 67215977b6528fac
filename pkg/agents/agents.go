// Package agents builds registry descriptors for configured remote agents.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jllopis/switchboard/pkg/agents/httpagent"
	"github.com/jllopis/switchboard/pkg/agents/mcpagent"
	"github.com/jllopis/switchboard/pkg/agents/natsagent"
	"github.com/jllopis/switchboard/pkg/bus"
	"github.com/jllopis/switchboard/pkg/config"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/mcp"
	"github.com/jllopis/switchboard/pkg/mcp/pool"
	"github.com/jllopis/switchboard/pkg/registry"
)

// Agent kinds.
const (
	KindHTTP = "http"
	KindNATS = "nats"
	KindMCP  = "mcp"
)

// Deps are the shared connections agents are built on.
type Deps struct {
	// Publisher is required by nats agents.
	Publisher bus.Publisher
	// Pool is required by mcp agents.
	Pool *pool.Pool
	// HTTPClient is used by http agents when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Build registers every configured agent into reg. It stops at the first
// agent that cannot be built.
func Build(ctx context.Context, reg *registry.Registry, cfgs []config.AgentConfig, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, cfg := range cfgs {
		d, err := build(ctx, cfg, deps)
		if err != nil {
			return fmt.Errorf("agent %s: %w", cfg.Key, err)
		}
		if err := reg.Register(d); err != nil {
			return err
		}
		logger.InfoContext(ctx, "agents.registered", "agent", d.Key, "kind", cfg.Kind, "actions", d.ActionNames())
	}
	return nil
}

func build(ctx context.Context, cfg config.AgentConfig, deps Deps) (registry.Descriptor, error) {
	d := registry.Descriptor{
		Key:         cfg.Key,
		Name:        cfg.Name,
		Description: cfg.Description,
		Actions:     ActionSpecs(cfg.Actions),
	}
	if d.Name == "" {
		d.Name = cfg.Key
	}

	switch cfg.Kind {
	case KindHTTP:
		opts := []httpagent.Option{httpagent.WithHTTPClient(deps.HTTPClient), httpagent.WithHeaders(cfg.Headers)}
		if cfg.Timeout > 0 {
			opts = append(opts, httpagent.WithTimeout(cfg.Timeout))
		}
		a, err := httpagent.New(cfg.Endpoint, opts...)
		if err != nil {
			return d, err
		}
		d.Executor = a
		return d, nil

	case KindNATS:
		if deps.Publisher == nil {
			return d, errors.New(errors.CodeInvalidInput, "nats agents need a NATS connection (nats.url)", nil)
		}
		a, err := natsagent.New(deps.Publisher, cfg.Subject)
		if err != nil {
			return d, err
		}
		d.Executor = a
		return d, nil

	case KindMCP:
		if deps.Pool == nil {
			return d, errors.New(errors.CodeInvalidInput, "mcp agents need a connection pool", nil)
		}
		srv := MCPServer(cfg)
		client, err := deps.Pool.Get(ctx, srv)
		if err != nil {
			return d, err
		}
		md, err := mcpagent.Descriptor(ctx, client, mcpagent.Config{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			Actions:     d.Actions,
		})
		if err != nil {
			deps.Pool.Release(srv.Name)
		}
		return md, err
	}
	return d, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown agent kind %q", cfg.Kind), nil)
}

// MCPServer derives the pool entry for an mcp agent. Agents naming the same
// command line or endpoint share one connection.
func MCPServer(cfg config.AgentConfig) pool.Server {
	s := pool.Server{Headers: cfg.Headers}
	if cfg.Timeout > 0 {
		s.Options = append(s.Options, mcp.WithTimeout(cfg.Timeout))
	}
	if cfg.Command != "" {
		s.Command = cfg.Command
		s.Args = cfg.Args
		s.Name = strings.Join(append([]string{cfg.Command}, cfg.Args...), " ")
		return s
	}
	s.URL = cfg.Endpoint
	s.Name = cfg.Endpoint
	return s
}

// ActionSpecs converts configured actions to registry declarations.
func ActionSpecs(in []config.ActionConfig) []registry.ActionSpec {
	if len(in) == 0 {
		return nil
	}
	out := make([]registry.ActionSpec, 0, len(in))
	for _, a := range in {
		spec := registry.ActionSpec{Name: a.Name, Description: a.Description}
		for _, p := range a.Params {
			spec.Params = append(spec.Params, registry.ParamSpec{
				Name:        p.Name,
				Type:        registry.ParamType(p.Type),
				Required:    p.Required,
				Description: p.Description,
			})
		}
		out = append(out, spec)
	}
	return out
}
