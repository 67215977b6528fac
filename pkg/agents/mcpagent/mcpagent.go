// Package mcpagent exposes a remote MCP server as an agent: each action is a
// tool call on that server.
package mcpagent

import (
	"context"
	"fmt"
	"slices"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/mcp"
	"github.com/jllopis/switchboard/pkg/registry"
)

// Server is the client surface an agent needs.
type Server interface {
	mcp.ToolCaller
	ListTools(ctx context.Context) ([]mcplib.Tool, error)
}

// Config describes one MCP-backed agent.
type Config struct {
	Key         string
	Name        string
	Description string
	// Actions restricts the agent to these tools. Empty means every tool
	// the server lists.
	Actions []registry.ActionSpec
}

// Descriptor lists the server's tools and builds a registry descriptor.
// Declared actions must exist on the server; undeclared params are taken
// from the tool schema.
func Descriptor(ctx context.Context, srv Server, cfg Config) (registry.Descriptor, error) {
	tools, err := srv.ListTools(ctx)
	if err != nil {
		return registry.Descriptor{}, errors.New(errors.CodeExecution, fmt.Sprintf("list tools for agent %s", cfg.Key), err)
	}
	remote := mcp.ActionSpecs(tools)

	actions := remote
	if len(cfg.Actions) > 0 {
		actions = make([]registry.ActionSpec, 0, len(cfg.Actions))
		for _, declared := range cfg.Actions {
			i := slices.IndexFunc(remote, func(a registry.ActionSpec) bool { return a.Name == declared.Name })
			if i < 0 {
				return registry.Descriptor{}, errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("agent %s: tool %q not offered by the server", cfg.Key, declared.Name), nil)
			}
			if len(declared.Params) == 0 {
				declared.Params = remote[i].Params
			}
			if declared.Description == "" {
				declared.Description = remote[i].Description
			}
			actions = append(actions, declared)
		}
	}
	if len(actions) == 0 {
		return registry.Descriptor{}, errors.New(errors.CodeInvalidInput, fmt.Sprintf("agent %s: server offers no tools", cfg.Key), nil)
	}

	exec, err := mcp.NewToolExecutor(srv, nil)
	if err != nil {
		return registry.Descriptor{}, err
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Key
	}
	return registry.Descriptor{
		Key:         cfg.Key,
		Name:        name,
		Description: cfg.Description,
		Actions:     actions,
		Executor:    exec,
	}, nil
}
