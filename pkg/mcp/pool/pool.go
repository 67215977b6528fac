// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool shares MCP client connections between agents that point at
// the same server.
//
// Several configured agents may front one MCP server (for example one stdio
// process exposing billing and refunds tools). The pool dials each server
// once, hands the same client to every agent and closes it when the last
// reference is released or the pool is closed.
//
//	p := pool.New()
//	c, _ := p.Get(ctx, pool.Server{Name: "ledger", Command: "ledger-mcp"})
//	defer p.Release("ledger")
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/mcp"
)

var (
	// ErrPoolClosed is returned when operations are attempted on a closed pool.
	ErrPoolClosed = errors.New("mcp pool is closed")

	// ErrInvalidServerConfig is returned when server configuration is invalid.
	ErrInvalidServerConfig = errors.New("invalid server configuration")
)

// Server describes how to reach one MCP server. Exactly one of Command or
// URL must be set.
type Server struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	URL     string
	Headers map[string]string
	Options []mcp.ClientOption
}

// Validate checks the transport fields.
func (s Server) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidServerConfig)
	case s.Command == "" && s.URL == "":
		return fmt.Errorf("%w: %s needs a command or url", ErrInvalidServerConfig, s.Name)
	case s.Command != "" && s.URL != "":
		return fmt.Errorf("%w: %s has both command and url", ErrInvalidServerConfig, s.Name)
	}
	return nil
}

// DialFunc opens a client for a server.
type DialFunc func(ctx context.Context, s Server) (*mcp.Client, error)

// Dial connects over stdio or streamable HTTP depending on the config.
func Dial(ctx context.Context, s Server) (*mcp.Client, error) {
	if s.Command != "" {
		return mcp.NewClientWithStdio(ctx, s.Command, s.Args, s.Env, s.Options...)
	}
	return mcp.NewClientWithStreamableHTTP(ctx, s.URL, s.Headers, s.Options...)
}

type pooledClient struct {
	client   *mcp.Client
	refCount int32
	created  time.Time
}

// Pool keeps one shared client per server name.
type Pool struct {
	mu      sync.Mutex
	dial    DialFunc
	clients map[string]*pooledClient
	closed  atomic.Bool

	totalConnections atomic.Int64
	connectionErrors atomic.Int64
}

// Option configures the pool.
type Option func(*Pool)

// WithDialer replaces the dial function.
func WithDialer(d DialFunc) Option {
	return func(p *Pool) {
		if d != nil {
			p.dial = d
		}
	}
}

// New creates an empty pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		dial:    Dial,
		clients: make(map[string]*pooledClient),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the shared client for s.Name, dialing it on first use.
// Every successful Get must be paired with a Release.
func (p *Pool) Get(ctx context.Context, s Server) (*mcp.Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if pc, ok := p.clients[s.Name]; ok {
		atomic.AddInt32(&pc.refCount, 1)
		return pc.client, nil
	}

	client, err := p.dial(ctx, s)
	if err != nil {
		p.connectionErrors.Add(1)
		return nil, fmt.Errorf("dial mcp server %s: %w", s.Name, err)
	}
	p.clients[s.Name] = &pooledClient{client: client, refCount: 1, created: time.Now()}
	p.totalConnections.Add(1)
	return client, nil
}

// Release drops one reference and closes the client when none remain.
func (p *Pool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.clients[name]
	if !ok {
		return
	}
	if atomic.AddInt32(&pc.refCount, -1) > 0 {
		return
	}
	delete(p.clients, name)
	_ = pc.client.Close()
}

// Close shuts down every connection regardless of references.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, pc := range p.clients {
		if err := pc.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	p.clients = map[string]*pooledClient{}
	return errors.Join(errs...)
}

// Stats contains pool metrics.
type Stats struct {
	OpenServers      int
	TotalConnections int
	ConnectionErrors int
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	open := len(p.clients)
	p.mu.Unlock()
	return Stats{
		OpenServers:      open,
		TotalConnections: int(p.totalConnections.Load()),
		ConnectionErrors: int(p.connectionErrors.Load()),
	}
}

// Servers returns the names of open servers, sorted.
func (p *Pool) Servers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck lists tools on every open server. Any failure degrades the pool.
func (p *Pool) HealthCheck(ctx context.Context) core.HealthResult {
	p.mu.Lock()
	toCheck := make(map[string]*mcp.Client, len(p.clients))
	for name, pc := range p.clients {
		toCheck[name] = pc.client
	}
	p.mu.Unlock()

	var failed []string
	for name, client := range toCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := client.ListTools(checkCtx)
		cancel()
		if err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return core.HealthResult{Status: core.HealthDegraded, Component: "mcp_pool", Message: fmt.Sprintf("mcp servers unreachable: %v", failed)}
	}
	return core.HealthResult{Status: core.HealthHealthy, Component: "mcp_pool", Message: fmt.Sprintf("%d mcp servers", len(toCheck))}
}
