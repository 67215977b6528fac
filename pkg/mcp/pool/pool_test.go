// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/mcp"
)

func testServerURL(t *testing.T) string {
	t.Helper()
	srv := mcpserver.NewMCPServer("test-pool", "1.0.0")
	srv.AddTool(mcpgo.NewTool("ping"), func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return mcpgo.NewToolResultText("pong"), nil
	})
	httpServer := mcpserver.NewTestStreamableHTTPServer(srv)
	t.Cleanup(httpServer.Close)
	return httpServer.URL
}

func countingDialer(dials *atomic.Int32) DialFunc {
	return func(ctx context.Context, s Server) (*mcp.Client, error) {
		dials.Add(1)
		return Dial(ctx, s)
	}
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name    string
		server  Server
		wantErr bool
	}{
		{"stdio", Server{Name: "a", Command: "ledger-mcp"}, false},
		{"http", Server{Name: "a", URL: "http://localhost/mcp"}, false},
		{"no name", Server{Command: "x"}, true},
		{"no transport", Server{Name: "a"}, true},
		{"both transports", Server{Name: "a", Command: "x", URL: "http://y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.server.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidServerConfig) {
				t.Fatalf("expected ErrInvalidServerConfig, got %v", err)
			}
		})
	}
}

func TestPool_SharesClientPerServer(t *testing.T) {
	var dials atomic.Int32
	p := New(WithDialer(countingDialer(&dials)))
	defer p.Close()

	server := Server{Name: "ledger", URL: testServerURL(t)}
	ctx := context.Background()

	c1, err := p.Get(ctx, server)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2, err := p.Get(ctx, server)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the same client for the same server")
	}
	if dials.Load() != 1 {
		t.Fatalf("expected one dial, got %d", dials.Load())
	}

	p.Release("ledger")
	if got := p.Servers(); len(got) != 1 {
		t.Fatalf("expected server kept while referenced, got %v", got)
	}
	p.Release("ledger")
	if got := p.Servers(); len(got) != 0 {
		t.Fatalf("expected server closed after last release, got %v", got)
	}

	stats := p.Stats()
	if stats.TotalConnections != 1 || stats.OpenServers != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPool_DialErrorCounted(t *testing.T) {
	p := New(WithDialer(func(context.Context, Server) (*mcp.Client, error) {
		return nil, errors.New("exec: not found")
	}))
	defer p.Close()

	if _, err := p.Get(context.Background(), Server{Name: "x", Command: "missing"}); err == nil {
		t.Fatal("expected dial error")
	}
	if p.Stats().ConnectionErrors != 1 {
		t.Fatalf("expected one connection error, got %+v", p.Stats())
	}
}

func TestPool_Closed(t *testing.T) {
	p := New()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed on second close, got %v", err)
	}
	if _, err := p.Get(context.Background(), Server{Name: "x", Command: "y"}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	p.Release("unknown")
}

func TestPool_HealthCheck(t *testing.T) {
	p := New()
	defer p.Close()

	if res := p.HealthCheck(context.Background()); res.Status != core.HealthHealthy {
		t.Fatalf("expected healthy empty pool, got %+v", res)
	}
	if _, err := p.Get(context.Background(), Server{Name: "ledger", URL: testServerURL(t)}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res := p.HealthCheck(context.Background()); res.Status != core.HealthHealthy {
		t.Fatalf("expected healthy pool, got %+v", res)
	}
}
