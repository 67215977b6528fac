package mcpagent

import (
	"context"
	stderrors "errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/registry"
)

type fakeServer struct {
	tools   []mcplib.Tool
	listErr error
	called  string
}

func (f *fakeServer) ListTools(context.Context) ([]mcplib.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeServer) CallTool(_ context.Context, name string, _ map[string]any) (*mcplib.CallToolResult, error) {
	f.called = name
	return mcplib.NewToolResultText("ok:" + name), nil
}

func ledgerTools() []mcplib.Tool {
	return []mcplib.Tool{
		mcplib.NewTool("get_balance", mcplib.WithDescription("Account balance"), mcplib.WithString("account", mcplib.Required())),
		mcplib.NewTool("refund", mcplib.WithNumber("amount", mcplib.Required())),
	}
}

func TestDescriptor_DiscoversAllTools(t *testing.T) {
	srv := &fakeServer{tools: ledgerTools()}
	d, err := Descriptor(context.Background(), srv, Config{Key: "ledger"})
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if d.Name != "ledger" || len(d.Actions) != 2 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	spec, ok := d.Action("get_balance")
	if !ok || len(spec.Params) != 1 || !spec.Params[0].Required {
		t.Fatalf("expected schema params on get_balance, got %+v", spec)
	}

	out, err := d.Executor.Execute(context.Background(), "refund", map[string]any{"amount": 3.0}, core.CallerContext{ID: "u-1"})
	if err != nil || out != "ok:refund" || srv.called != "refund" {
		t.Fatalf("unexpected call result %v (%v)", out, err)
	}
}

func TestDescriptor_RestrictsToDeclaredActions(t *testing.T) {
	srv := &fakeServer{tools: ledgerTools()}
	d, err := Descriptor(context.Background(), srv, Config{
		Key:     "ledger",
		Name:    "Ledger",
		Actions: []registry.ActionSpec{{Name: "get_balance"}},
	})
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if len(d.Actions) != 1 || d.Actions[0].Description != "Account balance" {
		t.Fatalf("unexpected actions %+v", d.Actions)
	}
	if _, ok := d.Action("refund"); ok {
		t.Fatal("refund should not be exposed")
	}
}

func TestDescriptor_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Descriptor(ctx, &fakeServer{tools: ledgerTools()}, Config{Key: "ledger", Actions: []registry.ActionSpec{{Name: "wire"}}})
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT for unknown tool, got %v", err)
	}
	_, err = Descriptor(ctx, &fakeServer{}, Config{Key: "ledger"})
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT for empty server, got %v", err)
	}
	_, err = Descriptor(ctx, &fakeServer{listErr: stderrors.New("eof")}, Config{Key: "ledger"})
	if errors.CodeOf(err) != errors.CodeExecution {
		t.Fatalf("expected EXECUTION_FAILED when listing fails, got %v", err)
	}
}
