package mcp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/engine"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/synth"
	"github.com/jllopis/switchboard/pkg/telemetry"
)

type fakeEngine struct {
	resp      *engine.Response
	err       error
	task      *core.Task
	invokeErr error

	lastMessage string
	lastCaller  core.CallerContext
	lastAgent   string
	lastAction  string
	lastParams  map[string]any
}

func (f *fakeEngine) ListCapabilities() []registry.Capability {
	return []registry.Capability{{
		Key:  "billing",
		Name: "Billing",
		Actions: []registry.ActionSpec{
			{Name: "get_balance", Description: "Current balance"},
			{Name: "refund", Params: []registry.ParamSpec{{Name: "amount", Type: registry.TypeNumber, Required: true}}},
		},
	}}
}

func (f *fakeEngine) ProcessRequest(_ context.Context, message string, caller core.CallerContext, _ *core.Situation) (*engine.Response, error) {
	f.lastMessage = message
	f.lastCaller = caller
	return f.resp, f.err
}

func (f *fakeEngine) InvokeDirect(_ context.Context, agentKey, action string, params map[string]any, caller core.CallerContext) (*core.Task, error) {
	f.lastAgent, f.lastAction, f.lastParams, f.lastCaller = agentKey, action, params, caller
	return f.task, f.invokeErr
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}
	res, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

func TestServer_RegistersActionAndAskTools(t *testing.T) {
	s := NewServer("switchboard", "test", &fakeEngine{})
	tools := s.MCPServer().ListTools()
	for _, name := range []string{AskTool, "billing__get_balance", "billing__refund"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q", name)
		}
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
}

func TestServer_ActionToolInvokesDirect(t *testing.T) {
	eng := &fakeEngine{task: &core.Task{
		Status: core.TaskStatusCompleted,
		Result: &core.TaskResult{Value: "refunded"},
	}}
	s := NewServer("switchboard", "test", eng, WithCaller(core.CallerContext{ID: "desk-7"}))

	res := callTool(t, s, "billing__refund", map[string]any{"amount": 5.0})
	if res.IsError || resultText(t, res) != "refunded" {
		t.Fatalf("unexpected result %+v", res)
	}
	if eng.lastAgent != "billing" || eng.lastAction != "refund" || eng.lastParams["amount"] != 5.0 {
		t.Fatalf("unexpected invocation %s.%s %v", eng.lastAgent, eng.lastAction, eng.lastParams)
	}
	if eng.lastCaller.ID != "desk-7" {
		t.Fatalf("expected configured caller, got %q", eng.lastCaller.ID)
	}
}

func TestServer_ActionToolErrors(t *testing.T) {
	eng := &fakeEngine{invokeErr: errors.New(errors.CodeActionNotAllowed, "refund not allowed", nil)}
	s := NewServer("switchboard", "test", eng)
	if res := callTool(t, s, "billing__refund", nil); !res.IsError {
		t.Fatal("expected error result for rejected invocation")
	}

	eng.invokeErr = nil
	eng.task = &core.Task{Status: core.TaskStatusFailed, Error: &core.TaskError{Code: errors.CodeExecution, Message: "billing down"}}
	if res := callTool(t, s, "billing__get_balance", nil); !res.IsError {
		t.Fatal("expected error result for failed task")
	}
}

func TestServer_Ask(t *testing.T) {
	tests := []struct {
		name    string
		resp    *engine.Response
		err     error
		want    string
		isError bool
	}{
		{"reply", &engine.Response{Reply: "Your balance is 10."}, nil, "Your balance is 10.", false},
		{"synthesis fallback", &engine.Response{}, errors.New(errors.CodeSynthesis, "llm down", nil), synth.FallbackReply, false},
		{"classification", nil, errors.New(errors.CodeClassification, "bad payload", nil), rephraseMessage, true},
		{"planning", nil, errors.New(errors.CodePlanning, "no agents", nil), rephraseMessage, true},
		{"clarification", &engine.Response{NeedsClarification: true}, nil, rephraseMessage, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{resp: tt.resp, err: tt.err}
			s := NewServer("switchboard", "test", eng)
			res := callTool(t, s, AskTool, map[string]any{"message": "what's my balance?", "session_id": "s-1"})
			if res.IsError != tt.isError {
				t.Fatalf("IsError = %v, want %v", res.IsError, tt.isError)
			}
			if got := resultText(t, res); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if eng.lastMessage != "what's my balance?" || eng.lastCaller.SessionID != "s-1" {
				t.Fatalf("unexpected request %q %+v", eng.lastMessage, eng.lastCaller)
			}
		})
	}
}

func TestServer_AskRequiresMessage(t *testing.T) {
	s := NewServer("switchboard", "test", &fakeEngine{})
	if res := callTool(t, s, AskTool, map[string]any{}); !res.IsError {
		t.Fatal("expected error without message")
	}
}

func TestServer_ToolCallLogKeepsContext(t *testing.T) {
	var buf bytes.Buffer
	eng := &fakeEngine{
		resp: &engine.Response{Reply: "done"},
		task: &core.Task{Status: core.TaskStatusCompleted, Result: &core.TaskResult{Value: "ok"}},
	}
	s := NewServer("switchboard", "test", eng, WithServerLogger(telemetry.NewLogger(&buf, "info", "json")))

	ctx := core.WithRunID(context.Background(), "run-mcp")
	for _, name := range []string{AskTool, "billing__get_balance"} {
		buf.Reset()
		tool := s.MCPServer().ListTools()[name]
		if _, err := tool.Handler(ctx, mcplib.CallToolRequest{
			Params: mcplib.CallToolParams{Name: name, Arguments: map[string]any{"message": "hi"}},
		}); err != nil {
			t.Fatalf("%s: handler error: %v", name, err)
		}
		if !strings.Contains(buf.String(), `"run_id":"run-mcp"`) {
			t.Errorf("%s: expected run_id in mcp.tool.call log, got %s", name, buf.String())
		}
	}
}
