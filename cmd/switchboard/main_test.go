package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jllopis/switchboard/pkg/config"
	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/llm/anthropic"
	"github.com/jllopis/switchboard/pkg/llm/openai"
)

func TestParseGlobalFlags(t *testing.T) {
	flags, rest, err := parseGlobalFlags([]string{
		"--config", "sb.yaml", "--profile=prod", "--set", "llm.provider=mock",
		"--timeout=5s", "--json", "ask", "--caller", "u1", "hello",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.ConfigPath != "sb.yaml" || flags.Profile != "prod" {
		t.Fatalf("unexpected config flags %+v", flags)
	}
	if !flags.JSON || flags.Timeout != 5*time.Second {
		t.Fatalf("unexpected flags %+v", flags)
	}
	want := []string{"--config", "sb.yaml", "--profile", "prod", "--set", "llm.provider=mock"}
	if fmt.Sprint(flags.ConfigArgs) != fmt.Sprint(want) {
		t.Fatalf("config args = %v, want %v", flags.ConfigArgs, want)
	}
	if len(rest) != 4 || rest[0] != "ask" {
		t.Fatalf("unexpected rest %v", rest)
	}
}

func TestParseGlobalFlagsErrors(t *testing.T) {
	cases := [][]string{
		{"--config"},
		{"--timeout", "soon"},
		{"--bogus", "serve"},
	}
	for _, args := range cases {
		if _, _, err := parseGlobalFlags(args); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
	flags, rest, err := parseGlobalFlags([]string{"-h", "serve"})
	if err != nil || !flags.Help || rest != nil {
		t.Fatalf("help: flags=%+v rest=%v err=%v", flags, rest, err)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		check    func(llm.Provider) bool
	}{
		{"", func(p llm.Provider) bool { _, ok := p.(*llm.OllamaProvider); return ok }},
		{"ollama", func(p llm.Provider) bool { _, ok := p.(*llm.OllamaProvider); return ok }},
		{"OpenAI", func(p llm.Provider) bool { _, ok := p.(*openai.Provider); return ok }},
		{"anthropic", func(p llm.Provider) bool { _, ok := p.(*anthropic.Provider); return ok }},
		{"mock", func(p llm.Provider) bool { _, ok := p.(*llm.MockProvider); return ok }},
	}
	for _, tt := range tests {
		p, err := newProvider(config.LLMConfig{Provider: tt.provider, Model: "m", BaseURL: defaultOllamaURL})
		if err != nil {
			t.Fatalf("%q: %v", tt.provider, err)
		}
		if !tt.check(p) {
			t.Errorf("%q: unexpected provider %T", tt.provider, p)
		}
	}
	if _, err := newProvider(config.LLMConfig{Provider: "gemini"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestWrapEngineError(t *testing.T) {
	tests := []struct {
		err  error
		code errors.ErrorCode
		hint string
	}{
		{errors.New(errors.CodePlanning, "no agent", nil), errors.CodePlanning, "rephrase the request or be more specific"},
		{fmt.Errorf("run: %w", errors.New(errors.CodeUnknownAgent, "x", nil)), errors.CodeUnknownAgent, "run 'switchboard capabilities' to list registered agents"},
		{errors.New(errors.CodeTimeout, "deadline", nil), errors.CodeTimeout, "try increasing --timeout or engine.run_timeout"},
		{fmt.Errorf("plain"), errors.CodeInternal, ""},
	}
	for _, tt := range tests {
		cliErr := WrapEngineError(tt.err)
		if cliErr.Err.Code != tt.code {
			t.Errorf("%v: code = %s, want %s", tt.err, cliErr.Err.Code, tt.code)
		}
		if cliErr.Hint != tt.hint {
			t.Errorf("%v: hint = %q, want %q", tt.err, cliErr.Hint, tt.hint)
		}
	}
}

func TestNATSSubjects(t *testing.T) {
	got := natsSubjects([]config.AgentConfig{
		{Key: "a", Kind: "nats", Subject: "agents.a"},
		{Key: "b", Kind: "http", Endpoint: "http://b"},
		{Key: "c", Kind: "nats", Subject: "agents.c"},
	})
	if fmt.Sprint(got) != "[agents.a agents.c]" {
		t.Fatalf("unexpected subjects %v", got)
	}
}

func TestBuildAppInvokesHTTPAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_balance" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"balance": 42})
	}))
	defer srv.Close()

	cfg, err := config.LoadWithCLI([]string{"--set", "llm.provider=mock"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Agents = []config.AgentConfig{{
		Key:      "billing",
		Name:     "Billing",
		Kind:     "http",
		Endpoint: srv.URL,
		Actions:  []config.ActionConfig{{Name: "get_balance", Description: "Current balance"}},
	}}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	caps := a.engine.ListCapabilities()
	if len(caps) != 1 || caps[0].Key != "billing" {
		t.Fatalf("unexpected capabilities %+v", caps)
	}

	task, err := a.engine.InvokeDirect(ctx, "billing", "get_balance", nil, core.CallerContext{ID: "u1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if task.Status != core.TaskStatusCompleted {
		t.Fatalf("expected completed task, got %s (%+v)", task.Status, task.Error)
	}
	value, ok := task.Result.Value.(map[string]any)
	if !ok || value["balance"] != float64(42) {
		t.Fatalf("unexpected result %#v", task.Result.Value)
	}

	results, _ := a.health.CheckAll(ctx)
	seen := map[string]core.HealthStatus{}
	for _, r := range results {
		seen[r.Component] = r.Status
	}
	for _, name := range []string{"registry", "mcp_pool", "llm"} {
		if seen[name] != core.HealthHealthy {
			t.Errorf("%s: status %q", name, seen[name])
		}
	}
}

func TestBuildAppRejectsUnknownAgentKind(t *testing.T) {
	cfg, err := config.LoadWithCLI([]string{"--set", "llm.provider=mock"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Agents = []config.AgentConfig{{Key: "x", Kind: "smtp", Actions: []config.ActionConfig{{Name: "send"}}}}
	if _, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for unknown agent kind")
	}
}
