package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jllopis/switchboard/pkg/core"
	swerrors "github.com/jllopis/switchboard/pkg/errors"
)

func TestClassifyIntentSingleCall(t *testing.T) {
	mock := NewScriptedMockProvider(`{"label":"billing.balance","agent_keys":["billing"],"parameters":{"account":"A1"},"priority":"high","confidence":0.91}`)
	svc := NewChatService(mock, WithModel("test-model"))

	payload, err := svc.ClassifyIntent(context.Background(), ClassifyRequest{
		Message:   "what do I owe?",
		Situation: &core.Situation{Location: "Madrid", History: []core.Turn{{Role: "user", Content: "hi"}}},
		Catalog:   []AgentSummary{{Key: "billing", Name: "Billing", Actions: []string{"get_balance"}}},
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if mock.Calls() != 1 {
		t.Fatalf("expected exactly one provider call, got %d", mock.Calls())
	}
	if payload.Label != "billing.balance" || len(payload.AgentKeys) != 1 || payload.AgentKeys[0] != "billing" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if payload.Confidence == nil || *payload.Confidence != 0.91 {
		t.Errorf("unexpected confidence %v", payload.Confidence)
	}
	if payload.Priority != "high" || payload.Parameters["account"] != "A1" {
		t.Errorf("unexpected priority or params %+v", payload)
	}

	req := mock.Requests[0]
	if req.Model != "test-model" || !req.JSONMode {
		t.Errorf("expected model and json mode on request, got %+v", req)
	}
	user := req.Messages[1].Content
	if !strings.Contains(user, "Madrid") || !strings.Contains(user, "what do I owe?") || !strings.Contains(user, `"billing"`) {
		t.Errorf("prompt is missing context: %s", user)
	}
}

func TestClassifyIntentAliasesAndMissingConfidence(t *testing.T) {
	mock := NewScriptedMockProvider(`{"intent":"support","agents":["helpdesk"]}`)
	payload, err := NewChatService(mock).ClassifyIntent(context.Background(), ClassifyRequest{Message: "broken"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if payload.Label != "support" || payload.AgentKeys[0] != "helpdesk" {
		t.Errorf("aliases not honored: %+v", payload)
	}
	if payload.Confidence != nil {
		t.Errorf("missing confidence must stay nil")
	}
}

func TestClassifyIntentProviderError(t *testing.T) {
	mock := &MockProvider{Err: errors.New("503")}
	_, err := NewChatService(mock).ClassifyIntent(context.Background(), ClassifyRequest{Message: "x"})
	if swerrors.CodeOf(err) != swerrors.CodeLLMError {
		t.Fatalf("expected LLM error, got %v", err)
	}
}

func TestClassifyIntentNotJSON(t *testing.T) {
	mock := NewScriptedMockProvider("I think it's billing")
	_, err := NewChatService(mock).ClassifyIntent(context.Background(), ClassifyRequest{Message: "x"})
	if swerrors.CodeOf(err) != swerrors.CodeLLMError {
		t.Fatalf("expected LLM error, got %v", err)
	}
}

func TestClassifyIntentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := NewScriptedMockProvider(`{"label":"x"}`)
	_, err := NewChatService(mock).ClassifyIntent(ctx, ClassifyRequest{Message: "x"})
	if swerrors.CodeOf(err) != swerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}
}

func TestResolveAction(t *testing.T) {
	actions := []ActionOption{{Name: "get_balance", Description: "Current balance"}, {Name: "list_invoices"}}

	mock := NewScriptedMockProvider(`{"action":"list_invoices"}`, "get_balance.")
	svc := NewChatService(mock)

	got, err := svc.ResolveAction(context.Background(), ResolveRequest{AgentKey: "billing", Actions: actions})
	if err != nil || got != "list_invoices" {
		t.Fatalf("expected list_invoices, got %q (%v)", got, err)
	}
	got, err = svc.ResolveAction(context.Background(), ResolveRequest{AgentKey: "billing", Actions: actions})
	if err != nil || got != "get_balance" {
		t.Fatalf("expected bare name fallback, got %q (%v)", got, err)
	}
	if !strings.Contains(mock.Requests[0].Messages[0].Content, "Current balance") {
		t.Errorf("expected action descriptions in prompt")
	}
}

func TestSynthesize(t *testing.T) {
	task := core.NewTask("billing", "get_balance", nil)
	_ = task.Start()
	_ = task.Complete(map[string]any{"balance": 42})

	mock := NewScriptedMockProvider("  Your balance is 42.  ")
	reply, err := NewChatService(mock).Synthesize(context.Background(), SynthesisRequest{
		Message: "balance?",
		Intent:  core.Intent{Label: "billing.balance"},
		Tasks:   []*core.Task{task},
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if reply != "Your balance is 42." {
		t.Errorf("unexpected reply %q", reply)
	}
	if mock.Requests[0].JSONMode {
		t.Errorf("synthesis must not ask for JSON")
	}
	if !strings.Contains(mock.Requests[0].Messages[1].Content, `"balance":42`) {
		t.Errorf("expected task results in prompt")
	}
}

func TestReviewPlan(t *testing.T) {
	mock := NewScriptedMockProvider(`{"verdict":"RED","score":0.1,"reasons":["destructive"]}`, `{"verdict":"purple"}`)
	svc := NewChatService(mock)

	review, err := svc.ReviewPlan(context.Background(), ReviewRequest{Intent: core.Intent{Label: "wipe"}})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if review.Verdict != VerdictRed || len(review.Reasons) != 1 {
		t.Errorf("unexpected review %+v", review)
	}
	if _, err := svc.ReviewPlan(context.Background(), ReviewRequest{}); err == nil {
		t.Errorf("expected error for unknown verdict")
	}
}
