// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("network timeout")
	e := New(CodeTimeout, "agent call timed out", cause)

	if e.Code != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", e.Code)
	}
	if e.Message != "agent call timed out" {
		t.Errorf("unexpected message %q", e.Message)
	}
	if !errors.Is(e, cause) {
		t.Errorf("expected errors.Is to reach the cause")
	}
	if e.StatusCode != 408 {
		t.Errorf("expected status 408, got %d", e.StatusCode)
	}
}

func TestWithContextAndAttribute(t *testing.T) {
	e := New(CodeExecution, "task failed", nil).
		WithContext("agent", "billing").
		WithAttribute("action", "get_balance")

	if e.Context["agent"] != "billing" {
		t.Errorf("expected context agent")
	}
	if e.Attributes["action"] != "get_balance" {
		t.Errorf("expected attribute action")
	}
}

func TestWithRecoverable(t *testing.T) {
	e := New(CodeLLMError, "provider unavailable", nil)
	if e.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
	e.WithRecoverable(true)
	if !e.Recoverable || e.RecoverableString() != "true" {
		t.Errorf("expected recoverable after WithRecoverable")
	}
}

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{"classification", New(CodeClassification, "bad payload", nil), ErrClassification, true},
		{"wrapped planning", fmt.Errorf("run: %w", New(CodePlanning, "no agents", nil)), ErrPlanning, true},
		{"unknown vs not allowed", New(CodeUnknownAgent, "missing", nil), ErrActionNotAllowed, false},
		{"not allowed", New(CodeActionNotAllowed, "denied", nil), ErrActionNotAllowed, true},
		{"plain error", errors.New("boom"), ErrSynthesis, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.expected {
				t.Fatalf("errors.Is = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError(t *testing.T) {
	withCause := New(CodeTimeout, "operation timed out", errors.New("deadline exceeded"))
	if got := withCause.Error(); got != "[TIMEOUT] operation timed out: deadline exceeded" {
		t.Errorf("unexpected error string %q", got)
	}
	noCause := New(CodeUnknownAgent, `agent "x" is not registered`, nil)
	if got := noCause.Error(); got != `[UNKNOWN_AGENT] agent "x" is not registered` {
		t.Errorf("unexpected error string %q", got)
	}
}

func TestAsAndCodeOf(t *testing.T) {
	if As(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	wrapped := fmt.Errorf("outer: %w", New(CodeSynthesis, "llm down", nil))
	if As(wrapped).Code != CodeSynthesis {
		t.Fatalf("expected synthesis code through wrapping")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("expected internal code for plain error")
	}
	if As(errors.New("plain")).Code != CodeInternal {
		t.Fatalf("expected plain error wrapped as internal")
	}
}

func TestStatusCodes(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeUnknownAgent:     404,
		CodeActionNotAllowed: 403,
		CodeInvalidInput:     400,
		CodeClassification:   422,
		CodePlanning:         422,
		CodeSynthesis:        502,
		CodeInternal:         500,
	}
	for code, status := range cases {
		if got := New(code, "x", nil).StatusCode; got != status {
			t.Errorf("%s: expected %d, got %d", code, status, got)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeExecution, "agent failed", errors.New("503")).WithContext("task_id", "t-1")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["code"] != "EXECUTION_FAILED" {
		t.Errorf("unexpected code %v", decoded["code"])
	}
	if decoded["error"] != "503" {
		t.Errorf("unexpected cause %v", decoded["error"])
	}
}
