package registry

import (
	"math"
	"testing"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
)

func TestValidateParams(t *testing.T) {
	spec := ActionSpec{
		Name: "transfer",
		Params: []ParamSpec{
			{Name: "to", Type: TypeString, Required: true},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "count", Type: TypeInteger},
			{Name: "tags", Type: TypeArray},
		},
	}
	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"valid", map[string]any{"to": "acme", "amount": 12.5}, true},
		{"int amount", map[string]any{"to": "acme", "amount": 12}, true},
		{"missing required", map[string]any{"to": "acme"}, false},
		{"wrong type", map[string]any{"to": 7, "amount": 1.0}, false},
		{"fractional integer", map[string]any{"to": "a", "amount": 1.0, "count": 1.5}, false},
		{"infinite integer", map[string]any{"to": "a", "amount": 1.0, "count": math.Inf(1)}, false},
		{"negative infinite integer", map[string]any{"to": "a", "amount": 1.0, "count": math.Inf(-1)}, false},
		{"array", map[string]any{"to": "a", "amount": 1.0, "tags": []any{"x"}}, true},
		{"extra params pass", map[string]any{"to": "a", "amount": 1.0, "memo": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(spec, tt.params)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && errors.CodeOf(err) != errors.CodeInvalidInput {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestMergeCallerOverridesSpoofedFields(t *testing.T) {
	params := map[string]any{"amount": 5, ParamCallerID: "mallory", ParamSessionID: "forged"}
	merged := MergeCaller(params, core.CallerContext{ID: "alice", Role: "admin"})

	if merged[ParamCallerID] != "alice" {
		t.Fatalf("caller id must come from caller context, got %v", merged[ParamCallerID])
	}
	if _, ok := merged[ParamSessionID]; ok {
		t.Fatalf("spoofed session id must be dropped")
	}
	if merged[ParamRole] != "admin" || merged["amount"] != 5 {
		t.Fatalf("unexpected merge %v", merged)
	}
	if params[ParamCallerID] != "mallory" {
		t.Fatalf("input params must not be mutated")
	}
}
