package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
)

// ParamType is the declared shape of an action parameter.
type ParamType string

const (
	TypeAny     ParamType = ""
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeAny, "any", TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// ParamSpec declares one parameter of an action.
type ParamSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type,omitempty" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description"`
}

// ActionSpec declares an allow-listed action and the params it expects.
type ActionSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Params      []ParamSpec `json:"params,omitempty" yaml:"params"`
}

// Caller parameter keys merged into every invocation.
const (
	ParamCallerID  = "caller_id"
	ParamSessionID = "session_id"
	ParamLocation  = "caller_location"
	ParamRole      = "caller_role"
)

// ValidateParams checks params against the declared shape. Undeclared params
// are passed through.
func ValidateParams(spec ActionSpec, params map[string]any) error {
	var problems []string
	for _, p := range spec.Params {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required param %q", p.Name))
			}
			continue
		}
		if !matches(p.Type, v) {
			problems = append(problems, fmt.Sprintf("param %q must be %s, got %T", p.Name, p.Type, v))
		}
	}
	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("action %q: %s", spec.Name, strings.Join(problems, "; ")), nil).
			WithRecoverable(true)
	}
	return nil
}

func matches(t ParamType, v any) bool {
	switch t {
	case TypeAny, "any":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && !math.IsInf(f, 0) && f == math.Trunc(f)
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		if ok {
			return true
		}
		_, ok = v.([]string)
		return ok
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// MergeCaller returns a copy of params with the caller fields set. Caller
// fields win over any same-named param.
func MergeCaller(params map[string]any, caller core.CallerContext) map[string]any {
	out := make(map[string]any, len(params)+4)
	for k, v := range params {
		out[k] = v
	}
	delete(out, ParamSessionID)
	delete(out, ParamLocation)
	delete(out, ParamRole)
	out[ParamCallerID] = caller.ID
	if caller.SessionID != "" {
		out[ParamSessionID] = caller.SessionID
	}
	if caller.Location != "" {
		out[ParamLocation] = caller.Location
	}
	if caller.Role != "" {
		out[ParamRole] = caller.Role
	}
	return out
}
