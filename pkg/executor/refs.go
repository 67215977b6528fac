package executor

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
)

// resolveRefs returns a copy of the task params with every result reference
// replaced by the upstream value. An upstream task that did not complete
// fails the dependent task.
func resolveRefs(plan *core.ExecutionPlan, t *core.Task) (map[string]any, error) {
	out := make(map[string]any, len(t.Params))
	for name, v := range t.Params {
		ref, ok := asRef(v)
		if !ok {
			out[name] = v
			continue
		}
		value, err := lookupRef(plan, ref)
		if err != nil {
			return nil, errors.New(errors.CodeExecution,
				fmt.Sprintf("param %q: %s", name, err.Error()), nil).
				WithContext("depends_on", ref.TaskID)
		}
		out[name] = value
	}
	return out, nil
}

// asRef only honours typed references. Caller and model supplied maps are
// plain values even when they look like a reference.
func asRef(v any) (core.ResultRef, bool) {
	switch r := v.(type) {
	case core.ResultRef:
		return r, true
	case *core.ResultRef:
		if r != nil {
			return *r, true
		}
	}
	return core.ResultRef{}, false
}

func lookupRef(plan *core.ExecutionPlan, ref core.ResultRef) (any, error) {
	upstream, ok := plan.Task(ref.TaskID)
	if !ok {
		return nil, fmt.Errorf("dependency %s is not in the plan", ref.TaskID)
	}
	if upstream.Status != core.TaskStatusCompleted || upstream.Result == nil {
		return nil, fmt.Errorf("dependency %s did not complete", ref.TaskID)
	}
	value := upstream.Result.Value
	if ref.Field == "" {
		return value, nil
	}
	fields, err := asFields(value)
	if err != nil {
		return nil, fmt.Errorf("dependency %s result has no fields: %w", ref.TaskID, err)
	}
	field, ok := fields[ref.Field]
	if !ok {
		return nil, fmt.Errorf("dependency %s result has no field %q", ref.TaskID, ref.Field)
	}
	return field, nil
}

func asFields(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// dependencies returns the declared dependencies of t plus any task its
// params reference.
func dependencies(t *core.Task) []string {
	deps := append([]string(nil), t.DependsOn...)
	for _, v := range t.Params {
		if ref, ok := asRef(v); ok && !slices.Contains(deps, ref.TaskID) {
			deps = append(deps, ref.TaskID)
		}
	}
	return deps
}
