package planner

import (
	"fmt"
	"strings"
)

// Routes maps intent labels to fixed sequences of agent actions.
type Routes struct {
	Routes map[string][]Step `json:"routes" yaml:"routes"`
}

// Step is one routed agent action.
type Step struct {
	Agent  string             `json:"agent" yaml:"agent"`
	Action string             `json:"action" yaml:"action"`
	Params map[string]any     `json:"params,omitempty" yaml:"params,omitempty"`
	From   map[string]StepRef `json:"from,omitempty" yaml:"from,omitempty"`
}

// StepRef binds a param to a field of an earlier step's result.
type StepRef struct {
	Task  int    `json:"task" yaml:"task"`
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
}

// Lookup returns the steps routed for label.
func (r *Routes) Lookup(label string) ([]Step, bool) {
	if r == nil {
		return nil, false
	}
	steps, ok := r.Routes[label]
	return steps, ok && len(steps) > 0
}

// Validate ensures every step names an agent and action and only references
// earlier steps.
func (r *Routes) Validate() error {
	if r == nil {
		return fmt.Errorf("routes are nil")
	}
	for label, steps := range r.Routes {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("route label is required")
		}
		if len(steps) == 0 {
			return fmt.Errorf("route %q has no steps", label)
		}
		for i, s := range steps {
			if s.Agent == "" || s.Action == "" {
				return fmt.Errorf("route %q step %d must include agent/action", label, i)
			}
			for param, ref := range s.From {
				if ref.Task < 0 || ref.Task >= i {
					return fmt.Errorf("route %q step %d param %q references step %d", label, i, param, ref.Task)
				}
			}
		}
	}
	return nil
}
