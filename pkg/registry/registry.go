// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the capability model: which agents exist, which
// actions each one may execute and the executor bound to it.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
)

// Executor performs actions for one agent.
type Executor interface {
	Execute(ctx context.Context, action string, params map[string]any, caller core.CallerContext) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action string, params map[string]any, caller core.CallerContext) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, action string, params map[string]any, caller core.CallerContext) (any, error) {
	return f(ctx, action, params, caller)
}

// Descriptor describes a registered agent. It is immutable once registered.
type Descriptor struct {
	Key         string
	Name        string
	Description string
	Actions     []ActionSpec
	Executor    Executor
}

// Action returns the declared action named name.
func (d Descriptor) Action(name string) (ActionSpec, bool) {
	for _, a := range d.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionSpec{}, false
}

// ActionNames returns the allow-listed action names in declaration order.
func (d Descriptor) ActionNames() []string {
	out := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		out = append(out, a.Name)
	}
	return out
}

// Capability is the introspection view of a Descriptor.
type Capability struct {
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Actions     []ActionSpec `json:"actions"`
}

type snapshot struct {
	byKey map[string]Descriptor
	order []string
}

// Registry maps agent keys to descriptors. Reads never take a lock; writes
// publish a new snapshot and stop once the registry is sealed.
type Registry struct {
	mu     sync.Mutex
	snap   atomic.Pointer[snapshot]
	sealed atomic.Bool
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byKey: map[string]Descriptor{}})
	return r
}

// Register adds a descriptor. Duplicate keys and malformed descriptors are
// configuration errors.
func (r *Registry) Register(d Descriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return errors.New(errors.CodeInvalidInput, "registry is sealed", nil).
			WithContext("agent", d.Key)
	}
	cur := r.snap.Load()
	if _, exists := cur.byKey[d.Key]; exists {
		return errors.New(errors.CodeDuplicateAgent, fmt.Sprintf("agent %q already registered", d.Key), nil).
			WithContext("agent", d.Key)
	}

	d.Actions = cloneActions(d.Actions)
	next := &snapshot{
		byKey: make(map[string]Descriptor, len(cur.byKey)+1),
		order: append(append([]string(nil), cur.order...), d.Key),
	}
	for k, v := range cur.byKey {
		next.byKey[k] = v
	}
	next.byKey[d.Key] = d
	r.snap.Store(next)
	return nil
}

// MustRegister registers d or panics. Intended for process start-up.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Sealed reports whether the registry is sealed.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the descriptor registered under key.
func (r *Registry) Lookup(key string) (Descriptor, bool) {
	d, ok := r.snap.Load().byKey[key]
	if ok {
		d.Actions = cloneActions(d.Actions)
	}
	return d, ok
}

// IsActionAllowed is false when the agent is unknown or the action is not in
// its allow-list.
func (r *Registry) IsActionAllowed(key, action string) bool {
	d, ok := r.Lookup(key)
	if !ok {
		return false
	}
	_, ok = d.Action(action)
	return ok
}

// Check is IsActionAllowed with a diagnostic error distinguishing an unknown
// agent from a disallowed action.
func (r *Registry) Check(key, action string) (Descriptor, ActionSpec, error) {
	d, ok := r.Lookup(key)
	if !ok {
		return Descriptor{}, ActionSpec{}, errors.New(errors.CodeUnknownAgent,
			fmt.Sprintf("agent %q is not registered", key), nil).
			WithContext("agent", key).
			WithRecoverable(true)
	}
	spec, ok := d.Action(action)
	if !ok {
		return d, ActionSpec{}, errors.New(errors.CodeActionNotAllowed,
			fmt.Sprintf("action %q is not allowed for agent %q", action, key), nil).
			WithContext("agent", key).
			WithContext("action", action).
			WithContext("allowed", d.ActionNames()).
			WithRecoverable(true)
	}
	return d, spec, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	s := r.snap.Load()
	out := make([]Descriptor, 0, len(s.order))
	for _, key := range s.order {
		d := s.byKey[key]
		d.Actions = cloneActions(d.Actions)
		out = append(out, d)
	}
	return out
}

// Capabilities returns the introspection view in registration order.
func (r *Registry) Capabilities() []Capability {
	list := r.List()
	out := make([]Capability, 0, len(list))
	for _, d := range list {
		out = append(out, Capability{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			Actions:     d.Actions,
		})
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.snap.Load().order)
}

func validateDescriptor(d Descriptor) error {
	if d.Key == "" {
		return errors.New(errors.CodeInvalidInput, "agent key is required", nil)
	}
	if d.Executor == nil {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("agent %q has no executor", d.Key), nil)
	}
	if len(d.Actions) == 0 {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("agent %q declares no actions", d.Key), nil)
	}
	seen := make(map[string]bool, len(d.Actions))
	for _, a := range d.Actions {
		if a.Name == "" {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("agent %q has an unnamed action", d.Key), nil)
		}
		if seen[a.Name] {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("agent %q declares action %q twice", d.Key, a.Name), nil)
		}
		seen[a.Name] = true
		for _, p := range a.Params {
			if !p.Type.valid() {
				return errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("agent %q action %q param %q has unknown type %q", d.Key, a.Name, p.Name, p.Type), nil)
			}
		}
	}
	return nil
}

// cloneActions copies specs and their params so callers never share the
// sealed snapshot's slices.
func cloneActions(in []ActionSpec) []ActionSpec {
	if in == nil {
		return nil
	}
	out := make([]ActionSpec, len(in))
	for i, a := range in {
		a.Params = append([]ParamSpec(nil), a.Params...)
		out[i] = a
	}
	return out
}
