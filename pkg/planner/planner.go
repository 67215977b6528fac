// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package planner turns an intent into an ordered execution plan. Agent keys
// are resolved against the registry; static routes take precedence, agents
// with a single action use it directly and the rest ask the language model to
// choose from the agent's allow-list.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Drop reasons reported in planner.agent.dropped.
const (
	ReasonUnknownAgent     = "unknown_agent"
	ReasonNoActions        = "no_actions"
	ReasonNoResolver       = "no_resolver"
	ReasonResolveFailed    = "resolve_failed"
	ReasonActionNotAllowed = "action_not_allowed"
	ReasonUpstreamDropped  = "upstream_dropped"
)

// Resolver chooses one action out of a closed set. llm.Service satisfies it.
type Resolver interface {
	ResolveAction(ctx context.Context, req llm.ResolveRequest) (string, error)
}

// Planner builds execution plans.
type Planner struct {
	registry *registry.Registry
	resolver Resolver
	routes   *Routes
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Planner.
type Option func(*Planner)

// WithResolver sets the action resolver used for multi-action agents.
func WithResolver(r Resolver) Option {
	return func(p *Planner) { p.resolver = r }
}

// WithRoutes sets static routes.
func WithRoutes(r *Routes) Option {
	return func(p *Planner) { p.routes = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Planner over reg.
func New(reg *registry.Registry, opts ...Option) *Planner {
	p := &Planner{
		registry: reg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("switchboard/planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan returns a non-empty plan or a PLANNING_FAILED error. Agents whose
// action cannot be resolved are dropped, not fatal.
func (p *Planner) Plan(ctx context.Context, in *core.Intent) (*core.ExecutionPlan, error) {
	ctx, span := p.tracer.Start(ctx, "planner.plan")
	defer span.End()

	fail := func(err *errors.Error) (*core.ExecutionPlan, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	if in == nil {
		return fail(errors.New(errors.CodePlanning, "intent is nil", nil))
	}
	if err := ctx.Err(); err != nil {
		return fail(errors.New(errors.CodePlanning, "planning cancelled", err))
	}

	var (
		tasks []*core.Task
		err   error
	)
	if steps, ok := p.routes.Lookup(in.Label); ok {
		span.SetAttributes(attribute.Bool("switchboard.plan.routed", true))
		tasks = p.planRoute(ctx, in, steps)
	} else {
		tasks, err = p.planAgents(ctx, in)
		if err != nil {
			return fail(errors.New(errors.CodePlanning, "planning cancelled", err))
		}
	}

	if len(tasks) == 0 {
		return fail(errors.New(errors.CodePlanning,
			fmt.Sprintf("no valid agent/action for intent %q", in.Label), nil).
			WithContext("agents", in.AgentKeys))
	}

	runID, _ := core.RunID(ctx)
	plan := core.NewExecutionPlan(runID, in, tasks...)
	span.SetAttributes(telemetry.PlanAttributes(plan.Len(), 0, 0)...)
	p.logger.InfoContext(ctx, "planner.plan.ready",
		"label", in.Label,
		"tasks", plan.Len(),
		"dependencies", plan.HasDependencies(),
	)
	return plan, nil
}

func (p *Planner) planAgents(ctx context.Context, in *core.Intent) ([]*core.Task, error) {
	var tasks []*core.Task
	for _, key := range in.AgentKeys {
		desc, ok := p.registry.Lookup(key)
		if !ok {
			p.drop(ctx, key, "", ReasonUnknownAgent)
			continue
		}
		action, reason, err := p.resolve(ctx, desc, in)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			p.drop(ctx, key, action, reason)
			continue
		}
		tasks = append(tasks, core.NewTask(key, action, cloneParams(in.Parameters)))
	}
	return tasks, nil
}

// resolve picks the action for desc. A non-empty reason drops the agent; an
// error means the context ended and the whole plan is abandoned.
func (p *Planner) resolve(ctx context.Context, desc registry.Descriptor, in *core.Intent) (string, string, error) {
	switch len(desc.Actions) {
	case 0:
		return "", ReasonNoActions, nil
	case 1:
		return desc.Actions[0].Name, "", nil
	}
	if p.resolver == nil {
		return "", ReasonNoResolver, nil
	}

	options := make([]llm.ActionOption, 0, len(desc.Actions))
	for _, a := range desc.Actions {
		options = append(options, llm.ActionOption{Name: a.Name, Description: a.Description})
	}
	action, err := p.resolver.ResolveAction(ctx, llm.ResolveRequest{
		AgentKey: desc.Key,
		Actions:  options,
		Intent:   *in,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		p.logger.WarnContext(ctx, "planner.resolve.failed", "agent", desc.Key, "error", err)
		return "", ReasonResolveFailed, nil
	}
	if _, ok := desc.Action(action); !ok {
		return action, ReasonActionNotAllowed, nil
	}
	return action, "", nil
}

func (p *Planner) planRoute(ctx context.Context, in *core.Intent, steps []Step) []*core.Task {
	tasks := make([]*core.Task, 0, len(steps))
	byStep := make([]*core.Task, len(steps))

	for i, s := range steps {
		if !p.registry.IsActionAllowed(s.Agent, s.Action) {
			reason := ReasonActionNotAllowed
			if _, ok := p.registry.Lookup(s.Agent); !ok {
				reason = ReasonUnknownAgent
			}
			p.drop(ctx, s.Agent, s.Action, reason)
			continue
		}

		params := cloneParams(in.Parameters)
		maps.Copy(params, s.Params)

		var deps []string
		dropped := false
		for _, name := range slices.Sorted(maps.Keys(s.From)) {
			ref := s.From[name]
			upstream := byStep[ref.Task]
			if upstream == nil {
				dropped = true
				break
			}
			params[name] = core.ResultRef{TaskID: upstream.ID, Field: ref.Field}
			if !slices.Contains(deps, upstream.ID) {
				deps = append(deps, upstream.ID)
			}
		}
		if dropped {
			p.drop(ctx, s.Agent, s.Action, ReasonUpstreamDropped)
			continue
		}

		t := core.NewTask(s.Agent, s.Action, params)
		t.DependsOn = deps
		byStep[i] = t
		tasks = append(tasks, t)
	}
	return tasks
}

func (p *Planner) drop(ctx context.Context, agent, action, reason string) {
	p.logger.WarnContext(ctx, "planner.agent.dropped",
		"agent", agent,
		"action", action,
		"reason", reason,
	)
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}
