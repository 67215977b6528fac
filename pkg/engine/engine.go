// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine wires classification, planning, execution and synthesis
// into the two entry points: ProcessRequest and InvokeDirect.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/executor"
	"github.com/jllopis/switchboard/pkg/intent"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/memory"
	"github.com/jllopis/switchboard/pkg/planner"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/synth"
	"github.com/jllopis/switchboard/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine orchestrates requests against a sealed registry.
type Engine struct {
	registry *registry.Registry
	svc      llm.Service
	reviewer llm.Reviewer

	classifier *intent.Classifier
	planner    *planner.Planner
	executor   *executor.Executor
	synth      *synth.Synthesizer

	conversation memory.Conversation
	historyLimit int
	routes       *planner.Routes
	execOpts     []executor.Option
	threshold    float64
	runTimeout   time.Duration

	events  core.EventEmitter
	metrics *telemetry.EngineMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Response is the outcome of ProcessRequest.
type Response struct {
	RunID              string              `json:"run_id"`
	Reply              string              `json:"reply,omitempty"`
	Intent             *core.Intent        `json:"intent,omitempty"`
	Plan               *core.ExecutionPlan `json:"plan,omitempty"`
	NeedsClarification bool                `json:"clarification_needed,omitempty"`
	Review             *llm.Review         `json:"review,omitempty"`
}

// New builds an Engine and seals reg; no agent can be added afterwards.
func New(reg *registry.Registry, svc llm.Service, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "registry is required", nil)
	}
	if svc == nil {
		return nil, errors.New(errors.CodeInvalidInput, "language model service is required", nil)
	}
	e := &Engine{
		registry: reg,
		svc:      svc,
		events:   core.NoopEventEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("switchboard/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.threshold < 0 || e.threshold > 1 {
		return nil, errors.Newf(errors.CodeInvalidInput, "clarification threshold %v is outside [0,1]", e.threshold)
	}
	reg.Seal()

	e.classifier = intent.New(svc, intent.WithRegistry(reg), intent.WithLogger(e.logger))
	e.planner = planner.New(reg,
		planner.WithResolver(svc),
		planner.WithRoutes(e.routes),
		planner.WithLogger(e.logger),
	)
	execOpts := append([]executor.Option{
		executor.WithEventEmitter(e.events),
		executor.WithMetrics(e.metrics),
		executor.WithLogger(e.logger),
	}, e.execOpts...)
	e.executor = executor.New(reg, execOpts...)
	e.synth = synth.New(svc, e.logger)
	return e, nil
}

// ListCapabilities returns every agent with its actions in registration order.
func (e *Engine) ListCapabilities() []registry.Capability {
	return e.registry.Capabilities()
}

// ProcessRequest runs the natural-language path. Classification, planning
// and review failures return before any task runs. A synthesis failure
// returns the executed plan together with the error so the boundary can
// report that actions may have completed.
func (e *Engine) ProcessRequest(ctx context.Context, message string, caller core.CallerContext, situation *core.Situation) (*Response, error) {
	if err := caller.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid caller", err).WithRecoverable(true)
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx = core.WithPath(ctx, core.PathOrchestrated)
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "engine.process_request",
		trace.WithAttributes(telemetry.RunAttributes(runID, caller.ID, core.PathOrchestrated)...))
	defer span.End()

	start := time.Now()
	resp := &Response{RunID: runID}
	e.logger.InfoContext(ctx, "engine.run.start", "caller_id", caller.ID, "path", core.PathOrchestrated)
	e.events.Emit(ctx, core.NewEvent(ctx, core.EventRunStarted, "", "", map[string]any{"path": core.PathOrchestrated}))

	finish := func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(errors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			e.metrics.RecordError(ctx, err, "engine")
		}
		e.metrics.RecordRun(ctx, core.PathOrchestrated, outcome, time.Since(start))
		e.events.Emit(ctx, core.NewEvent(ctx, core.EventRunCompleted, "", "", map[string]any{"outcome": outcome}))
		e.logger.InfoContext(ctx, "engine.run.end", "outcome", outcome, "elapsed", time.Since(start))
	}

	situation = e.withHistory(ctx, caller, situation)
	in, err := e.classifier.Classify(ctx, message, situation)
	if err != nil {
		finish(err)
		return nil, err
	}
	resp.Intent = in
	span.SetAttributes(telemetry.IntentAttributes(in.Label, string(in.Priority), in.Confidence, in.AgentKeys)...)
	e.metrics.RecordConfidence(ctx, in.Label, in.Confidence)
	e.events.Emit(ctx, core.NewEvent(ctx, core.EventIntentClassified, "", "", map[string]any{
		"label":      in.Label,
		"confidence": in.Confidence,
		"agents":     in.AgentKeys,
	}))

	if e.threshold > 0 && in.BelowThreshold(e.threshold) {
		e.logger.InfoContext(ctx, "engine.intent.low_confidence",
			"label", in.Label,
			"confidence", in.Confidence,
			"threshold", e.threshold,
		)
		resp.NeedsClarification = true
		finish(nil)
		return resp, nil
	}

	plan, err := e.planner.Plan(ctx, in)
	if err != nil {
		finish(err)
		return nil, err
	}
	resp.Plan = plan
	e.events.Emit(ctx, core.NewEvent(ctx, core.EventPlanReady, "", "", map[string]any{"tasks": plan.Len()}))

	if e.reviewer != nil {
		review, err := e.review(ctx, in, plan)
		resp.Review = review
		if err != nil {
			finish(err)
			return resp, err
		}
	}

	e.executor.Execute(ctx, plan, caller)

	reply, err := e.synth.Synthesize(ctx, message, in, plan)
	if err != nil {
		finish(err)
		return resp, err
	}
	resp.Reply = reply
	e.remember(ctx, caller, runID, message, reply)
	finish(nil)
	return resp, nil
}

// InvokeDirect validates agentKey, action and params, then runs a single
// task through the executor. Validation errors are returned before any
// invocation; an executor failure is reported on the returned task.
func (e *Engine) InvokeDirect(ctx context.Context, agentKey, action string, params map[string]any, caller core.CallerContext) (*core.Task, error) {
	if err := caller.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid caller", err).WithRecoverable(true)
	}
	_, spec, err := e.registry.Check(agentKey, action)
	if err != nil {
		return nil, err
	}
	if err := registry.ValidateParams(spec, params); err != nil {
		return nil, err
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx = core.WithPath(ctx, core.PathDirect)
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "engine.invoke_direct",
		trace.WithAttributes(telemetry.RunAttributes(runID, caller.ID, core.PathDirect)...))
	defer span.End()

	start := time.Now()
	e.logger.InfoContext(ctx, "engine.direct.invoke", "agent", agentKey, "action", action, "caller_id", caller.ID)
	e.events.Emit(ctx, core.NewEvent(ctx, core.EventRunStarted, agentKey, "", map[string]any{"path": core.PathDirect}))

	task := core.NewTask(agentKey, action, cloneParams(params))
	e.executor.Execute(ctx, core.NewExecutionPlan(runID, nil, task), caller)

	outcome := "ok"
	if task.Error != nil {
		outcome = string(task.Error.Code)
		span.SetStatus(codes.Error, task.Error.Message)
	}
	e.metrics.RecordRun(ctx, core.PathDirect, outcome, time.Since(start))
	e.events.Emit(ctx, core.NewEvent(ctx, core.EventRunCompleted, agentKey, task.ID, map[string]any{"outcome": outcome}))
	return task, nil
}

// HealthChecks returns checks for the registry and any extra components.
func (e *Engine) HealthChecks() *core.HealthChecks {
	checks := core.NewHealthChecks()
	checks.Register("registry", core.HealthCheckFunc(func(context.Context) core.HealthResult {
		if e.registry.Len() == 0 {
			return core.HealthResult{Status: core.HealthDegraded, Message: "no agents registered"}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: fmt.Sprintf("%d agents", e.registry.Len())}
	}))
	return checks
}

// review treats a reviewer failure as yellow; only red rejects the plan.
func (e *Engine) review(ctx context.Context, in *core.Intent, plan *core.ExecutionPlan) (*llm.Review, error) {
	review, err := e.reviewer.ReviewPlan(ctx, llm.ReviewRequest{Intent: *in, Tasks: plan.Tasks})
	if err != nil {
		e.logger.WarnContext(ctx, "engine.review.failed", "error", err)
		return &llm.Review{Verdict: llm.VerdictYellow, Reasons: []string{err.Error()}}, nil
	}
	switch review.Verdict {
	case llm.VerdictRed:
		e.logger.WarnContext(ctx, "engine.review.rejected", "reasons", review.Reasons)
		return review, errors.New(errors.CodePlanRejected,
			"plan rejected: "+strings.Join(review.Reasons, "; "), nil).
			WithRecoverable(true)
	case llm.VerdictYellow:
		e.logger.WarnContext(ctx, "engine.review.warning", "reasons", review.Reasons, "score", review.Score)
	}
	return review, nil
}

func (e *Engine) withHistory(ctx context.Context, caller core.CallerContext, situation *core.Situation) *core.Situation {
	out := &core.Situation{Location: caller.Location, Role: caller.Role}
	if situation != nil {
		*out = *situation
		if out.Location == "" {
			out.Location = caller.Location
		}
		if out.Role == "" {
			out.Role = caller.Role
		}
	}
	if e.conversation == nil || caller.SessionID == "" || len(out.History) > 0 {
		return out
	}
	msgs, err := e.conversation.Recent(ctx, caller.SessionID, e.historyLimit)
	if err != nil {
		e.logger.WarnContext(ctx, "engine.history.failed", "session_id", caller.SessionID, "error", err)
		return out
	}
	out.History = memory.Turns(msgs)
	return out
}

func (e *Engine) remember(ctx context.Context, caller core.CallerContext, runID, message, reply string) {
	if e.conversation == nil || caller.SessionID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, msg := range []memory.Message{
		{Role: memory.RoleUser, Content: message, RunID: runID},
		{Role: memory.RoleAssistant, Content: reply, RunID: runID},
	} {
		if err := e.conversation.Append(ctx, caller.SessionID, msg); err != nil {
			e.logger.WarnContext(ctx, "engine.history.store_failed", "session_id", caller.SessionID, "error", err)
			return
		}
	}
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
