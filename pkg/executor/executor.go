// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs execution plans. Every task reaches a terminal state;
// a failing task is recorded on the task and never aborts the plan.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/switchboard/pkg/audit"
	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Executor walks plans against a registry.
type Executor struct {
	registry       *registry.Registry
	parallel       bool
	maxConcurrency int
	taskTimeout    time.Duration
	audit          audit.Store
	events         core.EventEmitter
	metrics        *telemetry.EngineMetrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithParallel runs independent tasks concurrently, at most limit at a time
// (limit <= 0 means unbounded). Results and order match sequential mode.
func WithParallel(limit int) Option {
	return func(e *Executor) {
		e.parallel = true
		e.maxConcurrency = limit
	}
}

// WithTaskTimeout bounds each executor call.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Executor) { e.taskTimeout = d }
}

// WithAuditStore records every settled task.
func WithAuditStore(s audit.Store) Option {
	return func(e *Executor) { e.audit = s }
}

// WithEventEmitter sets the event sink for task events.
func WithEventEmitter(em core.EventEmitter) Option {
	return func(e *Executor) {
		if em != nil {
			e.events = em
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor over reg.
func New(reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: reg,
		events:   core.NoopEventEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("switchboard/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parallel reports whether parallel mode is enabled.
func (e *Executor) Parallel() bool {
	return e.parallel
}

// Execute settles every task of plan in place and returns it. Once ctx is
// done no further task is invoked; tasks still pending fail with TIMEOUT.
// In-flight calls are not interrupted beyond the shared ctx.
func (e *Executor) Execute(ctx context.Context, plan *core.ExecutionPlan, caller core.CallerContext) *core.ExecutionPlan {
	if plan == nil {
		return nil
	}
	ctx, span := e.tracer.Start(ctx, "executor.execute")
	defer span.End()

	if e.parallel && plan.Len() > 1 {
		e.executeParallel(ctx, plan, caller)
	} else {
		for _, t := range plan.Tasks {
			e.runTask(ctx, plan, t, caller)
		}
	}

	completed, failed := plan.Counts()
	span.SetAttributes(telemetry.PlanAttributes(plan.Len(), completed, failed)...)
	return plan
}

// executeParallel starts tasks in plan order. A task waits for the earlier
// tasks it depends on; the group is a join barrier for all of them.
func (e *Executor) executeParallel(ctx context.Context, plan *core.ExecutionPlan, caller core.CallerContext) {
	done := make(map[string]chan struct{}, plan.Len())
	for _, t := range plan.Tasks {
		done[t.ID] = make(chan struct{})
	}

	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	started := make(map[string]bool, plan.Len())
	for _, t := range plan.Tasks {
		var waits []chan struct{}
		for _, dep := range dependencies(t) {
			if started[dep] {
				waits = append(waits, done[dep])
			}
		}
		started[t.ID] = true
		g.Go(func() error {
			defer close(done[t.ID])
			for _, ch := range waits {
				<-ch
			}
			e.runTask(ctx, plan, t, caller)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Executor) runTask(ctx context.Context, plan *core.ExecutionPlan, t *core.Task, caller core.CallerContext) {
	if t.Status.Terminal() {
		return
	}
	if err := ctx.Err(); err != nil {
		_ = t.Fail(&core.TaskError{Code: errors.CodeTimeout, Message: "run cancelled before dispatch: " + err.Error()})
		e.settled(ctx, t, caller, 0)
		return
	}

	ctx, span := e.tracer.Start(ctx, "executor.task",
		trace.WithAttributes(telemetry.TaskAttributes(t.ID, t.AgentKey, t.Action, string(core.TaskStatusExecuting))...))
	defer span.End()

	if err := t.Start(); err != nil {
		_ = t.Fail(core.NewTaskError(errors.CodeInvalidTransition, err))
		e.settled(ctx, t, caller, 0)
		return
	}
	e.events.Emit(ctx, core.NewEvent(ctx, core.EventTaskStarted, t.AgentKey, t.ID, map[string]any{"action": t.Action}))
	e.logger.DebugContext(ctx, "executor.task.start",
		"task_id", t.ID,
		"agent", t.AgentKey,
		"action", t.Action,
	)

	start := time.Now()
	outcome := e.invoke(ctx, plan, t, caller)
	if err := t.Settle(outcome); err != nil {
		_ = t.Fail(core.NewTaskError(errors.CodeInvalidTransition, err))
	}
	if t.Error != nil {
		span.SetStatus(codes.Error, t.Error.Message)
	}
	e.settled(ctx, t, caller, time.Since(start))
}

// invoke resolves, validates and calls the task's executor.
func (e *Executor) invoke(ctx context.Context, plan *core.ExecutionPlan, t *core.Task, caller core.CallerContext) core.Outcome {
	desc, spec, err := e.registry.Check(t.AgentKey, t.Action)
	if err != nil {
		return core.Outcome{Err: core.NewTaskError(errors.CodeExecution, err)}
	}
	params, err := resolveRefs(plan, t)
	if err != nil {
		return core.Outcome{Err: core.NewTaskError(errors.CodeExecution, err)}
	}
	if err := registry.ValidateParams(spec, params); err != nil {
		return core.Outcome{Err: core.NewTaskError(errors.CodeInvalidInput, err)}
	}
	params = registry.MergeCaller(params, caller)

	callCtx := core.WithTaskID(ctx, t.ID)
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.taskTimeout)
		defer cancel()
	}
	value, err := call(callCtx, desc.Executor, t.Action, params, caller)
	if err != nil {
		code := errors.CodeExecution
		if callCtx.Err() != nil && errors.CodeOf(err) == errors.CodeInternal {
			code = errors.CodeTimeout
		}
		return core.Outcome{Err: core.NewTaskError(code, err)}
	}
	return core.Succeeded(value)
}

// call runs the executor, turning a panic into an error.
func call(ctx context.Context, ex registry.Executor, action string, params map[string]any, caller core.CallerContext) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeExecution, fmt.Sprintf("executor panicked: %v", r), nil)
		}
	}()
	return ex.Execute(ctx, action, params, caller)
}

func (e *Executor) settled(ctx context.Context, t *core.Task, caller core.CallerContext, elapsed time.Duration) {
	status := string(t.Status)
	eventType := core.EventTaskCompleted
	payload := map[string]any{"action": t.Action, "status": status}
	if t.Error != nil {
		eventType = core.EventTaskFailed
		payload["error_code"] = string(t.Error.Code)
		payload["error"] = t.Error.Message
	}
	e.events.Emit(ctx, core.NewEvent(ctx, eventType, t.AgentKey, t.ID, payload))
	e.metrics.RecordTask(ctx, t.AgentKey, t.Action, status, elapsed)

	attrs := []any{
		"task_id", t.ID,
		"agent", t.AgentKey,
		"action", t.Action,
		"status", status,
		"elapsed", elapsed,
	}
	if t.Error != nil {
		attrs = append(attrs, "error_code", t.Error.Code, "error", t.Error.Message)
		e.logger.WarnContext(ctx, "executor.task.end", attrs...)
	} else {
		e.logger.InfoContext(ctx, "executor.task.end", attrs...)
	}

	if e.audit == nil {
		return
	}
	runID, _ := core.RunID(ctx)
	rec := audit.FromTask(runID, core.Path(ctx), caller, t)
	if err := e.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.ErrorContext(ctx, "executor.audit.failed", "task_id", t.ID, "error", err)
	}
}
