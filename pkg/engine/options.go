package engine

import (
	"log/slog"
	"time"

	"github.com/jllopis/switchboard/pkg/audit"
	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/executor"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/memory"
	"github.com/jllopis/switchboard/pkg/planner"
	"github.com/jllopis/switchboard/pkg/telemetry"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its stages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventEmitter receives run and task events.
func WithEventEmitter(em core.EventEmitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.events = em
		}
	}
}

// WithMetrics records run, task and confidence metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAuditStore records every settled task.
func WithAuditStore(s audit.Store) Option {
	return func(e *Engine) { e.execOpts = append(e.execOpts, executor.WithAuditStore(s)) }
}

// WithConversation loads up to limit recent turns for the caller session
// before classification and stores each exchange afterwards.
func WithConversation(c memory.Conversation, limit int) Option {
	return func(e *Engine) {
		e.conversation = c
		e.historyLimit = limit
	}
}

// WithRoutes sets static intent routes for the planner.
func WithRoutes(r *planner.Routes) Option {
	return func(e *Engine) { e.routes = r }
}

// WithParallel runs independent tasks concurrently.
func WithParallel(limit int) Option {
	return func(e *Engine) { e.execOpts = append(e.execOpts, executor.WithParallel(limit)) }
}

// WithTaskTimeout bounds each executor call.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) { e.execOpts = append(e.execOpts, executor.WithTaskTimeout(d)) }
}

// WithRunTimeout bounds a whole ProcessRequest or InvokeDirect call.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.runTimeout = d }
}

// WithClarificationThreshold makes ProcessRequest stop after classification
// when confidence is below t. Zero disables the gate.
func WithClarificationThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithReviewer rates each plan before it runs.
func WithReviewer(r llm.Reviewer) Option {
	return func(e *Engine) { e.reviewer = r }
}
