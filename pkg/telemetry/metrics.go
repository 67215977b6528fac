// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/switchboard/pkg/errors"
)

// EngineMetrics records run, task and error instruments. A nil
// *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	runCounter   metric.Int64Counter
	runDuration  metric.Float64Histogram
	taskCounter  metric.Int64Counter
	taskDuration metric.Float64Histogram
	confidence   metric.Float64Histogram
	errorCounter metric.Int64Counter
	breakerState metric.Int64Gauge
	healthStatus metric.Int64Gauge
}

// NewEngineMetrics creates instruments on the global meter provider.
func NewEngineMetrics() (*EngineMetrics, error) {
	return NewEngineMetricsWithMeter(otel.Meter("switchboard/engine"))
}

// NewEngineMetricsWithMeter creates instruments on meter.
func NewEngineMetricsWithMeter(meter metric.Meter) (*EngineMetrics, error) {
	var (
		m   EngineMetrics
		err error
	)
	if m.runCounter, err = meter.Int64Counter("switchboard.runs.total",
		metric.WithDescription("Requests processed by path and outcome")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("switchboard.runs.duration",
		metric.WithDescription("End-to-end request duration"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.taskCounter, err = meter.Int64Counter("switchboard.tasks.total",
		metric.WithDescription("Settled tasks by agent, action and status")); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram("switchboard.tasks.duration",
		metric.WithDescription("Executor invocation duration"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.confidence, err = meter.Float64Histogram("switchboard.intent.confidence",
		metric.WithDescription("Classifier confidence")); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter("switchboard.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge("switchboard.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state (0=open, 1=half-open, 2=closed)")); err != nil {
		return nil, err
	}
	if m.healthStatus, err = meter.Int64Gauge("switchboard.health.status",
		metric.WithDescription("Component health (0=unhealthy, 1=degraded, 2=healthy)")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordRun counts a finished request. outcome is "ok" or an error code.
func (m *EngineMetrics) RecordRun(ctx context.Context, path, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrPath, path),
		attribute.String("outcome", outcome),
	)
	m.runCounter.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordTask counts a settled task.
func (m *EngineMetrics) RecordTask(ctx context.Context, agentKey, action, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAgentKey, agentKey),
		attribute.String(AttrAction, action),
		attribute.String(AttrTaskStatus, status),
	)
	m.taskCounter.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordConfidence records a classification confidence.
func (m *EngineMetrics) RecordConfidence(ctx context.Context, label string, confidence float64) {
	if m == nil {
		return
	}
	m.confidence.Record(ctx, confidence, metric.WithAttributes(attribute.String(AttrIntentLabel, label)))
}

// RecordError counts err under component.
func (m *EngineMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	e := errors.As(err)
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(e.Code)),
		attribute.String("component", component),
		attribute.String("recoverable", e.RecoverableString()),
	))
}

// RecordCircuitBreakerState records a breaker gauge value.
func (m *EngineMetrics) RecordCircuitBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("component", name)))
}

// RecordHealthStatus records a component health gauge value.
func (m *EngineMetrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if m == nil {
		return
	}
	m.healthStatus.Record(ctx, status, metric.WithAttributes(attribute.String("component", component)))
}
