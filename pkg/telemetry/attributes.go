// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry tracing and metrics, the slog
// handler, and the attribute names shared by engine spans.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for switchboard spans and metrics.
const (
	AttrRunID    = "switchboard.run.id"
	AttrCallerID = "switchboard.caller.id"
	AttrPath     = "switchboard.run.path" // "orchestrated" or "direct"

	AttrIntentLabel      = "switchboard.intent.label"
	AttrIntentPriority   = "switchboard.intent.priority"
	AttrIntentConfidence = "switchboard.intent.confidence"
	AttrIntentAgents     = "switchboard.intent.agents"

	AttrPlanTasks     = "switchboard.plan.tasks"
	AttrPlanCompleted = "switchboard.plan.completed"
	AttrPlanFailed    = "switchboard.plan.failed"

	AttrAgentKey   = "switchboard.agent.key"
	AttrAction     = "switchboard.task.action"
	AttrTaskID     = "switchboard.task.id"
	AttrTaskStatus = "switchboard.task.status"

	AttrErrorCode = "switchboard.error.code"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
)

// RunAttributes returns attributes for a run span.
func RunAttributes(runID, callerID, path string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrRunID, runID)}
	if callerID != "" {
		attrs = append(attrs, attribute.String(AttrCallerID, callerID))
	}
	if path != "" {
		attrs = append(attrs, attribute.String(AttrPath, path))
	}
	return attrs
}

// IntentAttributes describes a classified intent.
func IntentAttributes(label, priority string, confidence float64, agents []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrIntentLabel, label),
		attribute.Float64(AttrIntentConfidence, confidence),
	}
	if priority != "" {
		attrs = append(attrs, attribute.String(AttrIntentPriority, priority))
	}
	if len(agents) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrIntentAgents, agents))
	}
	return attrs
}

// PlanAttributes summarizes a plan after execution.
func PlanAttributes(tasks, completed, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrPlanTasks, tasks),
		attribute.Int(AttrPlanCompleted, completed),
		attribute.Int(AttrPlanFailed, failed),
	}
}

// TaskAttributes returns attributes for task spans. Empty values are omitted.
func TaskAttributes(taskID, agentKey, action, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if agentKey != "" {
		attrs = append(attrs, attribute.String(AttrAgentKey, agentKey))
	}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrAction, action))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrTaskStatus, status))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(model string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	return attrs
}
