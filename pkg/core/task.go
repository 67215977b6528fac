// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/switchboard/pkg/errors"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no transition can leave this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskResult holds the value an executor returned. A non-nil *TaskResult means
// the task completed, even when Value itself is nil.
type TaskResult struct {
	Value any
}

// MarshalJSON encodes the wrapped value directly.
func (r *TaskResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value)
}

// UnmarshalJSON decodes a raw value into Value.
func (r *TaskResult) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Value)
}

// TaskError is the recorded failure of a single task. It is data, never raised.
type TaskError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTaskError builds a TaskError, taking the code from err when it carries one.
func NewTaskError(fallback errors.ErrorCode, err error) *TaskError {
	if err == nil {
		return &TaskError{Code: fallback, Message: "unknown error"}
	}
	if errors.CodeOf(err) == errors.CodeInternal {
		return &TaskError{Code: fallback, Message: err.Error()}
	}
	e := errors.As(err)
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return &TaskError{Code: e.Code, Message: msg}
}

// Outcome is what running a task yields: a value or a failure, never both.
type Outcome struct {
	Value any
	Err   *TaskError
}

// Succeeded builds a successful outcome.
func Succeeded(value any) Outcome { return Outcome{Value: value} }

// Failed builds a failed outcome.
func Failed(code errors.ErrorCode, msg string) Outcome {
	return Outcome{Err: &TaskError{Code: code, Message: msg}}
}

// Task is one planned invocation of an agent action.
type Task struct {
	ID         string         `json:"id"`
	AgentKey   string         `json:"agent_key"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     TaskStatus     `json:"status"`
	Result     *TaskResult    `json:"result,omitempty"`
	Error      *TaskError     `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// NewTask creates a pending task with a generated ID.
func NewTask(agentKey, action string, params map[string]any) *Task {
	if params == nil {
		params = map[string]any{}
	}
	return &Task{
		ID:        uuid.NewString(),
		AgentKey:  agentKey,
		Action:    action,
		Params:    params,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Start moves a pending task to executing.
func (t *Task) Start() error {
	if t.Status != TaskStatusPending {
		return t.invalid(TaskStatusExecuting)
	}
	t.Status = TaskStatusExecuting
	t.StartedAt = time.Now().UTC()
	return nil
}

// Complete moves an executing task to completed with value.
func (t *Task) Complete(value any) error {
	if t.Status != TaskStatusExecuting {
		return t.invalid(TaskStatusCompleted)
	}
	t.Status = TaskStatusCompleted
	t.Result = &TaskResult{Value: value}
	t.Error = nil
	t.FinishedAt = time.Now().UTC()
	return nil
}

// Fail moves a pending or executing task to failed.
func (t *Task) Fail(taskErr *TaskError) error {
	if t.Status.Terminal() {
		return t.invalid(TaskStatusFailed)
	}
	if taskErr == nil {
		taskErr = &TaskError{Code: errors.CodeExecution, Message: "task failed"}
	}
	t.Status = TaskStatusFailed
	t.Error = taskErr
	t.Result = nil
	t.FinishedAt = time.Now().UTC()
	return nil
}

// Settle applies an outcome to an executing task.
func (t *Task) Settle(o Outcome) error {
	if o.Err != nil {
		return t.Fail(o.Err)
	}
	return t.Complete(o.Value)
}

// Clone returns a deep-enough copy for reporting; params map is copied.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Params = make(map[string]any, len(t.Params))
	for k, v := range t.Params {
		cp.Params[k] = v
	}
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	return &cp
}

func (t *Task) invalid(to TaskStatus) error {
	return errors.New(errors.CodeInvalidTransition,
		fmt.Sprintf("task %s: %s -> %s", t.ID, t.Status, to), nil)
}
