// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Switchboard.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies engine errors for monitoring and boundary mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit or was cancelled.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeClassification indicates intent classification failed.
	CodeClassification ErrorCode = "CLASSIFICATION_FAILED"

	// CodePlanning indicates no valid agent/action could be planned.
	CodePlanning ErrorCode = "PLANNING_FAILED"

	// CodeUnknownAgent indicates the agent key is not registered.
	CodeUnknownAgent ErrorCode = "UNKNOWN_AGENT"

	// CodeActionNotAllowed indicates the action is outside the agent allow-list.
	CodeActionNotAllowed ErrorCode = "ACTION_NOT_ALLOWED"

	// CodeSynthesis indicates response synthesis failed.
	CodeSynthesis ErrorCode = "SYNTHESIS_FAILED"

	// CodeExecution indicates an agent executor failed a task.
	CodeExecution ErrorCode = "EXECUTION_FAILED"

	// CodePlanRejected indicates plan review blocked execution.
	CodePlanRejected ErrorCode = "PLAN_REJECTED"

	// CodeDuplicateAgent indicates a registry key was registered twice.
	CodeDuplicateAgent ErrorCode = "DUPLICATE_AGENT"

	// CodeInvalidTransition indicates an illegal task status change.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Sentinels for errors.Is checks against the engine taxonomy.
var (
	ErrClassification   = &Error{Code: CodeClassification}
	ErrPlanning         = &Error{Code: CodePlanning}
	ErrUnknownAgent     = &Error{Code: CodeUnknownAgent}
	ErrActionNotAllowed = &Error{Code: CodeActionNotAllowed}
	ErrSynthesis        = &Error{Code: CodeSynthesis}
	ErrPlanRejected     = &Error{Code: CodePlanRejected}
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // HTTP status for boundary responses
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
// Sentinels compare by code only so wrapped causes stay reachable.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates an Error without cause using a format string.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns err as *Error if it is one anywhere in the chain, or wraps it as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether the first *Error in the chain is marked recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeUnknownAgent:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeActionNotAllowed:
		return 403
	case CodeInvalidInput:
		return 400
	case CodeClassification, CodePlanning, CodePlanRejected:
		return 422
	case CodeTimeout:
		return 408
	case CodeLLMError, CodeSynthesis:
		return 502
	default:
		return 500
	}
}
