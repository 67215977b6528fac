// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/jllopis/switchboard/pkg/errors"
)

// CLIError wraps an engine error with a hint for the operator.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the engine error to errors.Is and errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// PrintError prints the error to stderr.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		out := map[string]any{"error": map[string]string{
			"code":    string(e.Err.Code),
			"message": e.Err.Message,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(os.Stderr).Encode(out)
		return
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.Err.Code, e.Err.Message)
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// WrapConfigError wraps a configuration load failure.
func WrapConfigError(err error, path string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "invalid configuration", err).WithContext("path", path)
	return NewCLIError(e, "check the config file and SWITCHBOARD_* environment variables")
}

// WrapEngineError attaches an operator hint to an engine error.
func WrapEngineError(err error) *CLIError {
	e := errors.As(err)
	var hint string
	switch {
	case stderrors.Is(err, errors.ErrClassification), stderrors.Is(err, errors.ErrPlanning):
		hint = "rephrase the request or be more specific"
	case stderrors.Is(err, errors.ErrUnknownAgent):
		hint = "run 'switchboard capabilities' to list registered agents"
	case stderrors.Is(err, errors.ErrActionNotAllowed):
		hint = "run 'switchboard capabilities' to list the actions each agent allows"
	case stderrors.Is(err, errors.ErrPlanRejected):
		hint = "the plan reviewer rejected the request; disable engine.review to skip it"
	case e.Code == errors.CodeInvalidInput:
		hint = "check the action parameters and --caller"
	case e.Code == errors.CodeTimeout:
		hint = "try increasing --timeout or engine.run_timeout"
	}
	return NewCLIError(e, hint)
}
