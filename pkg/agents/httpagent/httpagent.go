// Package httpagent invokes agent actions over HTTP.
//
// Each action is a POST to <endpoint>/<action> with a JSON body
// {"params": {...}, "caller": {...}}. A 2xx response body is decoded as the
// task result; anything else fails the task.
package httpagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
)

const (
	// HeaderRunID carries the orchestration run id.
	HeaderRunID = "X-Run-ID"
	// HeaderTaskID carries the task id.
	HeaderTaskID = "X-Task-ID"

	maxErrorBody = 512
)

// Request is the body sent to the agent.
type Request struct {
	Params map[string]any     `json:"params"`
	Caller core.CallerContext `json:"caller"`
}

// Agent is a registry.Executor backed by an HTTP endpoint.
type Agent struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
}

// Option configures an Agent.
type Option func(*Agent)

// WithHeaders adds static headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(a *Agent) {
		for k, v := range h {
			a.headers[k] = v
		}
	}
}

// WithBearerToken sets an Authorization bearer header.
func WithBearerToken(token string) Option {
	return func(a *Agent) {
		if token != "" {
			a.headers["Authorization"] = "Bearer " + token
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithTimeout sets the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.httpClient = &http.Client{Timeout: d, Transport: a.httpClient.Transport}
		}
	}
}

// New creates an Agent for endpoint.
func New(endpoint string, opts ...Option) (*Agent, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid agent endpoint %q", endpoint), err)
	}
	a := &Agent{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		headers:    map[string]string{},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Execute implements registry.Executor.
func (a *Agent) Execute(ctx context.Context, action string, params map[string]any, caller core.CallerContext) (any, error) {
	body, err := json.Marshal(Request{Params: params, Caller: caller})
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "encode agent request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/"+url.PathEscape(action), bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "build agent request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	if runID, ok := core.RunID(ctx); ok {
		req.Header.Set(HeaderRunID, runID)
	}
	if taskID, ok := core.TaskID(ctx); ok {
		req.Header.Set(HeaderTaskID, taskID)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, "agent request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, "read agent response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errors.CodeExecution,
			fmt.Sprintf("agent returned %d: %s", resp.StatusCode, truncate(data)), nil).
			WithContext("status", resp.StatusCode)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		// Non-JSON bodies are returned as text.
		return string(data), nil
	}
	return out, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
