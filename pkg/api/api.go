// Package api serves the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/engine"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/synth"
)

const (
	// HeaderCallerID identifies the caller on every request.
	HeaderCallerID = "X-Caller-ID"

	maxRequestBodySize = 1 << 20

	rephraseMessage = "I couldn't work out what to do with that request. Could you rephrase it or be more specific?"
)

// Engine is the subset of the orchestration engine the API needs.
type Engine interface {
	ListCapabilities() []registry.Capability
	ProcessRequest(ctx context.Context, message string, caller core.CallerContext, situation *core.Situation) (*engine.Response, error)
	InvokeDirect(ctx context.Context, agentKey, action string, params map[string]any, caller core.CallerContext) (*core.Task, error)
}

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	Engine Engine
	Health *core.HealthChecks
	Logger *slog.Logger
}

// RequestBody is the body of POST /v1/requests.
type RequestBody struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Location  string `json:"location,omitempty"`
	Role      string `json:"role,omitempty"`
}

// InvokeBody is the body of POST /v1/agents/{agent}/actions/{action}.
type InvokeBody struct {
	Params map[string]any `json:"params"`
}

// RequestResponse is the reply to POST /v1/requests.
type RequestResponse struct {
	*engine.Response
	// Error carries the synthesis failure when Reply is the fallback text.
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type healthResponse struct {
	Status core.HealthStatus   `json:"status"`
	Checks []core.HealthResult `json:"checks"`
}

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handlers) chi.Router {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/capabilities", h.ListCapabilities)
		r.Post("/requests", h.ProcessRequest)
		r.Post("/agents/{agent}/actions/{action}", h.InvokeAction)
	})
	return r
}

// ProcessRequest handles POST /v1/requests.
func (h *Handlers) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[RequestBody](w, r)
	if !ok {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", errors.CodeInvalidInput)
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	caller.SessionID = body.SessionID
	caller.Location = body.Location
	caller.Role = body.Role

	resp, err := h.Engine.ProcessRequest(r.Context(), body.Message, caller, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RequestResponse{Response: resp})
	case stderrors.Is(err, errors.ErrSynthesis) && resp != nil:
		// Tasks ran; the caller must learn that even without a summary.
		resp.Reply = synth.FallbackReply
		writeJSON(w, http.StatusOK, RequestResponse{Response: resp, Error: err.Error()})
	case stderrors.Is(err, errors.ErrClassification), stderrors.Is(err, errors.ErrPlanning):
		writeError(w, http.StatusUnprocessableEntity, rephraseMessage, errors.CodeOf(err))
	default:
		writeEngineError(w, err)
	}
}

// InvokeAction handles POST /v1/agents/{agent}/actions/{action}. A task
// that ran and failed is still a 200: the failure is in the task.
func (h *Handlers) InvokeAction(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[InvokeBody](w, r)
	if !ok {
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	task, err := h.Engine.InvokeDirect(r.Context(), chi.URLParam(r, "agent"), chi.URLParam(r, "action"), body.Params, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListCapabilities handles GET /v1/capabilities.
func (h *Handlers) ListCapabilities(w http.ResponseWriter, _ *http.Request) {
	caps := h.Engine.ListCapabilities()
	if caps == nil {
		caps = []registry.Capability{}
	}
	writeJSON(w, http.StatusOK, caps)
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: core.HealthHealthy, Checks: []core.HealthResult{}})
		return
	}
	results, status := h.Health.CheckAll(r.Context())
	code := http.StatusOK
	if status == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Checks: results})
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.InfoContext(r.Context(), "api.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
			"caller_id", r.Header.Get(HeaderCallerID),
		)
	})
}

func callerFrom(w http.ResponseWriter, r *http.Request) (core.CallerContext, bool) {
	caller := core.CallerContext{ID: r.Header.Get(HeaderCallerID)}
	if err := caller.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, HeaderCallerID+" header is required", errors.CodeInvalidInput)
		return caller, false
	}
	return caller, true
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", errors.CodeInvalidInput)
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body", errors.CodeInvalidInput)
		}
		return v, false
	}
	return v, true
}

// writeEngineError maps an engine error to its status code.
func writeEngineError(w http.ResponseWriter, err error) {
	e := errors.As(err)
	status := e.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	msg := e.Message
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg, e.Code)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, code errors.ErrorCode) {
	writeJSON(w, status, errorResponse{Error: message, Code: string(code)})
}
