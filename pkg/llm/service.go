package llm

import (
	"context"

	"github.com/jllopis/switchboard/pkg/core"
)

// AgentSummary is the catalog entry shown to the model during classification.
type AgentSummary struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

// ClassifyRequest is the input to ClassifyIntent.
type ClassifyRequest struct {
	Message   string
	Situation *core.Situation
	Catalog   []AgentSummary
}

// IntentPayload is the raw classification reply before validation.
// Confidence is a pointer so a missing value can be told apart from zero.
type IntentPayload struct {
	Label      string         `json:"label"`
	AgentKeys  []string       `json:"agent_keys"`
	Parameters map[string]any `json:"parameters"`
	Priority   string         `json:"priority"`
	Confidence *float64       `json:"confidence"`
}

// ActionOption is one allowed action offered to ResolveAction.
type ActionOption struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResolveRequest asks the model to pick one action for an agent.
type ResolveRequest struct {
	AgentKey string
	Actions  []ActionOption
	Intent   core.Intent
}

// SynthesisRequest carries the settled tasks of a run.
type SynthesisRequest struct {
	Message string
	Intent  core.Intent
	Tasks   []*core.Task
}

// Verdict is the outcome of a plan review.
type Verdict string

const (
	VerdictGreen  Verdict = "green"
	VerdictYellow Verdict = "yellow"
	VerdictRed    Verdict = "red"
)

// Review is a supervisor assessment of a plan before execution.
type Review struct {
	Verdict Verdict  `json:"verdict"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// ReviewRequest is the input to ReviewPlan.
type ReviewRequest struct {
	Intent core.Intent
	Tasks  []*core.Task
}

// Service is the language-model boundary used by the engine.
// Each method is a single logical call; retries happen below it.
type Service interface {
	ClassifyIntent(ctx context.Context, req ClassifyRequest) (*IntentPayload, error)
	ResolveAction(ctx context.Context, req ResolveRequest) (string, error)
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// Reviewer rates a plan green, yellow or red.
type Reviewer interface {
	ReviewPlan(ctx context.Context, req ReviewRequest) (*Review, error)
}
