// Package intent turns a free-text request into a validated core.Intent
// with a single language-model call.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Classifier validates classification payloads into intents. Returned agent
// keys are not checked against the registry; the catalog is only a hint.
type Classifier struct {
	svc     llm.Service
	catalog func() []llm.AgentSummary
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegistry shows the registered agents to the model.
func WithRegistry(reg *registry.Registry) Option {
	return func(c *Classifier) {
		c.catalog = func() []llm.AgentSummary { return Catalog(reg) }
	}
}

// New creates a Classifier over svc.
func New(svc llm.Service, opts ...Option) *Classifier {
	c := &Classifier{
		svc:     svc,
		catalog: func() []llm.AgentSummary { return nil },
		logger:  slog.Default(),
		tracer:  otel.Tracer("switchboard/intent"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog summarizes the registry for the classification prompt.
func Catalog(reg *registry.Registry) []llm.AgentSummary {
	if reg == nil {
		return nil
	}
	descs := reg.List()
	out := make([]llm.AgentSummary, 0, len(descs))
	for _, d := range descs {
		out = append(out, llm.AgentSummary{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			Actions:     d.ActionNames(),
		})
	}
	return out
}

// Classify issues exactly one ClassifyIntent call. Any failure, including
// cancellation, is a CLASSIFICATION_FAILED error.
func (c *Classifier) Classify(ctx context.Context, message string, situation *core.Situation) (*core.Intent, error) {
	ctx, span := c.tracer.Start(ctx, "intent.classify")
	defer span.End()

	fail := func(msg string, cause error) (*core.Intent, error) {
		err := errors.New(errors.CodeClassification, msg, cause)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	if strings.TrimSpace(message) == "" {
		return fail("message is empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return fail("classification cancelled", err)
	}

	payload, err := c.svc.ClassifyIntent(ctx, llm.ClassifyRequest{
		Message:   message,
		Situation: situation,
		Catalog:   c.catalog(),
	})
	if err != nil {
		return fail("language model call failed", err)
	}
	in, err := FromPayload(payload)
	if err != nil {
		return fail("invalid classification payload", err)
	}

	span.SetAttributes(telemetry.IntentAttributes(in.Label, string(in.Priority), in.Confidence, in.AgentKeys)...)
	c.logger.InfoContext(ctx, "intent.classified",
		"label", in.Label,
		"agents", in.AgentKeys,
		"priority", in.Priority,
		"confidence", in.Confidence,
	)
	return in, nil
}

// FromPayload validates a raw payload: label required, confidence present
// and within [0,1], priority parseable. Agent keys are de-duplicated in order.
func FromPayload(p *llm.IntentPayload) (*core.Intent, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is empty")
	}
	label := strings.TrimSpace(p.Label)
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if p.Confidence == nil {
		return nil, fmt.Errorf("confidence is required")
	}
	conf := *p.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("confidence %v is outside [0,1]", conf)
	}
	priority, err := core.ParsePriority(p.Priority)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(p.AgentKeys))
	seen := make(map[string]bool, len(p.AgentKeys))
	for _, k := range p.AgentKeys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	params := p.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return &core.Intent{
		Label:      label,
		AgentKeys:  keys,
		Parameters: params,
		Priority:   priority,
		Confidence: conf,
	}, nil
}
