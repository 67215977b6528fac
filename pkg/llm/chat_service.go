package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const classifyPrompt = `You are the triage step of a request router.
Classify the user's request against the agent catalog below.
Reply with strict JSON only:
{"label": "<short intent label>", "agent_keys": ["<catalog key>", ...], "parameters": {...}, "priority": "urgent|normal|low", "confidence": <0..1>}
Only use agent keys that appear in the catalog. Put values the agents need in parameters.`

const resolvePrompt = `Pick the single action of agent %q that best serves the intent.
Allowed actions:
%s
Reply with strict JSON only: {"action": "<one allowed action name>"}`

const synthesizePrompt = `You write the final answer to the user.
Use only the task results below. Mention failed tasks briefly and honestly.
Reply in plain text, in the user's language.`

const reviewPrompt = `You supervise an execution plan before it runs.
Rate it green (safe and relevant), yellow (questionable) or red (must not run).
Reply with strict JSON only: {"verdict": "green|yellow|red", "score": <0..1>, "reasons": ["..."]}`

// ChatService implements Service and Reviewer over a chat Provider.
type ChatService struct {
	provider    Provider
	model       string
	temperature float64
	tracer      trace.Tracer
}

// ChatServiceOption configures a ChatService.
type ChatServiceOption func(*ChatService)

// WithModel sets the model name sent with every request.
func WithModel(model string) ChatServiceOption {
	return func(s *ChatService) { s.model = model }
}

// WithTemperature sets the sampling temperature for JSON calls.
func WithTemperature(t float64) ChatServiceOption {
	return func(s *ChatService) { s.temperature = t }
}

// NewChatService builds a Service on top of provider.
func NewChatService(provider Provider, opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
		provider: provider,
		tracer:   otel.Tracer("switchboard/llm"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClassifyIntent implements Service.
func (s *ChatService) ClassifyIntent(ctx context.Context, req ClassifyRequest) (*IntentPayload, error) {
	catalog, err := json.Marshal(req.Catalog)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode catalog", err)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Agent catalog:\n%s\n\n", catalog)
	if sit := req.Situation; sit != nil {
		if sit.Location != "" {
			fmt.Fprintf(&user, "Caller location: %s\n", sit.Location)
		}
		if sit.Role != "" {
			fmt.Fprintf(&user, "Caller role: %s\n", sit.Role)
		}
		if len(sit.History) > 0 {
			user.WriteString("Recent conversation:\n")
			for _, turn := range sit.History {
				fmt.Fprintf(&user, "- %s: %s\n", turn.Role, turn.Content)
			}
		}
	}
	fmt.Fprintf(&user, "\nRequest: %s", req.Message)

	reply, err := s.chat(ctx, "classify", classifyPrompt, user.String(), true)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := ExtractJSON(reply, &raw); err != nil {
		return nil, errors.New(errors.CodeLLMError, "classification reply is not JSON", err).
			WithContext("reply", truncate(reply, 200))
	}
	return payloadFromMap(raw), nil
}

// ResolveAction implements Service.
func (s *ChatService) ResolveAction(ctx context.Context, req ResolveRequest) (string, error) {
	var list strings.Builder
	for _, a := range req.Actions {
		if a.Description != "" {
			fmt.Fprintf(&list, "- %s: %s\n", a.Name, a.Description)
		} else {
			fmt.Fprintf(&list, "- %s\n", a.Name)
		}
	}
	intent, _ := json.Marshal(req.Intent)
	reply, err := s.chat(ctx, "resolve", fmt.Sprintf(resolvePrompt, req.AgentKey, list.String()), string(intent), true)
	if err != nil {
		return "", err
	}
	var out struct {
		Action string `json:"action"`
	}
	if err := ExtractJSON(reply, &out); err == nil && out.Action != "" {
		return strings.TrimSpace(out.Action), nil
	}
	// Small models often answer with the bare name.
	return strings.Trim(strings.TrimSpace(reply), "`\"'."), nil
}

// Synthesize implements Service.
func (s *ChatService) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	results, err := json.Marshal(req.Tasks)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "encode tasks", err)
	}
	user := fmt.Sprintf("Request: %s\nIntent: %s\nTask results:\n%s", req.Message, req.Intent.Label, results)
	reply, err := s.chat(ctx, "synthesize", synthesizePrompt, user, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// ReviewPlan implements Reviewer.
func (s *ChatService) ReviewPlan(ctx context.Context, req ReviewRequest) (*Review, error) {
	body, err := json.Marshal(map[string]any{"intent": req.Intent, "tasks": req.Tasks})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode plan", err)
	}
	reply, err := s.chat(ctx, "review", reviewPrompt, string(body), true)
	if err != nil {
		return nil, err
	}
	var review Review
	if err := ExtractJSON(reply, &review); err != nil {
		return nil, errors.New(errors.CodeLLMError, "review reply is not JSON", err)
	}
	review.Verdict = Verdict(strings.ToLower(strings.TrimSpace(string(review.Verdict))))
	switch review.Verdict {
	case VerdictGreen, VerdictYellow, VerdictRed:
	default:
		return nil, errors.Newf(errors.CodeLLMError, "unknown review verdict %q", review.Verdict)
	}
	return &review, nil
}

func (s *ChatService) chat(ctx context.Context, op, system, user string, jsonMode bool) (string, error) {
	ctx, span := s.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.operation", op),
		attribute.String("llm.model", s.model),
	))
	defer span.End()

	resp, err := s.provider.Chat(ctx, ChatRequest{
		Model: s.model,
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Temperature: s.temperature,
		JSONMode:    jsonMode,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return "", errors.New(errors.CodeTimeout, "llm call cancelled", err)
		}
		return "", errors.New(errors.CodeLLMError, "llm call failed", err).
			WithAttribute("llm.operation", op)
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(s.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	return resp.Content, nil
}

func payloadFromMap(raw map[string]any) *IntentPayload {
	p := &IntentPayload{
		Label:    firstString(raw, "label", "intent"),
		Priority: firstString(raw, "priority"),
	}
	for _, key := range []string{"agent_keys", "agentKeys", "agents"} {
		if list, ok := raw[key].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok && s != "" {
					p.AgentKeys = append(p.AgentKeys, s)
				}
			}
			break
		}
	}
	if params, ok := raw["parameters"].(map[string]any); ok {
		p.Parameters = params
	} else if params, ok := raw["params"].(map[string]any); ok {
		p.Parameters = params
	}
	switch c := raw["confidence"].(type) {
	case float64:
		p.Confidence = &c
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(c), 64); err == nil {
			p.Confidence = &f
		}
	}
	return p
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ Service  = (*ChatService)(nil)
	_ Reviewer = (*ChatService)(nil)
)
