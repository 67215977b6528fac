// Package enginetest provides deterministic fakes for the language-model
// boundary and agent executors.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/llm"
	"github.com/jllopis/switchboard/pkg/registry"
)

// Classified builds an intent payload.
func Classified(label string, confidence float64, agents ...string) *llm.IntentPayload {
	return &llm.IntentPayload{
		Label:      label,
		AgentKeys:  agents,
		Parameters: map[string]any{},
		Confidence: &confidence,
	}
}

// FakeService is a scripted llm.Service and llm.Reviewer that captures calls.
type FakeService struct {
	mu sync.Mutex

	Intent      *llm.IntentPayload
	ClassifyErr error
	Actions     map[string]string // agent key -> chosen action
	ResolveErr  error
	Reply       string
	SynthErr    error
	Review      *llm.Review
	ReviewErr   error

	ClassifyCalls []llm.ClassifyRequest
	ResolveCalls  []llm.ResolveRequest
	SynthCalls    []llm.SynthesisRequest
	ReviewCalls   []llm.ReviewRequest
}

// ClassifyIntent implements llm.Service.
func (f *FakeService) ClassifyIntent(ctx context.Context, req llm.ClassifyRequest) (*llm.IntentPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ClassifyCalls = append(f.ClassifyCalls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ClassifyErr != nil {
		return nil, f.ClassifyErr
	}
	if f.Intent == nil {
		return nil, errors.New("enginetest: no intent scripted")
	}
	return f.Intent, nil
}

// ResolveAction implements llm.Service.
func (f *FakeService) ResolveAction(ctx context.Context, req llm.ResolveRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResolveCalls = append(f.ResolveCalls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.ResolveErr != nil {
		return "", f.ResolveErr
	}
	return f.Actions[req.AgentKey], nil
}

// Synthesize implements llm.Service.
func (f *FakeService) Synthesize(ctx context.Context, req llm.SynthesisRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SynthCalls = append(f.SynthCalls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.SynthErr != nil {
		return "", f.SynthErr
	}
	return f.Reply, nil
}

// ReviewPlan implements llm.Reviewer. Without a scripted verdict it is green.
func (f *FakeService) ReviewPlan(ctx context.Context, req llm.ReviewRequest) (*llm.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReviewCalls = append(f.ReviewCalls, req)
	if f.ReviewErr != nil {
		return nil, f.ReviewErr
	}
	if f.Review == nil {
		return &llm.Review{Verdict: llm.VerdictGreen, Score: 1}, nil
	}
	return f.Review, nil
}

// Calls returns the number of classify, resolve and synthesize calls.
func (f *FakeService) Calls() (classify, resolve, synth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ClassifyCalls), len(f.ResolveCalls), len(f.SynthCalls)
}

// Call is one recorded executor invocation.
type Call struct {
	Action string
	Params map[string]any
	Caller core.CallerContext
}

// RecordingExecutor is a registry.Executor with scripted results per action.
type RecordingExecutor struct {
	mu sync.Mutex

	Results map[string]any
	Errors  map[string]error
	Panics  map[string]any
	Delay   time.Duration
	// Hook, when set, runs instead of the scripted results.
	Hook func(ctx context.Context, action string, params map[string]any) (any, error)

	calls       []Call
	inFlight    int
	maxInFlight int
}

// Execute implements registry.Executor.
func (r *RecordingExecutor) Execute(ctx context.Context, action string, params map[string]any, caller core.CallerContext) (any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Action: action, Params: params, Caller: caller})
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	delay, hook := r.Delay, r.Hook
	result, err := r.Results[action], r.Errors[action]
	p, panics := r.Panics[action]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic(p)
	}
	if hook != nil {
		return hook(ctx, action, params)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Calls returns the recorded invocations in call order.
func (r *RecordingExecutor) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallCount returns how many times action was invoked. An empty action
// counts every call.
func (r *RecordingExecutor) CallCount(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if action == "" {
		return len(r.calls)
	}
	n := 0
	for _, c := range r.calls {
		if c.Action == action {
			n++
		}
	}
	return n
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (r *RecordingExecutor) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

// Descriptor builds a descriptor with parameterless actions.
func Descriptor(key string, ex registry.Executor, actions ...string) registry.Descriptor {
	specs := make([]registry.ActionSpec, 0, len(actions))
	for _, a := range actions {
		specs = append(specs, registry.ActionSpec{Name: a})
	}
	return registry.Descriptor{
		Key:         key,
		Name:        key,
		Description: key + " agent",
		Actions:     specs,
		Executor:    ex,
	}
}
