package llm

import (
	"context"

	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/resilience"
)

// ResilientProvider retries transient provider failures behind a circuit
// breaker. Retries live here, below the classifier and synthesizer, which
// each issue a single logical call.
type ResilientProvider struct {
	next    Provider
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewResilient wraps next. A nil breaker disables circuit breaking.
func NewResilient(next Provider, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *ResilientProvider {
	if retry.IsRecoverable == nil {
		retry.IsRecoverable = isTransient
	}
	return &ResilientProvider{next: next, retry: retry, breaker: breaker}
}

// Chat implements Provider.
func (p *ResilientProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := p.retry.Do(ctx, func() error {
		call := func() error {
			r, err := p.next.Chat(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		}
		if p.breaker == nil {
			return call()
		}
		return p.breaker.Call(ctx, call)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (p *ResilientProvider) Breaker() *resilience.CircuitBreaker {
	return p.breaker
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	switch errors.CodeOf(err) {
	case errors.CodeTimeout, errors.CodeInvalidInput, errors.CodeUnauthorized:
		return false
	case errors.CodeInternal:
		return true
	}
	return errors.IsRecoverable(err)
}
