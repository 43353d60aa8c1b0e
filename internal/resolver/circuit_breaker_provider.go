package resolver

import (
	"context"
	"errors"
	"fmt"

	"stepgate/pkg/circuitbreaker"
)

type CircuitBreakerProvider struct {
	provider Provider
	cb       *circuitbreaker.Wrapper
	name     string
}

func NewCircuitBreakerProvider(provider Provider, cfg circuitbreaker.Config) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		provider: provider,
		cb:       circuitbreaker.NewWrapper(cfg),
		name:     cfg.Name,
	}
}

func (p *CircuitBreakerProvider) Fetch(ctx context.Context, req Request) (map[string]interface{}, error) {
	var notFound bool
	result, err := p.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		data, err := p.provider.Fetch(ctx, req)
		if errors.Is(err, ErrNotFound) {
			// a missing document is an answer, not a failure of the source
			notFound = true
			return nil, nil
		}
		return data, err
	})

	if notFound {
		return nil, ErrNotFound
	}
	if err != nil {
		if p.cb.IsOpen() {
			return nil, fmt.Errorf("circuit breaker is open for %s: %w", p.name, err)
		}
		return nil, err
	}

	data, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("provider returned invalid result type")
	}
	return data, nil
}

func (p *CircuitBreakerProvider) State() string {
	return p.cb.State().String()
}
