package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/internal/config"
	"stepgate/pkg/circuitbreaker"
)

func TestCircuitBreakerProviderNotFoundIsNotFailure(t *testing.T) {
	calls := 0
	inner := ProviderFunc(func(ctx context.Context, req Request) (map[string]interface{}, error) {
		calls++
		return nil, ErrNotFound
	})
	p := NewCircuitBreakerProvider(inner, circuitbreaker.DefaultConfig("subscriber-not-found"))

	for i := 0; i < 5; i++ {
		_, err := p.Fetch(context.Background(), Request{Key: "sub-1"})
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, "closed", p.State())
}

func TestCircuitBreakerProviderOpens(t *testing.T) {
	inner := ProviderFunc(func(ctx context.Context, req Request) (map[string]interface{}, error) {
		return nil, errors.New("timeout")
	})
	p := NewCircuitBreakerProvider(inner, circuitbreaker.DefaultConfig("webhook-open"))

	for i := 0; i < 3; i++ {
		_, _ = p.Fetch(context.Background(), Request{Key: "https://a"})
	}

	_, err := p.Fetch(context.Background(), Request{Key: "https://a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, "open", p.State())
}

func TestBreakerConfig(t *testing.T) {
	cb := BreakerConfig("api", config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  5,
		Timeout:      10 * time.Second,
		FailureRatio: 0.9,
	})
	assert.Equal(t, "api", cb.Name)
	assert.Equal(t, uint32(5), cb.MaxRequests)
	assert.Equal(t, 10*time.Second, cb.Timeout)
	assert.Equal(t, 60*time.Second, cb.Interval)
}
