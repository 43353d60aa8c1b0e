package cel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/pkg/filter"
	"stepgate/pkg/models"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid bool expression",
			expr:      `payload.status == "active"`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `payload.amount`,
			wantError: true,
		},
		{
			name:      "string expression",
			expr:      `workflow_id + "-x"`,
			wantError: true,
		},
		{
			name:      "syntax error",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `source == "api"`,
			wantError: true,
		},
		{
			name:      "valid step expression",
			expr:      `has(steps.email) && steps.email.read == true`,
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateFilterExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterExpressionExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range FilterExpressionExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateFilterExpression(expr))
		})
	}
}

func TestEvaluateFilter(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := models.MessageEnvelope{
		ID:         "evt-1",
		WorkflowID: "order-shipped",
		Timestamp:  now,
		Payload: map[string]interface{}{
			"status": "active",
			"amount": 150.0,
		},
		Subscriber: models.Subscriber{SubscriberID: "sub-1", Email: "user@example.com", Locale: "en"},
	}
	fc := &filter.MapContext{
		Payload:    msg.Payload,
		Subscriber: map[string]interface{}{"email": "user@example.com", "locale": "en", "lastOnlineAt": now.Add(-10 * time.Minute)},
		Tenant:     map[string]interface{}{"plan": "team"},
		Steps:      map[string]map[string]interface{}{"email": {"read": false, "seen": true}},
		Clock:      now,
	}

	tests := []struct {
		name      string
		expr      string
		want      bool
		wantError bool
	}{
		{name: "payload equality", expr: `payload.status == "active"`, want: true},
		{name: "payload numeric", expr: `payload.amount > 200.0`, want: false},
		{name: "subscriber suffix", expr: FilterExpressionExamples["string_contains"], want: true},
		{name: "tenant plan", expr: FilterExpressionExamples["tenant"], want: true},
		{name: "previous step unread", expr: FilterExpressionExamples["previous_step"], want: true},
		{name: "recently online", expr: FilterExpressionExamples["recently_online"], want: true},
		{name: "workflow id", expr: FilterExpressionExamples["workflow"], want: true},
		{name: "missing key", expr: `payload.missing == "x"`, wantError: true},
		{name: "compile error", expr: `payload.status ==`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateFilter(ctx, tt.expr, msg, fc)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFilterWithoutContext(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	msg := models.MessageEnvelope{
		ID:         "evt-1",
		WorkflowID: "welcome",
		Timestamp:  time.Now(),
		Payload:    map[string]interface{}{"plan": "pro"},
		Subscriber: models.Subscriber{SubscriberID: "sub-1", Locale: "de"},
	}

	got, err := eval.EvaluateFilter(context.Background(), `payload.plan == "pro" && subscriber.locale == "de"`, msg, nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestProgramEvalErrors(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.CompileFilter(`payload.count > 1`)
	require.NoError(t, err)
	assert.Equal(t, `payload.count > 1`, program.String())

	_, err = program.Eval(context.Background(), Variables(models.MessageEnvelope{}, &filter.MapContext{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluation))
}

func TestProgramConcurrentEval(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.CompileFilter(`payload.n % 2 == 0`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			fc := &filter.MapContext{Payload: map[string]interface{}{"n": n}}
			got, err := program.Eval(context.Background(), Variables(models.MessageEnvelope{}, fc))
			assert.NoError(t, err)
			assert.Equal(t, n%2 == 0, got)
		}(i)
	}
	wg.Wait()
}
