package management

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "stepgate/pkg/errors"
	"stepgate/pkg/logging"
	"stepgate/pkg/models"
)

type memoryRepository struct {
	mu    sync.Mutex
	rules map[string]StepFilter
	err   error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{rules: make(map[string]StepFilter)}
}

func (r *memoryRepository) CreateStepFilter(_ context.Context, rule *StepFilter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.rules {
		if existing.WorkflowID == rule.WorkflowID && existing.StepID == rule.StepID && existing.Name == rule.Name {
			return pkgerrors.ErrConflict.WithDetail("name", rule.Name)
		}
	}
	rule.ID = uuid.New().String()
	rule.CreatedAt = fixedNow
	rule.UpdatedAt = fixedNow
	r.rules[rule.ID] = *rule
	return nil
}

func (r *memoryRepository) ListStepFilters(_ context.Context, q ListStepFiltersQuery) ([]StepFilter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]StepFilter, 0, len(r.rules))
	for _, rule := range r.rules {
		if q.WorkflowID != "" && rule.WorkflowID != q.WorkflowID {
			continue
		}
		if q.StepID != "" && rule.StepID != q.StepID {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (r *memoryRepository) GetStepFilter(_ context.Context, id string) (*StepFilter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rule, ok := r.rules[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return &rule, nil
}

func (r *memoryRepository) UpdateStepFilter(_ context.Context, rule *StepFilter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; !ok {
		return pkgerrors.ErrNotFound.WithDetail("id", rule.ID)
	}
	rule.UpdatedAt = fixedNow.Add(time.Minute)
	r.rules[rule.ID] = *rule
	return nil
}

func (r *memoryRepository) DeleteStepFilter(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	delete(r.rules, id)
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []AuditLogEntry
	err     error
}

func (a *memoryAudit) LogRuleChange(_ context.Context, entry AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memoryAudit) GetAuditLogs(_ context.Context, q AuditQuery) ([]AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditLog, 0)
	for _, e := range a.entries {
		if q.RuleID != "" && e.RuleID != q.RuleID {
			continue
		}
		out = append(out, AuditLog{RuleID: e.RuleID, Action: e.Action, ChangedBy: e.ChangedBy})
	}
	return out, nil
}

type recordingProducer struct {
	mu       sync.Mutex
	messages []models.MessageEnvelope
	topics   []string
	err      error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type serviceFixture struct {
	svc      Service
	repo     *memoryRepository
	audit    *memoryAudit
	producer *recordingProducer
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	validator, err := NewValidator(0)
	require.NoError(t, err)

	f := serviceFixture{
		repo:     newMemoryRepository(),
		audit:    &memoryAudit{},
		producer: &recordingProducer{},
	}
	f.svc = NewService(f.repo, validator,
		WithAudit(f.audit),
		WithConfigEvents(NewConfigEventProducer(f.producer, "config_updates")),
		WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

const vipFilters = `[{"on":"payload","field":"tier","operator":"EQUAL","value":"vip"}]`

func TestServiceCreateStepFilter(t *testing.T) {
	f := newServiceFixture(t)
	ctx := logging.WithUserID(WithClientIP(context.Background(), "10.1.1.1"), "alice")

	rule, err := f.svc.CreateStepFilter(ctx, CreateStepFilterRequest{
		Name:       " vip-only ",
		WorkflowID: "welcome",
		StepID:     "email",
		Filters:    json.RawMessage(vipFilters),
		Expression: `payload.amount > 10.0`,
		OnError:    "DENY",
	})
	require.NoError(t, err)

	assert.Equal(t, "vip-only", rule.Name)
	assert.True(t, rule.Enabled)
	assert.Equal(t, "deny", rule.OnError)

	var stored []map[string]interface{}
	require.NoError(t, json.Unmarshal(rule.Filters, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "payload", stored[0]["type"])

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, models.ActionCreate, entry.Action)
	assert.Equal(t, "alice", entry.ChangedBy)
	assert.Equal(t, "10.1.1.1", entry.IPAddress)
	assert.Equal(t, "email", entry.StepID)

	require.Len(t, f.producer.messages, 1)
	assert.Equal(t, "config_updates", f.producer.topics[0])
	payload := f.producer.messages[0].Payload
	assert.Equal(t, models.EventTypeStepFilterUpdated, payload["event_type"])
	assert.Equal(t, models.ServiceTypeFiltering, payload["service_type"])
	assert.Equal(t, rule.ID, payload["rule_id"])
	assert.Equal(t, "welcome", payload["workflow_id"])
}

func TestServiceCreateStepFilterValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateStepFilterRequest
		code string
	}{
		{
			name: "missing step",
			req:  CreateStepFilterRequest{Name: "a"},
			code: pkgerrors.ErrValidation.Code,
		},
		{
			name: "bad on_error",
			req:  CreateStepFilterRequest{Name: "a", StepID: "s", OnError: "ignore"},
			code: pkgerrors.ErrValidation.Code,
		},
		{
			name: "non boolean expression",
			req:  CreateStepFilterRequest{Name: "a", StepID: "s", Expression: `payload.amount`},
			code: pkgerrors.ErrValidation.Code,
		},
		{
			name: "malformed filter",
			req:  CreateStepFilterRequest{Name: "a", StepID: "s", Filters: json.RawMessage(`[{"type":"GROUP","value":"XOR"}]`)},
			code: pkgerrors.ErrMalformedFilter.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			_, err := f.svc.CreateStepFilter(context.Background(), tt.req)
			require.Error(t, err)

			var appErr *pkgerrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
			assert.Empty(t, f.audit.entries)
			assert.Empty(t, f.producer.messages)
		})
	}
}

func TestServiceCreateStepFilterConflict(t *testing.T) {
	f := newServiceFixture(t)
	req := CreateStepFilterRequest{Name: "a", StepID: "s"}

	_, err := f.svc.CreateStepFilter(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.CreateStepFilter(context.Background(), req)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestServiceUpdateStepFilter(t *testing.T) {
	f := newServiceFixture(t)
	rule, err := f.svc.CreateStepFilter(context.Background(), CreateStepFilterRequest{
		Name:    "a",
		StepID:  "s",
		Filters: json.RawMessage(vipFilters),
	})
	require.NoError(t, err)

	disabled := false
	priority := 7
	updated, err := f.svc.UpdateStepFilter(context.Background(), rule.ID, UpdateStepFilterRequest{
		Enabled:  &disabled,
		Priority: &priority,
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 7, updated.Priority)
	assert.JSONEq(t, string(rule.Filters), string(updated.Filters))

	require.Len(t, f.audit.entries, 2)
	entry := f.audit.entries[1]
	assert.Equal(t, models.ActionUpdate, entry.Action)
	assert.Equal(t, "system", entry.ChangedBy)
	assert.Equal(t, true, entry.OldValue.(map[string]interface{})["enabled"])
	assert.Equal(t, false, entry.NewValue.(map[string]interface{})["enabled"])
	assert.Len(t, f.producer.messages, 2)
}

func TestServiceUpdateStepFilterNotFound(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.UpdateStepFilter(context.Background(), "missing", UpdateStepFilterRequest{})
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Empty(t, f.producer.messages)
}

func TestServiceDeleteStepFilter(t *testing.T) {
	f := newServiceFixture(t)
	rule, err := f.svc.CreateStepFilter(context.Background(), CreateStepFilterRequest{Name: "a", StepID: "s", WorkflowID: "w"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteStepFilter(context.Background(), rule.ID))
	_, err = f.svc.GetStepFilter(context.Background(), rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, models.ActionDelete, f.audit.entries[1].Action)
	assert.Equal(t, "w", f.audit.entries[1].WorkflowID)

	last := f.producer.messages[len(f.producer.messages)-1]
	assert.Equal(t, models.ActionDelete, last.Payload["action"])
}

func TestServiceSideEffectFailuresDoNotFailRequest(t *testing.T) {
	f := newServiceFixture(t)
	f.audit.err = errors.New("audit down")
	f.producer.err = errors.New("kafka down")

	_, err := f.svc.CreateStepFilter(context.Background(), CreateStepFilterRequest{Name: "a", StepID: "s"})
	assert.NoError(t, err)
}

func TestServiceRepositoryErrorsAreInternal(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.err = errors.New("connection refused")

	_, err := f.svc.ListStepFilters(context.Background(), ListStepFiltersQuery{})
	require.Error(t, err)
	var appErr *pkgerrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, pkgerrors.ErrInternal.Code, appErr.Code)
}

func TestServiceGetAuditLogsWithoutAudit(t *testing.T) {
	validator, err := NewValidator(0)
	require.NoError(t, err)
	svc := NewService(newMemoryRepository(), validator)

	_, err = svc.GetAuditLogs(context.Background(), AuditQuery{})
	assert.Error(t, err)

	// no config producer configured
	_, err = svc.CreateStepFilter(context.Background(), CreateStepFilterRequest{Name: "a", StepID: "s"})
	assert.NoError(t, err)
}

func TestServiceDryRun(t *testing.T) {
	now := fixedNow
	tests := []struct {
		name       string
		req        DryRunRequest
		passed     bool
		traces     int
		errorCode  string
		expression *bool
	}{
		{
			name: "passes",
			req: DryRunRequest{
				Filters: json.RawMessage(vipFilters),
				Context: DryRunContext{Payload: map[string]interface{}{"tier": "vip"}},
			},
			passed: true,
			traces: 1,
		},
		{
			name: "second filter fails and stops",
			req: DryRunRequest{
				Filters: json.RawMessage(`[
					{"on":"payload","field":"tier","operator":"EQUAL","value":"vip"},
					{"on":"payload","field":"tier","operator":"EQUAL","value":"gold"},
					{"on":"payload","field":"missing","operator":"EQUAL","value":1}
				]`),
				Context: DryRunContext{Payload: map[string]interface{}{"tier": "vip"}},
			},
			passed: false,
			traces: 2,
		},
		{
			name: "missing field reports typed error",
			req: DryRunRequest{
				Filters: json.RawMessage(`[{"on":"payload","field":"amount","operator":"LARGER","value":5}]`),
				Context: DryRunContext{Payload: map[string]interface{}{}},
			},
			passed:    false,
			traces:    1,
			errorCode: pkgerrors.ErrInvalidFieldReference.Code,
		},
		{
			name: "expression evaluated after filters",
			req: DryRunRequest{
				Filters:    json.RawMessage(vipFilters),
				Expression: `payload.amount > 100.0`,
				Context:    DryRunContext{Payload: map[string]interface{}{"tier": "vip", "amount": 50.0}},
			},
			passed:     false,
			traces:     1,
			expression: boolPtr(false),
		},
		{
			name: "expression error",
			req: DryRunRequest{
				Expression: `payload.amount > 100.0`,
				Context:    DryRunContext{Now: &now},
			},
			passed:    false,
			errorCode: pkgerrors.ErrInvalidFieldReference.Code,
		},
		{
			name:   "no filters passes",
			req:    DryRunRequest{},
			passed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			resp, err := f.svc.DryRun(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.passed, resp.Passed)
			assert.Len(t, resp.Explanations, tt.traces)
			if tt.errorCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.errorCode, resp.Error["error_code"])
			} else {
				assert.Nil(t, resp.Error)
			}
			if tt.expression != nil {
				require.NotNil(t, resp.Expression)
				assert.Equal(t, *tt.expression, *resp.Expression)
			}
		})
	}
}

func TestServiceDryRunRejectsMalformedInput(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.DryRun(context.Background(), DryRunRequest{Filters: json.RawMessage(`{"type":"PAYLOAD"}`)})
	assert.True(t, pkgerrors.IsFilterError(err))

	_, err = f.svc.DryRun(context.Background(), DryRunRequest{Expression: `payload.amount`})
	assert.True(t, pkgerrors.IsValidation(err))
}

func boolPtr(b bool) *bool { return &b }
