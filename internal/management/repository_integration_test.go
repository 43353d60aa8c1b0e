//go:build integration

package management

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/internal/testinfra"
	pkgerrors "stepgate/pkg/errors"
)

func TestPostgresRepositoryLifecycle(t *testing.T) {
	db := testinfra.Postgres(t)
	ctx := context.Background()
	repo := NewRepository(db)

	sf := &StepFilter{
		Name:       "vip-only",
		WorkflowID: "welcome",
		StepID:     "email",
		Filters:    json.RawMessage(`[{"isNegated":false,"type":"payload","value":{"field":"tier","operator":"EQUAL","expected":"vip"}}]`),
		Priority:   5,
		Enabled:    true,
		OnError:    "deny",
	}
	require.NoError(t, repo.CreateStepFilter(ctx, sf))
	require.NotEmpty(t, sf.ID)

	got, err := repo.GetStepFilter(ctx, sf.ID)
	require.NoError(t, err)
	assert.Equal(t, "vip-only", got.Name)
	assert.JSONEq(t, string(sf.Filters), string(got.Filters))

	dup := *sf
	dup.ID = ""
	err = repo.CreateStepFilter(ctx, &dup)
	assert.True(t, pkgerrors.IsConflict(err), "same name, workflow and step must conflict: %v", err)

	got.Enabled = false
	got.Priority = 9
	require.NoError(t, repo.UpdateStepFilter(ctx, got))

	listed, err := repo.ListStepFilters(ctx, ListStepFiltersQuery{WorkflowID: "welcome"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].Enabled)
	assert.Equal(t, 9, listed[0].Priority)

	require.NoError(t, repo.DeleteStepFilter(ctx, sf.ID))
	_, err = repo.GetStepFilter(ctx, sf.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, pkgerrors.IsNotFound(repo.DeleteStepFilter(ctx, sf.ID)))
}

func TestAuditLoggerRoundTrip(t *testing.T) {
	db := testinfra.Postgres(t)
	ctx := context.Background()
	audit := NewAuditLogger(db)

	require.NoError(t, audit.LogRuleChange(ctx, AuditLogEntry{
		RuleID:     "rule-1",
		WorkflowID: "welcome",
		StepID:     "email",
		Action:     "create",
		NewValue:   map[string]interface{}{"name": "vip-only"},
		ChangedBy:  "alice",
		IPAddress:  "10.0.0.1",
	}))
	require.NoError(t, audit.LogRuleChange(ctx, AuditLogEntry{
		RuleID:    "rule-1",
		Action:    "delete",
		OldValue:  map[string]interface{}{"name": "vip-only"},
		ChangedBy: "bob",
	}))

	logs, err := audit.GetAuditLogs(ctx, AuditQuery{RuleID: "rule-1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "delete", logs[0].Action)
	assert.Equal(t, "vip-only", logs[0].OldValue["name"])
	assert.Nil(t, logs[0].NewValue)
	assert.Equal(t, "10.0.0.1", logs[1].IPAddress)

	logs, err = audit.GetAuditLogs(ctx, AuditQuery{WorkflowID: "welcome", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
