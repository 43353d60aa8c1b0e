package management

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "stepgate/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func stepFilterRows() *sqlmock.Rows {
	return sqlmock.NewRows(stepFilterColumns)
}

func TestCreateStepFilter(t *testing.T) {
	repo, mock := newMockRepository(t)

	rule := &StepFilter{
		Name:    "only-vip",
		StepID:  "email",
		Filters: []byte(`[{"type":"GROUP","value":"AND","children":[]}]`),
		Enabled: true,
	}

	mock.ExpectExec(`INSERT INTO step_filters \(id,name,description,workflow_id,step_id,filters`).
		WithArgs(sqlmock.AnyArg(), "only-vip", "", "", "email", string(rule.Filters), "", 0, true, "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateStepFilter(context.Background(), rule))
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, fixedNow, rule.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStepFilterConflict(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO step_filters`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.CreateStepFilter(context.Background(), &StepFilter{Name: "dup", StepID: "sms"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	var appErr *pkgerrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "sms", appErr.Details["step_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStepFilterDefaultsEmptyFilters(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO step_filters`).
		WithArgs(sqlmock.AnyArg(), "n", "", "", "s", "[]", "", 0, false, "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateStepFilter(context.Background(), &StepFilter{Name: "n", StepID: "s"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStepFilter(t *testing.T) {
	repo, mock := newMockRepository(t)

	created := fixedNow.Add(-time.Hour)
	mock.ExpectQuery(`SELECT id, name, description, workflow_id, step_id, filters, expression, priority, enabled, on_error, created_at, updated_at FROM step_filters WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(stepFilterRows().AddRow(
			"r1", "only-vip", "desc", "welcome", "email", []byte(`[]`), `payload.vip == true`, 5, true, "deny", created, fixedNow,
		))

	rule, err := repo.GetStepFilter(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "welcome", rule.WorkflowID)
	assert.Equal(t, "deny", rule.OnError)
	assert.JSONEq(t, `[]`, string(rule.Filters))
	assert.Equal(t, 5, rule.Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStepFilterNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`FROM step_filters WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetStepFilter(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStepFiltersFiltersByWorkflowAndStep(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`FROM step_filters WHERE workflow_id = \$1 AND step_id = \$2 ORDER BY priority DESC, created_at ASC`).
		WithArgs("welcome", "email").
		WillReturnRows(stepFilterRows().
			AddRow("r1", "a", "", "welcome", "email", []byte(`[]`), "", 10, true, "", fixedNow, fixedNow).
			AddRow("r2", "b", "", "welcome", "email", []byte(`[]`), "", 1, false, "", fixedNow, fixedNow))

	rules, err := repo.ListStepFilters(context.Background(), ListStepFiltersQuery{WorkflowID: "welcome", StepID: "email"})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.False(t, rules[1].Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStepFiltersEmpty(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`FROM step_filters ORDER BY`).WillReturnRows(stepFilterRows())

	rules, err := repo.ListStepFilters(context.Background(), ListStepFiltersQuery{})
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStepFilter(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE step_filters SET .* WHERE id = \$11`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rule := &StepFilter{ID: "r1", Name: "a", StepID: "email"}
	require.NoError(t, repo.UpdateStepFilter(context.Background(), rule))
	assert.Equal(t, fixedNow, rule.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStepFilterNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE step_filters`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStepFilter(context.Background(), &StepFilter{ID: "gone"})
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStepFilter(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`DELETE FROM step_filters WHERE id = \$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM step_filters WHERE id = \$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteStepFilter(context.Background(), "r1"))
	assert.True(t, pkgerrors.IsNotFound(repo.DeleteStepFilter(context.Background(), "r1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLoggerRoundTripSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	audit := NewAuditLogger(db)
	audit.now = func() time.Time { return fixedNow }

	mock.ExpectExec(`INSERT INTO rule_audit_logs`).
		WithArgs(sqlmock.AnyArg(), "r1", "welcome", "email", "update", "alice", nil, "10.0.0.1",
			`{"name":"old"}`, `{"name":"new"}`, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, audit.LogRuleChange(context.Background(), AuditLogEntry{
		RuleID:     "r1",
		WorkflowID: "welcome",
		StepID:     "email",
		Action:     "update",
		OldValue:   map[string]interface{}{"name": "old"},
		NewValue:   map[string]interface{}{"name": "new"},
		ChangedBy:  "alice",
		IPAddress:  "10.0.0.1",
	}))

	mock.ExpectQuery(`FROM rule_audit_logs WHERE rule_id = \$1 ORDER BY created_at DESC LIMIT 5`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rule_id", "workflow_id", "step_id", "action", "changed_by",
			"change_reason", "ip_address", "old_value", "new_value", "created_at",
		}).AddRow("a1", "r1", "welcome", "email", "delete", "alice", "", "", []byte(`{"name":"new"}`), nil, fixedNow))

	logs, err := audit.GetAuditLogs(context.Background(), AuditQuery{RuleID: "r1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "delete", logs[0].Action)
	assert.Equal(t, "new", logs[0].OldValue["name"])
	assert.Nil(t, logs[0].NewValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}
