package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"stepgate/internal/constants"
	"stepgate/pkg/metrics"
	"stepgate/pkg/psqlbuilder"
)

const auditTable = "rule_audit_logs"

type AuditRepository interface {
	LogRuleChange(ctx context.Context, entry AuditLogEntry) error
	GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLog, error)
}

type AuditLogger struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

type AuditLogEntry struct {
	ID           string
	RuleID       string
	WorkflowID   string
	StepID       string
	Action       string
	OldValue     interface{}
	NewValue     interface{}
	ChangedBy    string
	ChangeReason string
	IPAddress    string
	Timestamp    time.Time
}

func (a *AuditLogger) LogRuleChange(ctx context.Context, entry AuditLogEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = a.now().UTC()
	}

	query, args, err := psqlbuilder.Insert(auditTable).
		Columns(
			"id",
			"rule_id",
			"workflow_id",
			"step_id",
			"action",
			"changed_by",
			"change_reason",
			"ip_address",
			"old_value",
			"new_value",
			"created_at",
		).
		Values(
			id,
			entry.RuleID,
			entry.WorkflowID,
			entry.StepID,
			entry.Action,
			entry.ChangedBy,
			nullString(entry.ChangeReason),
			nullString(entry.IPAddress),
			jsonValue(entry.OldValue),
			jsonValue(entry.NewValue),
			timestamp,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build audit insert: %w", err)
	}

	start := time.Now()
	_, err = a.db.ExecContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration(serviceName, "postgresql", "insert_audit_log", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(serviceName, "postgresql", "insert_audit_log", "error")
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	metrics.IncDatabaseQuery(serviceName, "postgresql", "insert_audit_log", "success")
	return nil
}

func (a *AuditLogger) GetAuditLogs(ctx context.Context, q AuditQuery) ([]AuditLog, error) {
	limit := q.Limit
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	sb := psqlbuilder.Select(
		"id",
		"rule_id",
		"workflow_id",
		"step_id",
		"action",
		"changed_by",
		"COALESCE(change_reason, '')",
		"COALESCE(ip_address, '')",
		"old_value",
		"new_value",
		"created_at",
	).
		From(auditTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if q.RuleID != "" {
		sb = sb.Where(squirrel.Eq{"rule_id": q.RuleID})
	}
	if q.WorkflowID != "" {
		sb = sb.Where(squirrel.Eq{"workflow_id": q.WorkflowID})
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}

	start := time.Now()
	rows, err := a.db.QueryContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration(serviceName, "postgresql", "select_audit_logs", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(serviceName, "postgresql", "select_audit_logs", "error")
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()
	metrics.IncDatabaseQuery(serviceName, "postgresql", "select_audit_logs", "success")

	logs := make([]AuditLog, 0)
	for rows.Next() {
		var entry AuditLog
		var oldValue, newValue []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.RuleID,
			&entry.WorkflowID,
			&entry.StepID,
			&entry.Action,
			&entry.ChangedBy,
			&entry.ChangeReason,
			&entry.IPAddress,
			&oldValue,
			&newValue,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if entry.OldValue, err = decodeAuditValue(oldValue); err != nil {
			return nil, err
		}
		if entry.NewValue, err = decodeAuditValue(newValue); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return logs, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func jsonValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	return string(data)
}

func decodeAuditValue(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode audit value: %w", err)
	}
	return out, nil
}
