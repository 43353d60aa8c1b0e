package management

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "stepgate/pkg/errors"
	"stepgate/pkg/metrics"
	"stepgate/pkg/psqlbuilder"
)

const (
	stepFiltersTable = "step_filters"
	uniqueViolation  = "23505"
	serviceName      = "management-service"
)

var stepFilterColumns = []string{
	"id",
	"name",
	"description",
	"workflow_id",
	"step_id",
	"filters",
	"expression",
	"priority",
	"enabled",
	"on_error",
	"created_at",
	"updated_at",
}

type Repository interface {
	CreateStepFilter(ctx context.Context, rule *StepFilter) error
	ListStepFilters(ctx context.Context, query ListStepFiltersQuery) ([]StepFilter, error)
	GetStepFilter(ctx context.Context, id string) (*StepFilter, error)
	UpdateStepFilter(ctx context.Context, rule *StepFilter) error
	DeleteStepFilter(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) CreateStepFilter(ctx context.Context, rule *StepFilter) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := r.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query, args, err := psqlbuilder.Insert(stepFiltersTable).
		Columns(stepFilterColumns...).
		Values(
			rule.ID,
			rule.Name,
			rule.Description,
			rule.WorkflowID,
			rule.StepID,
			filtersValue(rule.Filters),
			rule.Expression,
			rule.Priority,
			rule.Enabled,
			rule.OnError,
			rule.CreatedAt,
			rule.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.exec(ctx, "insert_step_filter", query, args); err != nil {
		if conflict := conflictError(err, rule); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to create step filter: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetStepFilter(ctx context.Context, id string) (*StepFilter, error) {
	query, args, err := psqlbuilder.Select(stepFilterColumns...).
		From(stepFiltersTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	start := time.Now()
	row := r.db.QueryRowContext(ctx, query, args...)
	rule, err := scanStepFilter(row)
	metrics.ObserveDatabaseQueryDuration(serviceName, "postgresql", "select_step_filter", time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		metrics.IncDatabaseQuery(serviceName, "postgresql", "select_step_filter", "not_found")
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	if err != nil {
		metrics.IncDatabaseQuery(serviceName, "postgresql", "select_step_filter", "error")
		return nil, fmt.Errorf("failed to get step filter: %w", err)
	}
	metrics.IncDatabaseQuery(serviceName, "postgresql", "select_step_filter", "success")
	return rule, nil
}

func (r *PostgresRepository) ListStepFilters(ctx context.Context, q ListStepFiltersQuery) ([]StepFilter, error) {
	sb := psqlbuilder.Select(stepFilterColumns...).
		From(stepFiltersTable).
		OrderBy("priority DESC", "created_at ASC")
	if q.WorkflowID != "" {
		sb = sb.Where(squirrel.Eq{"workflow_id": q.WorkflowID})
	}
	if q.StepID != "" {
		sb = sb.Where(squirrel.Eq{"step_id": q.StepID})
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration(serviceName, "postgresql", "list_step_filters", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(serviceName, "postgresql", "list_step_filters", "error")
		return nil, fmt.Errorf("failed to list step filters: %w", err)
	}
	defer rows.Close()
	metrics.IncDatabaseQuery(serviceName, "postgresql", "list_step_filters", "success")

	rules := make([]StepFilter, 0)
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := scanStepFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step filter: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

func (r *PostgresRepository) UpdateStepFilter(ctx context.Context, rule *StepFilter) error {
	rule.UpdatedAt = r.now().UTC()

	query, args, err := psqlbuilder.Update(stepFiltersTable).
		SetMap(map[string]interface{}{
			"name":        rule.Name,
			"description": rule.Description,
			"workflow_id": rule.WorkflowID,
			"step_id":     rule.StepID,
			"filters":     filtersValue(rule.Filters),
			"expression":  rule.Expression,
			"priority":    rule.Priority,
			"enabled":     rule.Enabled,
			"on_error":    rule.OnError,
			"updated_at":  rule.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": rule.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.exec(ctx, "update_step_filter", query, args)
	if err != nil {
		if conflict := conflictError(err, rule); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to update step filter: %w", err)
	}
	return affectedOne(res, rule.ID)
}

func (r *PostgresRepository) DeleteStepFilter(ctx context.Context, id string) error {
	query, args, err := psqlbuilder.Delete(stepFiltersTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	res, err := r.exec(ctx, "delete_step_filter", query, args)
	if err != nil {
		return fmt.Errorf("failed to delete step filter: %w", err)
	}
	return affectedOne(res, id)
}

func (r *PostgresRepository) exec(ctx context.Context, operation, query string, args []interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := r.db.ExecContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration(serviceName, "postgresql", operation, time.Since(start))
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(serviceName, "postgresql", operation, status)
	return res, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStepFilter(row rowScanner) (*StepFilter, error) {
	var rule StepFilter
	var filters []byte
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.WorkflowID,
		&rule.StepID,
		&filters,
		&rule.Expression,
		&rule.Priority,
		&rule.Enabled,
		&rule.OnError,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Filters = filters
	return &rule, nil
}

func filtersValue(raw []byte) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

func affectedOne(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return nil
}

func conflictError(err error, rule *StepFilter) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	return pkgerrors.ErrConflict.WithCause(err).WithDetails(map[string]interface{}{
		"message":     fmt.Sprintf("step filter '%s' already exists for step '%s'", rule.Name, rule.StepID),
		"workflow_id": rule.WorkflowID,
		"step_id":     rule.StepID,
		"name":        rule.Name,
	})
}
