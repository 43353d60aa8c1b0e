package filtering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"stepgate/pkg/metrics"
	"stepgate/pkg/psqlbuilder"
)

type Repository interface {
	GetActiveRules(ctx context.Context) ([]Rule, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetActiveRules(ctx context.Context) ([]Rule, error) {
	query, args, err := psqlbuilder.Select(
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
	).
		From("step_filters").
		Where(squirrel.Eq{"enabled": true}).
		OrderBy("priority DESC", "created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build rules query: %w", err)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration("filtering-service", "postgresql", "select_rules", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("filtering-service", "postgresql", "select_rules", "error")
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	metrics.IncDatabaseQuery("filtering-service", "postgresql", "select_rules", "success")

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var filters []byte
		if err := rows.Scan(
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
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Filters = filters
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}
