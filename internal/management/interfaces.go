package management

import (
	"context"
)

type Service interface {
	CreateStepFilter(ctx context.Context, req CreateStepFilterRequest) (*StepFilter, error)
	ListStepFilters(ctx context.Context, query ListStepFiltersQuery) ([]StepFilter, error)
	GetStepFilter(ctx context.Context, id string) (*StepFilter, error)
	UpdateStepFilter(ctx context.Context, id string, req UpdateStepFilterRequest) (*StepFilter, error)
	DeleteStepFilter(ctx context.Context, id string) error
	DryRun(ctx context.Context, req DryRunRequest) (*DryRunResponse, error)
	GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLog, error)
}
