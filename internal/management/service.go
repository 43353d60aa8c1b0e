package management

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"stepgate/internal/logger"
	"stepgate/pkg/cel"
	pkgerrors "stepgate/pkg/errors"
	"stepgate/pkg/filter"
	"stepgate/pkg/logging"
	"stepgate/pkg/metrics"
	"stepgate/pkg/models"
)

const defaultChangedBy = "system"

type clientIPKey struct{}

// WithClientIP records the caller address stored on audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

type service struct {
	repo      Repository
	audit     AuditRepository
	events    *ConfigEventProducer
	validator *Validator
	logger    logger.Logger
	now       func() time.Time
}

type ServiceOption func(*service)

func WithAudit(audit AuditRepository) ServiceOption {
	return func(s *service) {
		s.audit = audit
	}
}

func WithConfigEvents(events *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.events = events
	}
}

func WithLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}

func NewService(repo Repository, validator *Validator, opts ...ServiceOption) Service {
	s := &service{
		repo:      repo,
		validator: validator,
		logger:    logger.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateStepFilter(ctx context.Context, req CreateStepFilterRequest) (*StepFilter, error) {
	filters, err := s.validator.Create(req)
	if err != nil {
		return nil, err
	}

	rule := &StepFilter{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		WorkflowID:  strings.TrimSpace(req.WorkflowID),
		StepID:      strings.TrimSpace(req.StepID),
		Filters:     filters,
		Expression:  req.Expression,
		Priority:    req.Priority,
		Enabled:     enabledValue(req.Enabled),
		OnError:     strings.ToLower(req.OnError),
	}

	if err := s.repo.CreateStepFilter(ctx, rule); err != nil {
		return nil, repositoryError(err)
	}

	s.recordChange(ctx, models.ActionCreate, nil, rule)
	return rule, nil
}

func (s *service) ListStepFilters(ctx context.Context, query ListStepFiltersQuery) ([]StepFilter, error) {
	rules, err := s.repo.ListStepFilters(ctx, query)
	if err != nil {
		return nil, repositoryError(err)
	}
	return rules, nil
}

func (s *service) GetStepFilter(ctx context.Context, id string) (*StepFilter, error) {
	rule, err := s.repo.GetStepFilter(ctx, id)
	if err != nil {
		return nil, repositoryError(err)
	}
	return rule, nil
}

func (s *service) UpdateStepFilter(ctx context.Context, id string, req UpdateStepFilterRequest) (*StepFilter, error) {
	filters, err := s.validator.Update(req)
	if err != nil {
		return nil, err
	}

	rule, err := s.repo.GetStepFilter(ctx, id)
	if err != nil {
		return nil, repositoryError(err)
	}
	previous := *rule

	applyUpdate(rule, req, filters)

	if err := s.repo.UpdateStepFilter(ctx, rule); err != nil {
		return nil, repositoryError(err)
	}

	s.recordChange(ctx, models.ActionUpdate, &previous, rule)
	return rule, nil
}

func (s *service) DeleteStepFilter(ctx context.Context, id string) error {
	rule, err := s.repo.GetStepFilter(ctx, id)
	if err != nil {
		return repositoryError(err)
	}

	if err := s.repo.DeleteStepFilter(ctx, id); err != nil {
		return repositoryError(err)
	}

	s.recordChange(ctx, models.ActionDelete, rule, nil)
	return nil
}

func (s *service) GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLog, error) {
	if s.audit == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "audit logging not enabled")
	}
	logs, err := s.audit.GetAuditLogs(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

// DryRun evaluates the request's filters in order and stops at the first one
// that fails or errors, then evaluates the expression when every filter
// passed. Malformed input is returned as an error; evaluation failures are
// reported inside the response next to the explanation.
func (s *service) DryRun(ctx context.Context, req DryRunRequest) (*DryRunResponse, error) {
	nodes, _, err := s.validator.Filters(req.Filters)
	if err != nil {
		metrics.IncManagementDryRun("invalid")
		return nil, err
	}

	var program *cel.Program
	if strings.TrimSpace(req.Expression) != "" {
		if err := s.validator.Expression(req.Expression); err != nil {
			metrics.IncManagementDryRun("invalid")
			return nil, err
		}
		if program, err = s.validator.evaluator.CompileFilter(req.Expression); err != nil {
			metrics.IncManagementDryRun("invalid")
			return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("field", "expression")
		}
	}

	fc := req.Context.mapContext(s.now())
	resp := &DryRunResponse{Passed: true, Explanations: make([]*filter.Trace, 0, len(nodes))}

	for i, n := range nodes {
		trace, passed, err := filter.Explain(n, fc)
		resp.Explanations = append(resp.Explanations, trace)
		if err != nil {
			appErr := pkgerrors.FromFilterError(err)
			var typed *pkgerrors.Error
			if stderrors.As(appErr, &typed) {
				appErr = typed.WithDetail("filter", i)
			}
			return s.dryRunFailed(resp, appErr), nil
		}
		if !passed {
			resp.Passed = false
			metrics.IncManagementDryRun("filtered")
			return resp, nil
		}
	}

	if program != nil {
		msg := models.MessageEnvelope{
			WorkflowID: req.Context.WorkflowID,
			Timestamp:  fc.Now(),
			Payload:    fc.Payload,
		}
		result, err := program.Eval(ctx, cel.Variables(msg, fc))
		if err != nil {
			appErr := pkgerrors.ErrInvalidFieldReference.
				WithCause(err).
				WithDetails(map[string]interface{}{"path": "expression", "reason": err.Error()})
			return s.dryRunFailed(resp, appErr), nil
		}
		resp.Expression = &result
		resp.Passed = result
	}

	status := "passed"
	if !resp.Passed {
		status = "filtered"
	}
	metrics.IncManagementDryRun(status)
	return resp, nil
}

func (s *service) dryRunFailed(resp *DryRunResponse, err error) *DryRunResponse {
	metrics.IncManagementDryRun("error")
	resp.Passed = false
	resp.Error = pkgerrors.ToErrorResponse(err)
	return resp
}

func (c DryRunContext) mapContext(now time.Time) *filter.MapContext {
	clock := now
	if c.Now != nil {
		clock = *c.Now
	}
	payload := c.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &filter.MapContext{
		Payload:    payload,
		Subscriber: c.Subscriber,
		Tenant:     c.Tenant,
		Steps:      c.Steps,
		Webhooks:   c.Webhooks,
		Clock:      clock,
	}
}

// recordChange writes the audit entry and announces the change. Neither
// failure is returned: the rule change itself has already been committed.
func (s *service) recordChange(ctx context.Context, action string, before, after *StepFilter) {
	changedBy := changedByFrom(ctx)
	subject := after
	if subject == nil {
		subject = before
	}

	if s.audit != nil {
		entry := AuditLogEntry{
			RuleID:     subject.ID,
			WorkflowID: subject.WorkflowID,
			StepID:     subject.StepID,
			Action:     action,
			OldValue:   ruleToMap(before),
			NewValue:   ruleToMap(after),
			ChangedBy:  changedBy,
			IPAddress:  clientIP(ctx),
			Timestamp:  s.now().UTC(),
		}
		if err := s.audit.LogRuleChange(ctx, entry); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to write audit log",
				"error", err,
				"rule_id", subject.ID,
				"action", action,
			)
		}
	}

	if err := s.events.PublishStepFilterEvent(ctx, action, subject.ID, subject.WorkflowID, changedBy); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config event",
			"error", err,
			"rule_id", subject.ID,
			"action", action,
		)
	}
}

func applyUpdate(rule *StepFilter, req UpdateStepFilterRequest, filters json.RawMessage) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.WorkflowID != nil {
		rule.WorkflowID = strings.TrimSpace(*req.WorkflowID)
	}
	if req.StepID != nil {
		rule.StepID = strings.TrimSpace(*req.StepID)
	}
	if filters != nil {
		rule.Filters = filters
	}
	if req.Expression != nil {
		rule.Expression = *req.Expression
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.OnError != nil {
		rule.OnError = strings.ToLower(*req.OnError)
	}
}

func ruleToMap(rule *StepFilter) map[string]interface{} {
	if rule == nil {
		return nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func repositoryError(err error) error {
	var appErr *pkgerrors.Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func enabledValue(enabled *bool) bool {
	if enabled == nil {
		return true
	}
	return *enabled
}

func changedByFrom(ctx context.Context) string {
	if userID := logging.GetUserID(ctx); userID != "" {
		return userID
	}
	return defaultChangedBy
}
