package filtering

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"stepgate/internal/config"
	"stepgate/internal/constants"
	"stepgate/internal/logger"
	"stepgate/internal/resolver"
	"stepgate/pkg/cel"
	"stepgate/pkg/errors"
	"stepgate/pkg/filter"
	"stepgate/pkg/metrics"
	"stepgate/pkg/models"
	"stepgate/pkg/tracing"
)

const tracerName = "filtering-service"

// ContextBuilder resolves everything the given trees may read for msg.
type ContextBuilder interface {
	BuildContext(ctx context.Context, msg models.MessageEnvelope, nodes []filter.Node) (*filter.MapContext, error)
}

type Service struct {
	repo            Repository
	resolver        ContextBuilder
	rules           []compiledRule
	rulesMu         sync.RWMutex
	filteringConfig config.FilteringConfig
	evaluator       *cel.Evaluator
	logger          logger.Logger
}

// NewService creates the step filter service. A nil builder evaluates
// against the envelope alone.
func NewService(repo Repository, builder ContextBuilder, cfg config.FilteringConfig, log logger.Logger) (*Service, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Service{
		repo:            repo,
		resolver:        builder,
		filteringConfig: cfg,
		rules:           make([]compiledRule, 0),
		evaluator:       evaluator,
		logger:          log,
	}, nil
}

// Process evaluates every rule that applies to msg and returns the envelope
// with its step decisions attached.
func (s *Service) Process(ctx context.Context, msg models.MessageEnvelope) (models.MessageEnvelope, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "filtering.process")
	defer span.End()

	start := time.Now()
	if err := models.ValidateMessageEnvelope(&msg); err != nil {
		s.recordMetrics(time.Since(start), "invalid")
		return msg, errors.ErrValidation.WithCause(err).WithDetail("message_id", msg.ID)
	}

	decisions, err := s.Evaluate(ctx, msg)
	if err != nil {
		tracing.RecordError(span, err)
		s.recordMetrics(time.Since(start), "error")
		return msg, err
	}

	evaluatedAt := time.Now().UTC()
	msg.Metadata.EvaluatedAt = &evaluatedAt
	msg.Metadata.StepDecisions = decisions

	status := "passed"
	for _, d := range decisions {
		if !d.Passed {
			status = "filtered"
			break
		}
	}
	s.recordMetrics(time.Since(start), status)

	return msg, nil
}

// Evaluate decides every rule registered for the workflow of msg, in rule
// priority order.
func (s *Service) Evaluate(ctx context.Context, msg models.MessageEnvelope) ([]models.StepDecision, error) {
	rules := s.rulesFor(msg.WorkflowID)
	if len(rules) == 0 {
		return nil, nil
	}

	fc, err := s.buildContext(ctx, msg, rules)
	if err != nil {
		return nil, err
	}

	decisions := make([]models.StepDecision, 0, len(rules))
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := s.evaluateRule(ctx, rule, msg, fc)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}

	return decisions, nil
}

func (s *Service) buildContext(ctx context.Context, msg models.MessageEnvelope, rules []compiledRule) (*filter.MapContext, error) {
	if s.resolver == nil {
		return resolver.FromEnvelope(msg, time.Now()), nil
	}

	var nodes []filter.Node
	for _, rule := range rules {
		nodes = append(nodes, rule.filters...)
	}
	return s.resolver.BuildContext(ctx, msg, nodes)
}

func (s *Service) evaluateRule(ctx context.Context, rule compiledRule, msg models.MessageEnvelope, fc *filter.MapContext) (models.StepDecision, error) {
	decision := models.StepDecision{
		StepID: rule.StepID,
		RuleID: rule.ID,
	}

	passed, err := s.match(ctx, rule, msg, fc)
	if err == nil {
		decision.Passed = passed
		decision.Reason = models.DecisionNotMatched
		if passed {
			decision.Reason = models.DecisionMatched
		}
		metrics.IncFilteringRuleEvaluation(rule.ID, rule.StepID, decision.Reason)
		s.logger.DebugwCtx(ctx, "Rule evaluated",
			"rule_id", rule.ID,
			"step_id", rule.StepID,
			"passed", passed,
		)
		return decision, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return decision, ctxErr
	}

	appErr := evaluationError(err).
		WithDetail("rule_id", rule.ID).
		WithDetail("step_id", rule.StepID)
	metrics.IncFilteringEvaluationError(appErr.Code)
	decision.ErrorCode = appErr.Code

	switch s.fallbackFor(rule) {
	case constants.FallbackAllow:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "allow_on_error", "evaluation_error").Inc()
		s.logger.WarnwCtx(ctx, "Evaluation error, step passes (fallback: allow)",
			"rule_id", rule.ID,
			"step_id", rule.StepID,
			"error", err,
		)
		decision.Passed = true
		decision.Reason = models.DecisionFallbackAllow
	case constants.FallbackDeny:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "deny_on_error", "evaluation_error").Inc()
		s.logger.WarnwCtx(ctx, "Evaluation error, step filtered (fallback: deny)",
			"rule_id", rule.ID,
			"step_id", rule.StepID,
			"error", err,
		)
		decision.Reason = models.DecisionFallbackDeny
	default:
		s.logger.ErrorwCtx(ctx, "Rule evaluation error",
			"rule_id", rule.ID,
			"step_id", rule.StepID,
			"error", err,
		)
		return decision, appErr
	}

	metrics.IncFilteringRuleEvaluation(rule.ID, rule.StepID, decision.Reason)
	return decision, nil
}

// match ANDs the rule's filters in order, then its expression.
func (s *Service) match(ctx context.Context, rule compiledRule, msg models.MessageEnvelope, fc *filter.MapContext) (bool, error) {
	for i, node := range rule.filters {
		passed, err := filter.Evaluate(node, fc)
		if err != nil {
			return false, &filterIndexError{index: i, err: err}
		}
		if !passed {
			return false, nil
		}
	}

	if rule.program == nil {
		return true, nil
	}
	return rule.program.Eval(ctx, cel.Variables(msg, fc))
}

type filterIndexError struct {
	index int
	err   error
}

func (e *filterIndexError) Error() string {
	return fmt.Sprintf("filters[%d]: %v", e.index, e.err)
}

func (e *filterIndexError) Unwrap() error {
	return e.err
}

func evaluationError(err error) *errors.Error {
	var appErr *errors.Error
	if stderrors.As(errors.FromFilterError(err), &appErr) {
		var idx *filterIndexError
		if stderrors.As(err, &idx) {
			appErr = appErr.WithDetail("filter", idx.index)
		}
		return appErr
	}
	if stderrors.Is(err, cel.ErrEvaluation) {
		return errors.ErrInvalidFieldReference.
			WithCause(err).
			WithDetails(map[string]interface{}{"path": "expression", "reason": err.Error()}).
			AsFatal()
	}
	return errors.ErrInternal.WithCause(err)
}

func (s *Service) fallbackFor(rule compiledRule) string {
	if policy := normalizeFallback(rule.OnError); policy != "" {
		return policy
	}
	if policy := normalizeFallback(s.filteringConfig.Fallback.OnError); policy != "" {
		return policy
	}
	return constants.FallbackError
}

func normalizeFallback(policy string) string {
	switch p := strings.ToLower(strings.TrimSpace(policy)); p {
	case constants.FallbackAllow, constants.FallbackDeny, constants.FallbackError:
		return p
	}
	return ""
}

func (s *Service) rulesFor(workflowID string) []compiledRule {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()

	rules := make([]compiledRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.appliesTo(workflowID) {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (s *Service) recordMetrics(duration time.Duration, status string) {
	metrics.FilteringMessagesTotal.WithLabelValues(status).Inc()
	metrics.ObserveFilteringDuration(duration, status)
}

// ReloadRules reloads after a random jitter so that instances receiving the
// same config event do not hit the database together.
func (s *Service) ReloadRules(ctx context.Context) error {
	if err := s.applyJitter(ctx); err != nil {
		return err
	}
	return s.LoadRules(ctx)
}

// LoadRules replaces the rule cache with the enabled rules in storage.
// Rules that fail to decode or compile are logged and skipped.
func (s *Service) LoadRules(ctx context.Context) error {
	s.logger.DebugwCtx(ctx, "Loading rules from database")
	rules, err := s.repo.GetActiveRules(ctx)
	if err != nil {
		return err
	}

	compiled := make([]compiledRule, 0, len(rules))
	invalid := 0
	for _, rule := range rules {
		cr, err := s.compile(rule)
		if err != nil {
			invalid++
			s.logger.WarnwCtx(ctx, "Skipping invalid step filter rule",
				"rule_id", rule.ID,
				"step_id", rule.StepID,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, cr)
	}

	s.rulesMu.Lock()
	s.rules = compiled
	s.rulesMu.Unlock()

	metrics.SetFilteringActiveRules(len(compiled))
	metrics.SetFilteringInvalidRules(invalid)
	s.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", len(compiled),
		"invalid_count", invalid,
	)
	return nil
}

func (s *Service) compile(rule Rule) (compiledRule, error) {
	if rule.StepID == "" {
		return compiledRule{}, fmt.Errorf("rule has no step_id")
	}

	nodes, err := filter.DecodeList(rule.Filters)
	if err != nil {
		return compiledRule{}, err
	}

	limit := s.filteringConfig.MaxDepth
	if limit <= 0 || limit > filter.MaxDepth {
		limit = filter.MaxDepth
	}
	for i, n := range nodes {
		if d := filter.Depth(n); d > limit {
			return compiledRule{}, fmt.Errorf("filters[%d]: depth %d exceeds limit %d", i, d, limit)
		}
	}

	cr := compiledRule{Rule: rule, filters: nodes}
	if strings.TrimSpace(rule.Expression) != "" {
		program, err := s.evaluator.CompileFilter(rule.Expression)
		if err != nil {
			return compiledRule{}, err
		}
		cr.program = program
	}
	return cr, nil
}

func (s *Service) applyJitter(ctx context.Context) error {
	if s.filteringConfig.Reload.JitterSeconds <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int63n(int64(s.filteringConfig.Reload.JitterSeconds) * int64(time.Second)))
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RuleCount returns the number of cached rules.
func (s *Service) RuleCount() int {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()
	return len(s.rules)
}

func (s *Service) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.filteringConfig.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
