package management

import (
	"encoding/json"
	"fmt"
	"strings"

	"stepgate/internal/constants"
	"stepgate/pkg/cel"
	pkgerrors "stepgate/pkg/errors"
	"stepgate/pkg/filter"
)

// Validator checks authored step filters before they are stored.
type Validator struct {
	evaluator *cel.Evaluator
	maxDepth  int
}

func NewValidator(maxDepth int) (*Validator, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	if maxDepth <= 0 || maxDepth > filter.MaxDepth {
		maxDepth = filter.MaxDepth
	}
	return &Validator{evaluator: evaluator, maxDepth: maxDepth}, nil
}

// Filters decodes raw and re-encodes it in the canonical node shape.
func (v *Validator) Filters(raw json.RawMessage) ([]filter.Node, json.RawMessage, error) {
	nodes, err := filter.DecodeList(raw)
	if err != nil {
		return nil, nil, pkgerrors.FromFilterError(err)
	}
	for i, n := range nodes {
		if depth := filter.Depth(n); depth > v.maxDepth {
			return nil, nil, pkgerrors.ErrMalformedFilter.WithDetails(map[string]interface{}{
				"path":   fmt.Sprintf("filters[%d]", i),
				"reason": fmt.Sprintf("tree depth %d exceeds %d", depth, v.maxDepth),
			})
		}
	}
	if nodes == nil {
		nodes = []filter.Node{}
	}
	canonical, err := json.Marshal(nodes)
	if err != nil {
		return nil, nil, pkgerrors.ErrInternal.WithCause(err)
	}
	return nodes, canonical, nil
}

func (v *Validator) Expression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	if err := v.evaluator.ValidateFilterExpression(expression); err != nil {
		return pkgerrors.ErrValidation.WithCause(err).WithDetails(map[string]interface{}{
			"field":   "expression",
			"message": fmt.Sprintf("invalid CEL expression: %v", err),
		})
	}
	return nil
}

func (v *Validator) OnError(policy string) error {
	switch strings.ToLower(policy) {
	case "", constants.FallbackAllow, constants.FallbackDeny, constants.FallbackError:
		return nil
	}
	return pkgerrors.ErrValidation.WithDetails(map[string]interface{}{
		"field":   "on_error",
		"message": fmt.Sprintf("invalid on_error %q: allowed values are allow, deny, error", policy),
	})
}

func (v *Validator) Create(req CreateStepFilterRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, requiredField("name")
	}
	if strings.TrimSpace(req.StepID) == "" {
		return nil, requiredField("step_id")
	}
	if err := v.OnError(req.OnError); err != nil {
		return nil, err
	}
	if err := v.Expression(req.Expression); err != nil {
		return nil, err
	}
	_, canonical, err := v.Filters(req.Filters)
	return canonical, err
}

// Update validates the fields present in req. The returned filters are nil
// when req leaves them unchanged.
func (v *Validator) Update(req UpdateStepFilterRequest) (json.RawMessage, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, requiredField("name")
	}
	if req.StepID != nil && strings.TrimSpace(*req.StepID) == "" {
		return nil, requiredField("step_id")
	}
	if req.OnError != nil {
		if err := v.OnError(*req.OnError); err != nil {
			return nil, err
		}
	}
	if req.Expression != nil {
		if err := v.Expression(*req.Expression); err != nil {
			return nil, err
		}
	}
	if req.Filters == nil {
		return nil, nil
	}
	_, canonical, err := v.Filters(req.Filters)
	return canonical, err
}

func requiredField(field string) error {
	return pkgerrors.ErrValidation.WithDetails(map[string]interface{}{
		"field":   field,
		"message": fmt.Sprintf("%s is required", field),
	})
}
