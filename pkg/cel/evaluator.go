package cel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"stepgate/pkg/filter"
	"stepgate/pkg/models"
)

var ErrEvaluation = errors.New("expression evaluation failed")

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("workflow_id", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("now", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("subscriber", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tenant", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("webhooks", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileFilter(expression)
	return err
}

func (e *Evaluator) compileFilter(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// Program is a compiled boolean filter expression. It is safe for
// concurrent use.
type Program struct {
	expression string
	program    cel.Program
}

func (p *Program) String() string {
	return p.expression
}

func (e *Evaluator) CompileFilter(expression string) (*Program, error) {
	ast, err := e.compileFilter(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Program{expression: expression, program: program}, nil
}

func (p *Program) Eval(ctx context.Context, vars map[string]interface{}) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression did not return bool, got %T", ErrEvaluation, result.Value())
	}

	return boolVal, nil
}

// EvaluateFilter compiles and runs expression against a single message.
// Services evaluating the same expression repeatedly should use CompileFilter.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, msg models.MessageEnvelope, fc *filter.MapContext) (bool, error) {
	program, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return program.Eval(ctx, Variables(msg, fc))
}

// Variables builds the CEL activation for msg. When fc is set, subscriber,
// tenant, step and webhook data come from the resolved evaluation context so
// expressions see the same values as filter trees.
func Variables(msg models.MessageEnvelope, fc *filter.MapContext) map[string]interface{} {
	if fc == nil {
		fc = &filter.MapContext{
			Payload:    msg.Payload,
			Subscriber: msg.Subscriber.Attributes(),
			Tenant:     msg.Tenant,
		}
	}

	return map[string]interface{}{
		"id":          msg.ID,
		"workflow_id": msg.WorkflowID,
		"timestamp":   msg.Timestamp,
		"now":         fc.Now(),
		"payload":     orEmpty(fc.Payload),
		"subscriber":  orEmpty(fc.Subscriber),
		"tenant":      orEmpty(fc.Tenant),
		"steps":       nested(fc.Steps),
		"webhooks":    nested(fc.Webhooks),
	}
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func nested(m map[string]map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
