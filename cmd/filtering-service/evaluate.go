package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stepgate/pkg/cel"
	pkgerrors "stepgate/pkg/errors"
	"stepgate/pkg/filter"
	"stepgate/pkg/models"
)

// evaluationInput is the context document read by the evaluate command.
// JSON documents parse as well since YAML is a superset.
type evaluationInput struct {
	Payload    map[string]interface{}            `yaml:"payload"`
	Subscriber map[string]interface{}            `yaml:"subscriber"`
	Tenant     map[string]interface{}            `yaml:"tenant"`
	Steps      map[string]map[string]interface{} `yaml:"steps"`
	Webhooks   map[string]map[string]interface{} `yaml:"webhooks"`
	Now        *time.Time                        `yaml:"now"`
}

type evaluationResult struct {
	Passed       bool                   `json:"passed"`
	Explanations []*filter.Trace        `json:"explanations"`
	Expression   *bool                  `json:"expression,omitempty"`
	Error        map[string]interface{} `json:"error,omitempty"`
}

func evaluateCmd() *cobra.Command {
	var (
		filterPath  string
		contextPath string
		expression  string
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate step filters against a context document",
		Long:  "Evaluate reads a filter list and an evaluation context from YAML or JSON files and prints the verdict with a per-node explanation",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runEvaluate(cmd.Context(), filterPath, contextPath, expression)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if strict && !result.Passed {
				return fmt.Errorf("step filtered")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filterPath, "filter", "", "Path to the filter list (YAML or JSON)")
	cmd.Flags().StringVar(&contextPath, "context", "", "Path to the evaluation context (YAML or JSON)")
	cmd.Flags().StringVar(&expression, "expression", "", "Optional CEL expression AND-ed with the filters")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the step is filtered")
	_ = cmd.MarkFlagRequired("filter")

	return cmd
}

// runEvaluate decodes both documents and evaluates every filter and the
// optional expression, AND-ing the verdicts. The first evaluation error is
// reported and fails the verdict.
func runEvaluate(ctx context.Context, filterPath, contextPath, expression string) (*evaluationResult, error) {
	var rawFilters interface{}
	if err := readYAML(filterPath, &rawFilters); err != nil {
		return nil, err
	}
	nodes, err := filter.FromValues(rawFilters)
	if err != nil {
		return nil, pkgerrors.FromFilterError(err)
	}

	var input evaluationInput
	if contextPath != "" {
		if err := readYAML(contextPath, &input); err != nil {
			return nil, err
		}
	}

	fc := input.mapContext()
	result := evaluate(nodes, fc)
	if strings.TrimSpace(expression) == "" {
		return result, nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	msg := models.MessageEnvelope{Timestamp: fc.Now(), Payload: fc.Payload}
	if ctx == nil {
		ctx = context.Background()
	}
	passed, err := evaluator.EvaluateFilter(ctx, expression, msg, fc)
	switch {
	case err == nil:
		result.Expression = &passed
		result.Passed = result.Passed && passed
	case stderrors.Is(err, cel.ErrEvaluation):
		result.Passed = false
		if result.Error == nil {
			result.Error = pkgerrors.ToErrorResponse(pkgerrors.ErrInvalidFieldReference.
				WithCause(err).
				WithDetails(map[string]interface{}{"path": "expression", "reason": err.Error()}))
		}
	default:
		return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("field", "expression")
	}
	return result, nil
}

func evaluate(nodes []filter.Node, fc *filter.MapContext) *evaluationResult {
	result := &evaluationResult{Passed: true, Explanations: make([]*filter.Trace, 0, len(nodes))}
	for i, n := range nodes {
		trace, passed, err := filter.Explain(n, fc)
		result.Explanations = append(result.Explanations, trace)
		if err != nil {
			result.Passed = false
			if result.Error == nil {
				result.Error = pkgerrors.ToErrorResponse(pkgerrors.FromFilterError(err))
				result.Error["filter"] = i
			}
			continue
		}
		if !passed {
			result.Passed = false
		}
	}
	return result
}

func (in evaluationInput) mapContext() *filter.MapContext {
	fc := &filter.MapContext{
		Payload:    in.Payload,
		Subscriber: in.Subscriber,
		Tenant:     in.Tenant,
		Steps:      in.Steps,
		Webhooks:   in.Webhooks,
	}
	if fc.Payload == nil {
		fc.Payload = map[string]interface{}{}
	}
	if in.Now != nil {
		fc.Clock = *in.Now
	}
	return fc
}

func readYAML(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
