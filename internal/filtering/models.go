package filtering

import (
	"encoding/json"
	"time"

	"stepgate/pkg/cel"
	"stepgate/pkg/filter"
)

// Rule is a stored step filter. Filters holds the raw JSONB list; all of
// its trees and the optional CEL expression must pass for the step to fire.
type Rule struct {
	ID          string
	Name        string
	Description string
	WorkflowID  string // empty applies to every workflow
	StepID      string
	Filters     json.RawMessage
	Expression  string
	Priority    int
	Enabled     bool
	OnError     string // overrides filtering.fallback.on_error when set
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// compiledRule is a rule decoded at load time.
type compiledRule struct {
	Rule
	filters []filter.Node
	program *cel.Program
}

func (r compiledRule) appliesTo(workflowID string) bool {
	return r.WorkflowID == "" || r.WorkflowID == workflowID
}
