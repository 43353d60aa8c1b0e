package management

import (
	"encoding/json"
	"time"

	"stepgate/pkg/filter"
)

// StepFilter is a stored filter rule attached to one workflow step. Filters
// holds the canonical JSON written at create or update time.
type StepFilter struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	WorkflowID  string          `json:"workflow_id"`
	StepID      string          `json:"step_id"`
	Filters     json.RawMessage `json:"filters" swaggertype:"array,object"`
	Expression  string          `json:"expression,omitempty"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
	OnError     string          `json:"on_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CreateStepFilterRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	WorkflowID  string          `json:"workflow_id"`
	StepID      string          `json:"step_id" binding:"required"`
	Filters     json.RawMessage `json:"filters" swaggertype:"array,object"`
	Expression  string          `json:"expression"`
	Priority    int             `json:"priority"`
	Enabled     *bool           `json:"enabled"`
	OnError     string          `json:"on_error" enums:"allow,deny,error"`
}

// UpdateStepFilterRequest carries a partial update. Absent fields are left
// unchanged; filters are replaced as a whole when present.
type UpdateStepFilterRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	WorkflowID  *string         `json:"workflow_id"`
	StepID      *string         `json:"step_id"`
	Filters     json.RawMessage `json:"filters" swaggertype:"array,object"`
	Expression  *string         `json:"expression"`
	Priority    *int            `json:"priority"`
	Enabled     *bool           `json:"enabled"`
	OnError     *string         `json:"on_error" enums:"allow,deny,error"`
}

type ListStepFiltersQuery struct {
	WorkflowID string
	StepID     string
}

// DryRunRequest evaluates filters against a caller supplied context without
// touching stored rules or external sources.
type DryRunRequest struct {
	Filters    json.RawMessage `json:"filters" swaggertype:"array,object"`
	Expression string          `json:"expression"`
	Context    DryRunContext   `json:"context"`
}

type DryRunContext struct {
	WorkflowID string                            `json:"workflow_id"`
	Payload    map[string]interface{}            `json:"payload"`
	Subscriber map[string]interface{}            `json:"subscriber"`
	Tenant     map[string]interface{}            `json:"tenant"`
	Steps      map[string]map[string]interface{} `json:"steps"`
	Webhooks   map[string]map[string]interface{} `json:"webhooks"`
	Now        *time.Time                        `json:"now"`
}

type DryRunResponse struct {
	Passed       bool                   `json:"passed"`
	Explanations []*filter.Trace        `json:"explanations,omitempty"`
	Expression   *bool                  `json:"expression_result,omitempty"`
	Error        map[string]interface{} `json:"error,omitempty"`
}

type AuditLog struct {
	ID           string                 `json:"id"`
	RuleID       string                 `json:"rule_id"`
	WorkflowID   string                 `json:"workflow_id,omitempty"`
	StepID       string                 `json:"step_id,omitempty"`
	Action       string                 `json:"action"`
	OldValue     map[string]interface{} `json:"old_value,omitempty"`
	NewValue     map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy    string                 `json:"changed_by"`
	ChangeReason string                 `json:"change_reason,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type AuditQuery struct {
	RuleID     string
	WorkflowID string
	Limit      int
}
