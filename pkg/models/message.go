package models

import "time"

// MessageEnvelope is a workflow trigger event travelling through the pipeline.
type MessageEnvelope struct {
	ID            string                 `json:"id"`
	Source        string                 `json:"source,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	WorkflowID    string                 `json:"workflow_id"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Subscriber    Subscriber             `json:"subscriber"`
	Tenant        map[string]interface{} `json:"tenant,omitempty"`
	ExecutedSteps []ExecutedStep         `json:"executed_steps,omitempty"`
	Metadata      Metadata               `json:"metadata"`
}

// Subscriber carries the recipient as sent with the trigger. Field names
// follow the subscriber profile so filters address both the same way.
type Subscriber struct {
	SubscriberID string                 `json:"subscriberId" bson:"subscriberId"`
	FirstName    string                 `json:"firstName,omitempty" bson:"firstName,omitempty"`
	LastName     string                 `json:"lastName,omitempty" bson:"lastName,omitempty"`
	Email        string                 `json:"email,omitempty" bson:"email,omitempty"`
	Phone        string                 `json:"phone,omitempty" bson:"phone,omitempty"`
	Locale       string                 `json:"locale,omitempty" bson:"locale,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
	IsOnline     *bool                  `json:"isOnline,omitempty" bson:"isOnline,omitempty"`
	LastOnlineAt *time.Time             `json:"lastOnlineAt,omitempty" bson:"lastOnlineAt,omitempty"`
}

// ExecutedStep is the delivery state of a step that already ran for this
// trigger.
type ExecutedStep struct {
	StepID string `json:"step_id"`
	Status string `json:"status,omitempty"`
	Read   bool   `json:"read"`
	Seen   bool   `json:"seen"`
}

type Metadata struct {
	TraceID       string         `json:"trace_id,omitempty"`
	EvaluatedAt   *time.Time     `json:"evaluated_at,omitempty"`
	StepDecisions []StepDecision `json:"step_decisions,omitempty"`
	DLQ           *DLQInfo       `json:"dlq,omitempty"`
}

type DLQInfo struct {
	Reason      string    `json:"reason"`
	ErrorCode   string    `json:"error_code,omitempty"`
	SourceTopic string    `json:"source_topic"`
	FailedAt    time.Time `json:"failed_at"`
}

const (
	DecisionMatched       = "matched"
	DecisionNotMatched    = "not_matched"
	DecisionFallbackAllow = "fallback_allow"
	DecisionFallbackDeny  = "fallback_deny"
)

// StepDecision records the verdict of one step filter rule.
type StepDecision struct {
	StepID    string `json:"step_id"`
	RuleID    string `json:"rule_id"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

// StepPassed reports whether every decision recorded for stepID passed.
// Steps without decisions pass.
func (m Metadata) StepPassed(stepID string) bool {
	for _, d := range m.StepDecisions {
		if d.StepID == stepID && !d.Passed {
			return false
		}
	}
	return true
}
