package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageEnvelope(t *testing.T) {
	valid := func() *MessageEnvelope {
		return NewMessageEnvelopeBuilder().
			WithID("evt-1").
			WithWorkflowID("welcome").
			WithSubscriber(Subscriber{SubscriberID: "sub-1"}).
			Build()
	}

	tests := []struct {
		name    string
		mutate  func(m *MessageEnvelope)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(m *MessageEnvelope) {}},
		{name: "missing id", mutate: func(m *MessageEnvelope) { m.ID = "" }, field: "id", wantErr: true},
		{name: "missing workflow", mutate: func(m *MessageEnvelope) { m.WorkflowID = "" }, field: "workflow_id", wantErr: true},
		{name: "missing subscriber", mutate: func(m *MessageEnvelope) { m.Subscriber = Subscriber{} }, field: "subscriber.subscriberId", wantErr: true},
		{name: "nil payload", mutate: func(m *MessageEnvelope) { m.Payload = nil }, field: "payload", wantErr: true},
		{name: "zero timestamp", mutate: func(m *MessageEnvelope) { m.Timestamp = time.Time{} }, field: "timestamp", wantErr: true},
		{
			name:    "executed step without id",
			mutate:  func(m *MessageEnvelope) { m.ExecutedSteps = []ExecutedStep{{StepID: "a"}, {Read: true}} },
			field:   "executed_steps[1].step_id",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid()
			tt.mutate(msg)
			err := ValidateMessageEnvelope(msg)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	assert.Error(t, ValidateMessageEnvelope(nil))
}

func TestSubscriberAttributes(t *testing.T) {
	online := true
	last := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := Subscriber{
		SubscriberID: "sub-1",
		Email:        "a@b.c",
		Data:         map[string]interface{}{"plan": "pro"},
		IsOnline:     &online,
		LastOnlineAt: &last,
	}

	attrs := s.Attributes()
	assert.Equal(t, "sub-1", attrs["subscriberId"])
	assert.Equal(t, "a@b.c", attrs["email"])
	assert.Equal(t, true, attrs["isOnline"])
	assert.Equal(t, last, attrs["lastOnlineAt"])
	assert.NotContains(t, attrs, "phone")
	assert.NotContains(t, attrs, "firstName")
}

func TestSubscriberMerge(t *testing.T) {
	stored := Subscriber{
		SubscriberID: "sub-1",
		FirstName:    "Jane",
		Locale:       "de",
		Data:         map[string]interface{}{"plan": "free", "region": "eu"},
	}
	sent := Subscriber{SubscriberID: "sub-1", Locale: "en", Data: map[string]interface{}{"plan": "pro"}}

	merged := sent.Merge(stored)
	assert.Equal(t, "Jane", merged.FirstName)
	assert.Equal(t, "en", merged.Locale)
	assert.Equal(t, map[string]interface{}{"plan": "pro", "region": "eu"}, merged.Data)
	assert.Equal(t, "free", stored.Data["plan"])
}

func TestStepPassed(t *testing.T) {
	m := Metadata{StepDecisions: []StepDecision{
		{StepID: "email", RuleID: "r1", Passed: true},
		{StepID: "sms", RuleID: "r2", Passed: true},
		{StepID: "sms", RuleID: "r3", Passed: false},
	}}

	assert.True(t, m.StepPassed("email"))
	assert.False(t, m.StepPassed("sms"))
	assert.True(t, m.StepPassed("push"))
}
