package filter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDecodeCanonical(t *testing.T) {
	data := []byte(`{
		"isNegated": false,
		"type": "GROUP",
		"value": "OR",
		"children": [
			{"type": "payload", "value": {"operator": "EQUAL", "field": "amount", "expected": 10}, "children": []},
			{"isNegated": true, "type": "subscriber", "value": {"operator": "IN", "field": "locale", "expected": ["en", "de"]}}
		]
	}`)

	n, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, TypeGroup, n.Type)
	assert.Equal(t, Or, n.Combinator)
	require.Len(t, n.Children, 2)

	first := n.Children[0]
	assert.Equal(t, TypePayload, first.Type)
	require.NotNil(t, first.Condition)
	assert.Equal(t, "amount", first.Condition.Field)
	assert.Equal(t, OpEqual, first.Condition.Operator)
	assert.Equal(t, float64(10), first.Condition.Expected)

	second := n.Children[1]
	assert.True(t, second.Negated)
	assert.Equal(t, []interface{}{"en", "de"}, second.Condition.Expected)
}

func TestDecodeStoredPartShape(t *testing.T) {
	data := []byte(`{
		"isNegated": false,
		"type": "GROUP",
		"value": "AND",
		"children": [
			{"on": "payload", "field": "run", "operator": "EQUAL", "value": "true"},
			{"on": "webhook", "webhookUrl": "https://hooks.example.com/check", "field": "ok", "operator": "EQUAL", "value": true},
			{"on": "isOnlineInLast", "timeOperator": "hours", "value": 2},
			{"on": "previousStep", "step": "email-1", "stepType": "unread"}
		]
	}`)

	n, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, n.Children, 4)

	assert.Equal(t, "true", n.Children[0].Condition.Expected)
	assert.Equal(t, "https://hooks.example.com/check", n.Children[1].Condition.WebhookURL)
	assert.Equal(t, Hours, n.Children[2].Condition.TimeUnit)
	assert.Equal(t, StepUnread, n.Children[3].Condition.StepState)

	ok, err := Evaluate(n.Children[0], &MapContext{Payload: map[string]interface{}{"run": true}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecodeGroupWithoutType(t *testing.T) {
	n, err := Decode([]byte(`{"value": "or", "children": [{"on": "tenant", "field": "id", "operator": "IS_DEFINED"}]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeGroup, n.Type)
	assert.Equal(t, Or, n.Combinator)
	require.Len(t, n.Children, 1)
	assert.Equal(t, TypeTenant, n.Children[0].Type)
}

func TestDecodeGroupCombinatorWhitespace(t *testing.T) {
	for _, raw := range []string{
		`{"value": " AND", "children": []}`,
		`{"type": "GROUP", "value": " AND", "children": []}`,
		`{"value": "and ", "children": []}`,
	} {
		n, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, TypeGroup, n.Type, raw)
		assert.Equal(t, And, n.Combinator, raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		path string
	}{
		{name: "invalid json", data: `{`, path: ""},
		{name: "not an object", data: `[1]`, path: ""},
		{name: "missing type", data: `{"value": {"field": "a"}}`, path: ""},
		{name: "unknown type", data: `{"type": "cookie", "value": {"field": "a", "operator": "EQUAL", "expected": 1}}`, path: ""},
		{name: "group value not a combinator", data: `{"type": "GROUP", "value": "XOR"}`, path: ""},
		{name: "group value is an object", data: `{"type": "GROUP", "value": {"operator": "EQUAL"}}`, path: ""},
		{name: "leaf value not an object", data: `{"type": "payload", "value": "AND"}`, path: ""},
		{name: "leaf with children", data: `{"type": "payload", "value": {"field": "a", "operator": "EQUAL", "expected": 1}, "children": [{"value": "AND"}]}`, path: ""},
		{name: "negation not boolean", data: `{"isNegated": "yes", "type": "GROUP", "value": "AND"}`, path: ""},
		{name: "children not a list", data: `{"type": "GROUP", "value": "AND", "children": {}}`, path: ""},
		{name: "unknown operator", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "payload", "field": "a", "operator": "ROUGHLY", "value": 1}]}`, path: "children[0]"},
		{name: "missing field", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "payload", "operator": "EQUAL", "value": 1}]}`, path: "children[0]"},
		{name: "between with one bound", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "payload", "field": "a", "operator": "BETWEEN", "value": [1]}]}`, path: "children[0]"},
		{name: "equal with list", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "payload", "field": "a", "operator": "EQUAL", "value": [1, 2]}]}`, path: "children[0]"},
		{name: "in without values", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "payload", "field": "a", "operator": "IN"}]}`, path: "children[0]"},
		{name: "webhook without url", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "webhook", "field": "a", "operator": "EQUAL", "value": 1}]}`, path: "children[0]"},
		{name: "online with number", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "isOnline", "value": 1}]}`, path: "children[0]"},
		{name: "online in last without unit", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "isOnlineInLast", "value": 5}]}`, path: "children[0]"},
		{name: "online in last with zero", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "isOnlineInLast", "timeOperator": "days", "value": 0}]}`, path: "children[0]"},
		{name: "previous step without step", data: `{"type": "GROUP", "value": "AND", "children": [{"on": "previousStep", "stepType": "read"}]}`, path: "children[0]"},
		{name: "part cannot be a group", data: `{"on": "GROUP", "value": "AND"}`, path: ""},
		{name: "nested error path", data: `{"value": "AND", "children": [{"value": "OR", "children": [{"type": "GROUP", "value": "NOR"}]}]}`, path: "children[0].children[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFilter))

			var fe *Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.path, fe.Path)
		})
	}
}

func TestDecodeMaxDepth(t *testing.T) {
	build := func(depth int) string {
		var sb strings.Builder
		for i := 0; i < depth; i++ {
			sb.WriteString(`{"value": "AND", "children": [`)
		}
		sb.WriteString(`{"on": "payload", "field": "a", "operator": "EQUAL", "value": 1}`)
		for i := 0; i < depth; i++ {
			sb.WriteString(`]}`)
		}
		return sb.String()
	}

	_, err := Decode([]byte(build(MaxDepth - 1)))
	require.NoError(t, err)

	_, err = Decode([]byte(build(MaxDepth)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedFilter))
}

func TestDecodeList(t *testing.T) {
	list, err := DecodeList([]byte(`[
		{"type": "GROUP", "value": "AND", "children": [{"on": "payload", "field": "a", "operator": "EQUAL", "value": 1}]},
		{"type": "GROUP", "value": "OR", "children": []}
	]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	single, err := DecodeList([]byte(`{"type": "GROUP", "value": "AND"}`))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	empty, err := DecodeList([]byte(" null "))
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeList([]byte(`[{"type": "GROUP", "value": "AND"}, {"type": "GROUP", "value": "MAYBE"}]`))
	require.Error(t, err)
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "filters[1]", fe.Path)
}

func TestFromValueYAML(t *testing.T) {
	src := `
value: AND
children:
  - on: payload
    field: order.total
    operator: LARGER_EQUAL
    value: 100
  - type: subscriber
    isNegated: true
    value:
      field: email
      operator: LIKE
      expected: "@example.com"
`
	var raw interface{}
	require.NoError(t, yaml.Unmarshal([]byte(src), &raw))

	n, err := FromValue(raw)
	require.NoError(t, err)

	ctx := &MapContext{
		Payload:    map[string]interface{}{"order": map[string]interface{}{"total": 150}},
		Subscriber: map[string]interface{}{"email": "jane@corp.io"},
	}
	ok, err := Evaluate(n, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarshalCanonical(t *testing.T) {
	tree := Group(And,
		Not(payloadLeaf("amount", OpEqual, "10")),
		Leaf(TypeWebhook, Condition{WebhookURL: "https://hooks.example.com", Field: "ok", Operator: OpIn, Expected: []interface{}{"a", "b"}}),
	)

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"GROUP","value":"AND"`)
	assert.Contains(t, string(data), `"isNegated":true`)
	assert.Contains(t, string(data), `"webhookUrl":"https://hooks.example.com"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, tree, decoded)
}

func TestUnmarshalJSONField(t *testing.T) {
	var rule struct {
		Filter Node `json:"filter"`
	}
	err := json.Unmarshal([]byte(`{"filter": {"value": "OR", "children": [{"on": "payload", "field": "a", "operator": "EQUAL", "value": 1}]}}`), &rule)
	require.NoError(t, err)
	assert.Equal(t, Or, rule.Filter.Combinator)

	err = json.Unmarshal([]byte(`{"filter": {"value": "XOR"}}`), &rule)
	assert.True(t, errors.Is(err, ErrMalformedFilter))
}
