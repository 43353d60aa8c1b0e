package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

var typeAliases = map[string]FieldType{
	"group":          TypeGroup,
	"payload":        TypePayload,
	"subscriber":     TypeSubscriber,
	"tenant":         TypeTenant,
	"webhook":        TypeWebhook,
	"isonline":       TypeIsOnline,
	"isonlineinlast": TypeIsOnlineInLast,
	"previousstep":   TypePreviousStep,
}

// Decode parses one filter tree from JSON and validates it.
func Decode(data []byte) (Node, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Node{}, malformed("", "invalid JSON: %v", err)
	}
	return FromValue(raw)
}

// DecodeList parses the filters stored on a step. A single object is
// accepted as a one element list.
func DecodeList(data []byte) ([]Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var raw interface{}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, malformed("", "invalid JSON: %v", err)
	}
	return FromValues(raw)
}

// FromValues decodes a generic list (as produced by encoding/json or
// yaml.v3) into filter trees.
func FromValues(raw interface{}) ([]Node, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		n, err := FromValue(raw)
		if err != nil {
			return nil, err
		}
		return []Node{n}, nil
	}

	nodes := make([]Node, 0, len(items))
	for i, item := range items {
		n, err := decodeNode(item, fmt.Sprintf("filters[%d]", i), 0)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// FromValue decodes a generic value into a validated filter tree. Both the
// canonical node shape {isNegated, type, value, children} and the stored
// part shape {on, field, operator, value} are accepted.
func FromValue(raw interface{}) (Node, error) {
	return decodeNode(raw, "", 0)
}

func decodeNode(raw interface{}, path string, depth int) (Node, error) {
	if depth >= MaxDepth {
		return Node{}, malformed(path, "tree exceeds maximum depth %d", MaxDepth)
	}

	obj, ok := asObject(raw)
	if !ok {
		return Node{}, malformed(path, "filter node must be an object, got %T", raw)
	}

	if on, has := obj["on"]; has {
		return decodePart(obj, on, path, depth)
	}

	var n Node
	negated, err := decodeNegated(obj, path)
	if err != nil {
		return Node{}, err
	}
	n.Negated = negated

	value := obj["value"]
	typ := strings.TrimSpace(cast.ToString(obj["type"]))
	if typ == "" {
		s, isString := value.(string)
		if !isString || !parseCombinator(s).Valid() {
			return Node{}, malformed(path, "node type is required")
		}
		typ = string(TypeGroup)
	}

	t, ok := typeAliases[strings.ToLower(typ)]
	if !ok {
		return Node{}, malformed(path, "unknown field type %q", typ)
	}
	n.Type = t

	children, err := childList(obj["children"], path)
	if err != nil {
		return Node{}, err
	}

	if t == TypeGroup {
		s, isString := value.(string)
		if !isString {
			return Node{}, malformed(path, "group value must be AND or OR, got %T", value)
		}
		n.Combinator = parseCombinator(s)
		if err := validateNode(n, path, depth); err != nil {
			return Node{}, err
		}

		n.Children = make([]Node, 0, len(children))
		for i, rawChild := range children {
			child, err := decodeNode(rawChild, childPath(path, i), depth+1)
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil
	}

	condObj, ok := asObject(value)
	if !ok {
		return Node{}, malformed(path, "%s value must be a condition object, got %T", t, value)
	}
	if len(children) > 0 {
		return Node{}, malformed(path, "%s leaf cannot have children", t)
	}

	expected, has := condObj["expected"]
	if !has {
		expected = condObj["value"]
	}
	n.Condition = conditionFrom(condObj, expected)

	if err := validateNode(n, path, depth); err != nil {
		return Node{}, err
	}
	return n, nil
}

func decodePart(obj map[string]interface{}, on interface{}, path string, depth int) (Node, error) {
	typ := strings.TrimSpace(cast.ToString(on))
	t, ok := typeAliases[strings.ToLower(typ)]
	if !ok || t == TypeGroup {
		return Node{}, malformed(path, "unknown filter part %q", typ)
	}

	negated, err := decodeNegated(obj, path)
	if err != nil {
		return Node{}, err
	}

	n := Node{
		Negated:   negated,
		Type:      t,
		Condition: conditionFrom(obj, obj["value"]),
	}
	if err := validateNode(n, path, depth); err != nil {
		return Node{}, err
	}
	return n, nil
}

func conditionFrom(obj map[string]interface{}, expected interface{}) *Condition {
	return &Condition{
		Field:      strings.TrimSpace(cast.ToString(obj["field"])),
		Operator:   Operator(strings.ToUpper(strings.TrimSpace(cast.ToString(obj["operator"])))),
		Expected:   expected,
		WebhookURL: strings.TrimSpace(cast.ToString(obj["webhookUrl"])),
		TimeUnit:   TimeUnit(strings.ToLower(strings.TrimSpace(cast.ToString(obj["timeOperator"])))),
		Step:       strings.TrimSpace(cast.ToString(obj["step"])),
		StepState:  StepState(strings.ToLower(strings.TrimSpace(cast.ToString(obj["stepType"])))),
	}
}

func decodeNegated(obj map[string]interface{}, path string) (bool, error) {
	raw, has := obj["isNegated"]
	if !has || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, malformed(path, "isNegated must be a boolean, got %T", raw)
	}
	return b, nil
}

func childList(raw interface{}, path string) ([]interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, malformed(path, "children must be a list, got %T", raw)
	}
	return items, nil
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		m, err := cast.ToStringMapE(t)
		return m, err == nil
	}
	return nil, false
}

type wireNode struct {
	IsNegated bool        `json:"isNegated"`
	Type      FieldType   `json:"type"`
	Value     interface{} `json:"value"`
	Children  []Node      `json:"children"`
}

type wireCondition struct {
	Operator   Operator    `json:"operator,omitempty"`
	Field      string      `json:"field,omitempty"`
	Expected   interface{} `json:"expected,omitempty"`
	WebhookURL string      `json:"webhookUrl,omitempty"`
	TimeUnit   TimeUnit    `json:"timeOperator,omitempty"`
	Step       string      `json:"step,omitempty"`
	StepState  StepState   `json:"stepType,omitempty"`
}

// MarshalJSON always writes the canonical node shape.
func (n Node) MarshalJSON() ([]byte, error) {
	w := wireNode{
		IsNegated: n.Negated,
		Type:      n.Type,
		Children:  n.Children,
	}
	if w.Children == nil {
		w.Children = []Node{}
	}
	if n.IsGroup() {
		w.Value = n.Combinator
	} else if n.Condition != nil {
		c := n.Condition
		w.Value = wireCondition{
			Operator:   c.Operator,
			Field:      c.Field,
			Expected:   c.Expected,
			WebhookURL: c.WebhookURL,
			TimeUnit:   c.TimeUnit,
			Step:       c.Step,
			StepState:  c.StepState,
		}
	}
	return json.Marshal(w)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*n = decoded
	return nil
}

func parseCombinator(s string) Combinator {
	return Combinator(strings.ToUpper(strings.TrimSpace(s)))
}
