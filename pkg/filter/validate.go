package filter

import (
	"strings"

	"github.com/spf13/cast"
)

// Validate checks that every node of the tree is well formed. Trees produced
// by Decode are already validated; hand-built trees should be validated
// before they are stored.
func Validate(n Node) error {
	return validateTree(n, "", 0)
}

func validateTree(n Node, path string, depth int) error {
	if err := validateNode(n, path, depth); err != nil {
		return err
	}
	for i, child := range n.Children {
		if err := validateTree(child, childPath(path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// validateNode checks n itself, not its descendants.
func validateNode(n Node, path string, depth int) error {
	if depth >= MaxDepth {
		return malformed(path, "tree exceeds maximum depth %d", MaxDepth)
	}
	if !n.Type.Valid() {
		return malformed(path, "unknown field type %q", n.Type)
	}

	if n.IsGroup() {
		if n.Condition != nil {
			return malformed(path, "group value must be AND or OR, got a condition")
		}
		if !n.Combinator.Valid() {
			return malformed(path, "group value must be AND or OR, got %q", n.Combinator)
		}
		return nil
	}

	if n.Combinator != "" {
		return malformed(path, "%s value must be a condition, got %q", n.Type, n.Combinator)
	}
	if n.Condition == nil {
		return malformed(path, "%s leaf requires a condition", n.Type)
	}
	if len(n.Children) > 0 {
		return malformed(path, "%s leaf cannot have children", n.Type)
	}
	return validateCondition(n.Type, *n.Condition, path)
}

func validateCondition(t FieldType, c Condition, path string) error {
	switch t {
	case TypeIsOnline:
		if c.Operator != "" && c.Operator != OpEqual && c.Operator != OpNotEqual {
			return malformed(path, "isOnline supports EQUAL and NOT_EQUAL, got %q", c.Operator)
		}
		if _, ok := boolOperand(c.Expected); !ok {
			return malformed(path, "isOnline expects a boolean value, got %v", c.Expected)
		}
		return nil

	case TypeIsOnlineInLast:
		switch c.TimeUnit {
		case Minutes, Hours, Days:
		default:
			return malformed(path, "isOnlineInLast requires timeOperator minutes, hours or days, got %q", c.TimeUnit)
		}
		amount, ok := numberOf(c.Expected)
		if !ok || amount <= 0 {
			return malformed(path, "isOnlineInLast expects a positive number, got %v", c.Expected)
		}
		return nil

	case TypePreviousStep:
		if strings.TrimSpace(c.Step) == "" {
			return malformed(path, "previousStep requires a step")
		}
		switch c.StepState {
		case StepRead, StepUnread, StepSeen, StepUnseen:
		default:
			return malformed(path, "previousStep requires stepType read, unread, seen or unseen, got %q", c.StepState)
		}
		return nil
	}

	if strings.TrimSpace(c.Field) == "" {
		return malformed(path, "%s condition requires a field", t)
	}
	if t == TypeWebhook && strings.TrimSpace(c.WebhookURL) == "" {
		return malformed(path, "webhook condition requires a webhookUrl")
	}

	shape, ok := operators[c.Operator]
	if !ok {
		return malformed(path, "unknown operator %q", c.Operator)
	}

	switch shape {
	case shapeScalar:
		if isObject(c.Expected) || isList(c.Expected) {
			return malformed(path, "%s expects a single value, got %T", c.Operator, c.Expected)
		}
	case shapeList:
		if c.Expected == nil || isObject(c.Expected) {
			return malformed(path, "%s expects a list of values", c.Operator)
		}
	case shapeRange:
		if isObject(c.Expected) || len(operandList(c.Expected)) != 2 {
			return malformed(path, "%s expects exactly two bounds", c.Operator)
		}
	}
	return nil
}

func boolOperand(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := cast.ToBoolE(strings.TrimSpace(strings.ToLower(t)))
		if err != nil {
			return false, false
		}
		if _, isNum := numberOf(t); isNum {
			return false, false
		}
		return b, true
	}
	return false, false
}

func isObject(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
		return true
	}
	return false
}

func isList(v interface{}) bool {
	switch v.(type) {
	case []interface{}, []string:
		return true
	}
	return false
}
