package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// compare applies op to the resolved value and the authored operand. The
// operand is coerced to the kind of the actual value first.
func compare(op Operator, actual, expected interface{}) bool {
	switch op {
	case OpEqual:
		return equalValues(actual, expected)
	case OpNotEqual:
		return !equalValues(actual, expected)
	case OpLarger:
		c, ok := order(actual, expected)
		return ok && c > 0
	case OpSmaller:
		c, ok := order(actual, expected)
		return ok && c < 0
	case OpLargerEqual:
		c, ok := order(actual, expected)
		return ok && c >= 0
	case OpSmallerEqual:
		c, ok := order(actual, expected)
		return ok && c <= 0
	case OpBetween, OpNotBetween:
		in, ok := between(actual, expected)
		if !ok {
			return false
		}
		if op == OpNotBetween {
			return !in
		}
		return in
	case OpIn:
		return containsValue(operandList(expected), actual)
	case OpNotIn:
		return !containsValue(operandList(expected), actual)
	case OpAnyIn:
		have := operandList(actual)
		for _, want := range operandList(expected) {
			if containsValue(have, want) {
				return true
			}
		}
		return false
	case OpAllIn:
		have := operandList(actual)
		for _, want := range operandList(expected) {
			if !containsValue(have, want) {
				return false
			}
		}
		return true
	case OpLike:
		return strings.Contains(stringOf(actual), stringOf(expected))
	case OpNotLike:
		return !strings.Contains(stringOf(actual), stringOf(expected))
	}
	return false
}

func equalValues(actual, expected interface{}) bool {
	switch a := actual.(type) {
	case nil:
		return expected == nil
	case bool:
		if _, isNum := numberOf(expected); isNum {
			return false
		}
		e, err := cast.ToBoolE(expected)
		return err == nil && a == e
	case string:
		if e, ok := expected.(string); ok {
			return a == e
		}
		return a == stringOf(expected)
	case time.Time:
		e, ok := timeOf(expected)
		return ok && a.Equal(e)
	}

	if a, ok := numberOf(actual); ok {
		e, ok := numberOf(expected)
		return ok && a == e
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}
	return stringOf(actual) == stringOf(expected)
}

func order(actual, expected interface{}) (int, bool) {
	if a, ok := numberOf(actual); ok {
		e, ok := numberOf(expected)
		if !ok {
			return 0, false
		}
		return cmpFloat(a, e), true
	}

	if a, ok := timeOf(actual); ok {
		e, ok := timeOf(expected)
		if !ok {
			return 0, false
		}
		return a.Compare(e), true
	}

	a, aok := actual.(string)
	e, eok := expected.(string)
	if aok && eok {
		return strings.Compare(a, e), true
	}
	return 0, false
}

func between(actual, expected interface{}) (bool, bool) {
	bounds := operandList(expected)
	if len(bounds) != 2 {
		return false, false
	}
	lo, ok := order(actual, bounds[0])
	if !ok {
		return false, false
	}
	hi, ok := order(actual, bounds[1])
	if !ok {
		return false, false
	}
	return lo >= 0 && hi <= 0, true
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if equalValues(item, v) || equalValues(v, item) {
			return true
		}
	}
	return false
}

// operandList turns a list operand into a slice. Strings are split on commas
// the way the authoring UI stores multi-value inputs.
func operandList(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []interface{}{v}
}

// numberOf accepts Go numeric kinds, json.Number and numeric strings. Booleans
// are never numbers here even though cast would convert them.
func numberOf(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(s)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(t)
		return f, err == nil
	}
	return 0, false
}

func timeOf(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if _, isNum := numberOf(t); isNum {
			return time.Time{}, false
		}
		parsed, err := cast.ToTimeE(t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func stringOf(v interface{}) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}
