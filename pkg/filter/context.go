package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Ref addresses a single value in an evaluation context. Scope carries the
// webhook URL for webhook leaves and the step id for previousStep leaves.
type Ref struct {
	Type  FieldType
	Scope string
	Path  string
}

func (r Ref) String() string {
	switch {
	case r.Scope != "" && r.Path != "":
		return fmt.Sprintf("%s[%s].%s", r.Type, r.Scope, r.Path)
	case r.Scope != "":
		return fmt.Sprintf("%s[%s]", r.Type, r.Scope)
	case r.Path != "":
		return fmt.Sprintf("%s.%s", r.Type, r.Path)
	default:
		return string(r.Type)
	}
}

// Context resolves field references for one evaluation. Implementations must
// be safe to read concurrently and must not change during an evaluation.
type Context interface {
	Lookup(ref Ref) (interface{}, bool)
	Now() time.Time
}

const (
	SubscriberOnlineField     = "isOnline"
	SubscriberLastOnlineField = "lastOnlineAt"
)

// MapContext is an in-memory snapshot of everything a filter tree may read.
type MapContext struct {
	Payload    map[string]interface{}
	Subscriber map[string]interface{}
	Tenant     map[string]interface{}
	Webhooks   map[string]map[string]interface{}
	Steps      map[string]map[string]interface{}
	Clock      time.Time
}

func (c *MapContext) Now() time.Time {
	if c.Clock.IsZero() {
		return time.Now()
	}
	return c.Clock
}

func (c *MapContext) Lookup(ref Ref) (interface{}, bool) {
	switch ref.Type {
	case TypePayload:
		return lookupPath(c.Payload, ref.Path)
	case TypeSubscriber:
		return lookupPath(c.Subscriber, ref.Path)
	case TypeTenant:
		return lookupPath(c.Tenant, ref.Path)
	case TypeWebhook:
		data, ok := c.Webhooks[ref.Scope]
		if !ok {
			return nil, false
		}
		return lookupPath(data, ref.Path)
	case TypeIsOnline:
		return lookupPath(c.Subscriber, SubscriberOnlineField)
	case TypeIsOnlineInLast:
		return lookupPath(c.Subscriber, SubscriberLastOnlineField)
	case TypePreviousStep:
		state, ok := c.Steps[ref.Scope]
		if !ok {
			return nil, false
		}
		return state, true
	}
	return nil, false
}

// lookupPath walks a dotted path through nested maps and slices. Numeric
// segments index into slices.
func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	if root == nil {
		return nil, false
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if v, ok := root[path]; ok {
		return v, true
	}

	var current interface{} = root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case map[interface{}]interface{}, map[string]string:
			m, err := cast.ToStringMapE(node)
			if err != nil {
				return nil, false
			}
			v, ok := m[segment]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}
