package filter

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Evaluate decides the verdict of n against c. It is a pure function of its
// inputs: it never mutates the tree or the context and keeps no state between
// calls, so a tree may be evaluated concurrently.
//
// Group nodes combine their children with their own combinator, evaluating in
// authoring order and stopping at the first child that decides the result. A
// group without children is true. Negation inverts the node result after
// evaluation; errors are returned as they are.
func Evaluate(n Node, c Context) (bool, error) {
	if c == nil {
		c = &MapContext{}
	}
	return eval(n, c, "", 0, nil)
}

// Trace records how each node of a tree was decided.
type Trace struct {
	Path     string    `json:"path"`
	Type     FieldType `json:"type"`
	Negated  bool      `json:"negated,omitempty"`
	Result   *bool     `json:"result,omitempty"`
	Skipped  bool      `json:"skipped,omitempty"`
	Error    string    `json:"error,omitempty"`
	Children []*Trace  `json:"children,omitempty"`
}

// Explain evaluates n like Evaluate and also returns the per-node trace.
// Children left unevaluated by short-circuiting are marked Skipped.
func Explain(n Node, c Context) (*Trace, bool, error) {
	if c == nil {
		c = &MapContext{}
	}
	root := &Trace{Path: displayPath(""), Type: n.Type, Negated: n.Negated}
	result, err := eval(n, c, "", 0, root)
	return root, result, err
}

func eval(n Node, c Context, path string, depth int, tr *Trace) (bool, error) {
	if err := validateNode(n, path, depth); err != nil {
		if tr != nil {
			tr.Error = err.Error()
		}
		return false, err
	}

	var (
		result bool
		err    error
	)
	if n.IsGroup() {
		result, err = evalGroup(n, c, path, depth, tr)
	} else {
		result, err = evalLeaf(n, c, path)
	}

	if err != nil {
		if tr != nil {
			tr.Error = err.Error()
		}
		return false, err
	}

	if n.Negated {
		result = !result
	}
	if tr != nil {
		tr.Result = &result
	}
	return result, nil
}

func evalGroup(n Node, c Context, path string, depth int, tr *Trace) (bool, error) {
	if len(n.Children) == 0 {
		return true, nil
	}

	var traces []*Trace
	if tr != nil {
		traces = make([]*Trace, len(n.Children))
		for i, child := range n.Children {
			traces[i] = &Trace{Path: childPath(path, i), Type: child.Type, Negated: child.Negated, Skipped: true}
		}
		tr.Children = traces
	}

	for i, child := range n.Children {
		var ctr *Trace
		if traces != nil {
			ctr = traces[i]
			ctr.Skipped = false
		}

		ok, err := eval(child, c, childPath(path, i), depth+1, ctr)
		if err != nil {
			return false, err
		}
		if n.Combinator == And && !ok {
			return false, nil
		}
		if n.Combinator == Or && ok {
			return true, nil
		}
	}
	return n.Combinator == And, nil
}

func evalLeaf(n Node, c Context, path string) (bool, error) {
	cond := n.Condition

	switch n.Type {
	case TypeIsOnline:
		ref := Ref{Type: TypeIsOnline}
		v, ok := c.Lookup(ref)
		if !ok {
			return false, invalidRef(path, ref, "subscriber online state is not available")
		}
		online, ok := boolOperand(v)
		if !ok {
			return false, invalidRef(path, ref, "subscriber online state is not a boolean")
		}
		want, _ := boolOperand(cond.Expected)
		if cond.Operator == OpNotEqual {
			return online != want, nil
		}
		return online == want, nil

	case TypeIsOnlineInLast:
		if v, ok := c.Lookup(Ref{Type: TypeIsOnline}); ok {
			if online, ok := boolOperand(v); ok && online {
				return true, nil
			}
		}
		ref := Ref{Type: TypeIsOnlineInLast}
		v, ok := c.Lookup(ref)
		if !ok {
			return false, invalidRef(path, ref, "subscriber last online time is not available")
		}
		last, ok := timeOf(v)
		if !ok {
			last, ok = unixTime(v)
		}
		if !ok {
			return false, invalidRef(path, ref, "subscriber last online time is not a timestamp")
		}
		amount, _ := numberOf(cond.Expected)
		window := time.Duration(amount * float64(unitDuration(cond.TimeUnit)))
		return c.Now().Sub(last) <= window, nil

	case TypePreviousStep:
		ref := Ref{Type: TypePreviousStep, Scope: strings.TrimSpace(cond.Step)}
		v, ok := c.Lookup(ref)
		if !ok {
			return false, invalidRef(path, ref, "step state is not available")
		}
		state, err := cast.ToStringMapE(v)
		if err != nil {
			return false, invalidRef(path, ref, "step state is not an object")
		}
		read := cast.ToBool(state["read"])
		seen := cast.ToBool(state["seen"])
		switch cond.StepState {
		case StepRead:
			return read, nil
		case StepUnread:
			return !read, nil
		case StepSeen:
			return seen, nil
		case StepUnseen:
			return !seen, nil
		}
		return false, malformed(path, "unknown step state %q", cond.StepState)
	}

	ref := Ref{Type: n.Type, Path: strings.TrimSpace(cond.Field)}
	if n.Type == TypeWebhook {
		ref.Scope = strings.TrimSpace(cond.WebhookURL)
	}

	actual, ok := c.Lookup(ref)
	if cond.Operator == OpIsDefined {
		return ok, nil
	}
	if !ok {
		return false, invalidRef(path, ref, "field is not present in the context")
	}
	return compare(cond.Operator, actual, cond.Expected), nil
}

func unitDuration(u TimeUnit) time.Duration {
	switch u {
	case Hours:
		return time.Hour
	case Days:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func unixTime(v interface{}) (time.Time, bool) {
	secs, ok := numberOf(v)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0), true
}
