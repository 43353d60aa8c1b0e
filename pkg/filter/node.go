// Package filter implements step filter trees: boolean condition trees with
// negation and nested children that decide whether a workflow step fires for
// a trigger event.
package filter

import (
	"strconv"
	"strings"
)

const MaxDepth = 32

type FieldType string

const (
	TypeGroup          FieldType = "GROUP"
	TypePayload        FieldType = "payload"
	TypeSubscriber     FieldType = "subscriber"
	TypeTenant         FieldType = "tenant"
	TypeWebhook        FieldType = "webhook"
	TypeIsOnline       FieldType = "isOnline"
	TypeIsOnlineInLast FieldType = "isOnlineInLast"
	TypePreviousStep   FieldType = "previousStep"
)

var fieldTypes = map[FieldType]bool{
	TypeGroup:          true,
	TypePayload:        true,
	TypeSubscriber:     true,
	TypeTenant:         true,
	TypeWebhook:        true,
	TypeIsOnline:       true,
	TypeIsOnlineInLast: true,
	TypePreviousStep:   true,
}

func (t FieldType) Valid() bool {
	return fieldTypes[t]
}

// HasField reports whether leaves of this type address a dotted field path.
func (t FieldType) HasField() bool {
	switch t {
	case TypePayload, TypeSubscriber, TypeTenant, TypeWebhook:
		return true
	}
	return false
}

type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

func (c Combinator) Valid() bool {
	return c == And || c == Or
}

type Operator string

const (
	OpEqual        Operator = "EQUAL"
	OpNotEqual     Operator = "NOT_EQUAL"
	OpLarger       Operator = "LARGER"
	OpSmaller      Operator = "SMALLER"
	OpLargerEqual  Operator = "LARGER_EQUAL"
	OpSmallerEqual Operator = "SMALLER_EQUAL"
	OpBetween      Operator = "BETWEEN"
	OpNotBetween   Operator = "NOT_BETWEEN"
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOT_IN"
	OpAnyIn        Operator = "ANY_IN"
	OpAllIn        Operator = "ALL_IN"
	OpLike         Operator = "LIKE"
	OpNotLike      Operator = "NOT_LIKE"
	OpIsDefined    Operator = "IS_DEFINED"
)

type operandShape int

const (
	shapeScalar operandShape = iota
	shapeList
	shapeRange
	shapeNone
)

var operators = map[Operator]operandShape{
	OpEqual:        shapeScalar,
	OpNotEqual:     shapeScalar,
	OpLarger:       shapeScalar,
	OpSmaller:      shapeScalar,
	OpLargerEqual:  shapeScalar,
	OpSmallerEqual: shapeScalar,
	OpBetween:      shapeRange,
	OpNotBetween:   shapeRange,
	OpIn:           shapeList,
	OpNotIn:        shapeList,
	OpAnyIn:        shapeList,
	OpAllIn:        shapeList,
	OpLike:         shapeScalar,
	OpNotLike:      shapeScalar,
	OpIsDefined:    shapeNone,
}

func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

type TimeUnit string

const (
	Minutes TimeUnit = "minutes"
	Hours   TimeUnit = "hours"
	Days    TimeUnit = "days"
)

type StepState string

const (
	StepRead   StepState = "read"
	StepUnread StepState = "unread"
	StepSeen   StepState = "seen"
	StepUnseen StepState = "unseen"
)

// Condition is the comparison carried by a leaf node.
type Condition struct {
	Field    string
	Operator Operator
	Expected interface{}

	WebhookURL string
	TimeUnit   TimeUnit
	Step       string
	StepState  StepState
}

// Node is a filter tree node. A node is either a group (Type == TypeGroup,
// Combinator set, any number of children) or a leaf (Condition set, no
// children). Nodes are treated as immutable once built.
type Node struct {
	Negated    bool
	Type       FieldType
	Combinator Combinator
	Condition  *Condition
	Children   []Node
}

func (n Node) IsGroup() bool {
	return n.Type == TypeGroup
}

// Leaf builds a leaf node reading field type t.
func Leaf(t FieldType, cond Condition) Node {
	c := cond
	return Node{Type: t, Condition: &c}
}

// Group builds a group node. The children slice is copied.
func Group(comb Combinator, children ...Node) Node {
	cp := make([]Node, len(children))
	copy(cp, children)
	return Node{Type: TypeGroup, Combinator: comb, Children: cp}
}

// Not returns a copy of n with its negation flipped.
func Not(n Node) Node {
	n.Negated = !n.Negated
	return n
}

// Walk visits n and its descendants depth first in authoring order.
func Walk(n Node, fn func(path string, n Node)) {
	walk(n, "", fn)
}

func walk(n Node, path string, fn func(string, Node)) {
	fn(path, n)
	for i, child := range n.Children {
		walk(child, childPath(path, i), fn)
	}
}

// WebhookURLs lists the distinct webhook URLs referenced by the given trees.
func WebhookURLs(nodes ...Node) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, root := range nodes {
		Walk(root, func(_ string, n Node) {
			if n.Type != TypeWebhook || n.Condition == nil {
				return
			}
			url := strings.TrimSpace(n.Condition.WebhookURL)
			if url == "" || seen[url] {
				return
			}
			seen[url] = true
			urls = append(urls, url)
		})
	}
	return urls
}

// References reports whether any of the trees contains a leaf of type t.
func References(t FieldType, nodes ...Node) bool {
	found := false
	for _, root := range nodes {
		Walk(root, func(_ string, n Node) {
			if n.Type == t {
				found = true
			}
		})
	}
	return found
}

// Depth returns the number of levels in n. A lone leaf has depth 1.
func Depth(n Node) int {
	max := 0
	for _, child := range n.Children {
		if d := Depth(child); d > max {
			max = d
		}
	}
	return max + 1
}

func childPath(parent string, i int) string {
	if parent == "" {
		return "children[" + strconv.Itoa(i) + "]"
	}
	return parent + ".children[" + strconv.Itoa(i) + "]"
}

func displayPath(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
