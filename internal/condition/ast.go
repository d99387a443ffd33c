// Package condition defines the rule condition AST and turns raw rule
// expressions into validated trees.
package condition

import (
	"encoding/json"
	"sort"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
)

// Operator is a comparison operator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpIn           Operator = "in"
)

// Numeric reports whether the operator compares numbers.
func (o Operator) Numeric() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// LogicalOperator combines child nodes.
type LogicalOperator string

const (
	And LogicalOperator = "and"
	Or  LogicalOperator = "or"
)

// Node is a validated condition tree node: *Comparison or *Logical.
type Node interface {
	node()
	// Depth is 1 for a comparison.
	Depth() int
}

// Comparison tests one fact against a literal.
type Comparison struct {
	Operator Operator
	Field    string
	Value    facts.Value
}

func (*Comparison) node() {}

func (*Comparison) Depth() int { return 1 }

// Logical combines children with AND or OR.
type Logical struct {
	Operator LogicalOperator
	Children []Node
}

func (*Logical) node() {}

func (l *Logical) Depth() int {
	deepest := 0
	for _, c := range l.Children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// ToRaw renders the canonical JSON-logic form as plain Go values.
func ToRaw(n Node) any {
	switch x := n.(type) {
	case *Comparison:
		return map[string]any{
			string(x.Operator): []any{map[string]any{"var": x.Field}, x.Value.Native()},
		}
	case *Logical:
		children := make([]any, len(x.Children))
		for i, c := range x.Children {
			children[i] = ToRaw(c)
		}
		return map[string]any{string(x.Operator): children}
	}
	return nil
}

// Marshal renders the canonical JSON form stored with a rule.
func Marshal(n Node) (json.RawMessage, error) {
	return json.Marshal(ToRaw(n))
}

// Fields returns the distinct fields referenced by the tree, sorted.
func Fields(n Node) []string {
	seen := map[string]struct{}{}
	var walk func(Node)
	walk = func(n Node) {
		switch x := n.(type) {
		case *Comparison:
			seen[x.Field] = struct{}{}
		case *Logical:
			for _, c := range x.Children {
				walk(c)
			}
		}
	}
	walk(n)

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
