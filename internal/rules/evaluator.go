package rules

import (
	"errors"
	"log/slog"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/condition"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
)

// Evaluate walks a condition tree against the entity facts. It never returns
// an error: anything that cannot be decided evaluates to false and is
// recorded in the trace. AND stops at the first false child and OR at the
// first true one; children that were not evaluated are absent from the trace.
func Evaluate(node condition.Node, fs facts.FactSet) (bool, domain.TraceNode) {
	switch n := node.(type) {
	case nil:
		return invalid("nil node")
	case *condition.Comparison:
		if n == nil {
			return invalid("nil comparison")
		}
		return compare(n, fs)
	case *condition.Logical:
		if n == nil {
			return invalid("nil logical node")
		}
		return logical(n, fs)
	}
	return invalid("unsupported node")
}

func invalid(reason string) (bool, domain.TraceNode) {
	slog.Warn("invalid condition node", "reason", reason)
	return false, domain.TraceNode{
		ErrorKind: domain.TraceInvalidNode,
		Error:     reason,
	}
}

func logical(n *condition.Logical, fs facts.FactSet) (bool, domain.TraceNode) {
	trace := domain.TraceNode{Operator: string(n.Operator)}

	var stopOn bool
	switch n.Operator {
	case condition.And:
		stopOn = false
	case condition.Or:
		stopOn = true
	default:
		_, t := invalid("unknown logical operator " + string(n.Operator))
		t.Operator = string(n.Operator)
		return false, t
	}
	if len(n.Children) == 0 {
		_, t := invalid("logical node without children")
		t.Operator = string(n.Operator)
		return false, t
	}

	result := !stopOn
	for i, child := range n.Children {
		ok, ct := Evaluate(child, fs)
		trace.Children = append(trace.Children, ct)
		if ok == stopOn {
			result = stopOn
			trace.Skipped = len(n.Children) - i - 1
			break
		}
	}

	trace.Matched = result
	return result, trace
}

func compare(c *condition.Comparison, fs facts.FactSet) (bool, domain.TraceNode) {
	trace := domain.TraceNode{
		Operator: string(c.Operator),
		Field:    c.Field,
		Expected: c.Value.Native(),
	}
	if c.Field == "" {
		_, t := invalid("comparison without field")
		t.Operator = string(c.Operator)
		return false, t
	}

	want := facts.KindAny
	if c.Operator.Numeric() {
		want = facts.KindNumber
	}

	actual, err := facts.Resolve(c.Field, fs, want)
	if err != nil {
		trace.Error = err.Error()
		trace.ErrorKind = domain.TraceTypeMismatch
		if errors.Is(err, facts.ErrMissingField) {
			trace.ErrorKind = domain.TraceMissingField
		} else if raw, ok := fs[c.Field]; ok {
			trace.Actual = raw.Native()
		}
		return false, trace
	}
	trace.Actual = actual.Native()

	var matched bool
	switch c.Operator {
	case condition.OpGreater:
		matched = actual.Num() > c.Value.Num()
	case condition.OpLess:
		matched = actual.Num() < c.Value.Num()
	case condition.OpGreaterEqual:
		matched = actual.Num() >= c.Value.Num()
	case condition.OpLessEqual:
		matched = actual.Num() <= c.Value.Num()
	case condition.OpEqual:
		matched = actual.Equal(c.Value)
	case condition.OpNotEqual:
		matched = !actual.Equal(c.Value)
	case condition.OpIn:
		if actual.Kind() == facts.KindList {
			trace.ErrorKind = domain.TraceTypeMismatch
			trace.Error = "in requires a scalar fact, " + c.Field + " is a list"
			return false, trace
		}
		matched = c.Value.Contains(actual)
	default:
		_, t := invalid("unknown comparison operator " + string(c.Operator))
		t.Operator = string(c.Operator)
		t.Field = c.Field
		return false, t
	}

	trace.Matched = matched
	return matched, trace
}

// EvaluateRule evaluates one compiled rule. The contributed score is the
// rule's risk score when it matched and zero otherwise.
func EvaluateRule(rule *CompiledRule, fs facts.FactSet) domain.MatchResult {
	matched, trace := Evaluate(rule.Condition, fs)

	result := domain.MatchResult{
		RuleID:   rule.Rule.ID,
		RuleName: rule.Rule.Name,
		Priority: rule.Rule.Priority,
		Matched:  matched,
		Trace:    trace,
	}
	if matched {
		result.ContributedScore = rule.Rule.RiskScore
	}
	return result
}
