package condition

import (
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv()
})

var celComparisons = map[string]Operator{
	operators.Greater:       OpGreater,
	operators.Less:          OpLess,
	operators.GreaterEquals: OpGreaterEqual,
	operators.LessEquals:    OpLessEqual,
	operators.Equals:        OpEqual,
	operators.NotEquals:     OpNotEqual,
	operators.In:            OpIn,
}

var flipped = map[Operator]Operator{
	OpGreater:      OpLess,
	OpLess:         OpGreater,
	OpGreaterEqual: OpLessEqual,
	OpLessEqual:    OpGreaterEqual,
	OpEqual:        OpEqual,
	OpNotEqual:     OpNotEqual,
}

// ParseExpression accepts CEL syntax restricted to the condition grammar,
// e.g. `amount > 10000 && sender_country in ["AF", "IR"]`, with the default
// depth limit.
func ParseExpression(src string, category domain.Category) (Node, error) {
	return Validator{}.ParseExpression(src, category)
}

// ParseExpression converts a CEL expression into the condition tree. Only
// field-versus-literal comparisons, `in` against a list literal, `&&` and `||`
// are accepted. A bare identifier means `field == true`.
func (v Validator) ParseExpression(src string, category domain.Category) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, malformed("$", "empty expression")
	}

	env, err := celEnv()
	if err != nil {
		return nil, err
	}

	parsed, iss := env.Parse(src)
	if iss != nil && iss.Err() != nil {
		return nil, malformed("$", "invalid expression: %v", iss.Err())
	}

	raw, verr := fromCEL(parsed.NativeRep().Expr())
	if verr != nil {
		return nil, verr
	}
	return v.Validate(raw, category)
}

func fromCEL(e celast.Expr) (any, *ValidationError) {
	switch e.Kind() {
	case celast.IdentKind:
		return map[string]any{"==": []any{map[string]any{"var": e.AsIdent()}, true}}, nil

	case celast.CallKind:
		call := e.AsCall()
		fn := call.FunctionName()

		switch fn {
		case operators.LogicalAnd, operators.LogicalOr:
			name := string(And)
			if fn == operators.LogicalOr {
				name = string(Or)
			}
			var children []any
			for _, operand := range flatten(e, fn) {
				child, err := fromCEL(operand)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			return map[string]any{name: children}, nil
		}

		op, ok := celComparisons[fn]
		if !ok {
			return nil, &ValidationError{Kind: KindUnknownOperator, Path: "$", Operator: strings.Trim(fn, "_@")}
		}

		args := call.Args()
		if len(args) != 2 {
			return nil, malformed("$", "%s expects two operands", op)
		}

		left, right := args[0], args[1]
		if right.Kind() == celast.IdentKind && left.Kind() != celast.IdentKind && op != OpIn {
			left, right = right, left
			op = flipped[op]
		}
		if left.Kind() != celast.IdentKind {
			return nil, malformed("$", "%s must compare a field against a literal", op)
		}

		lit, err := celLiteral(right)
		if err != nil {
			return nil, err
		}
		return map[string]any{string(op): []any{map[string]any{"var": left.AsIdent()}, lit}}, nil
	}

	return nil, malformed("$", "unsupported expression")
}

// flatten collects the operands of nested calls to the same logical operator.
func flatten(e celast.Expr, fn string) []celast.Expr {
	if e.Kind() != celast.CallKind || e.AsCall().FunctionName() != fn {
		return []celast.Expr{e}
	}
	var out []celast.Expr
	for _, arg := range e.AsCall().Args() {
		out = append(out, flatten(arg, fn)...)
	}
	return out
}

func celLiteral(e celast.Expr) (any, *ValidationError) {
	switch e.Kind() {
	case celast.LiteralKind:
		switch v := e.AsLiteral().(type) {
		case types.Int:
			return int64(v), nil
		case types.Uint:
			return uint64(v), nil
		case types.Double:
			return float64(v), nil
		case types.String:
			return string(v), nil
		case types.Bool:
			return bool(v), nil
		}
		return nil, malformed("$", "unsupported literal %v", e.AsLiteral())

	case celast.ListKind:
		elems := e.AsList().Elements()
		out := make([]any, 0, len(elems))
		for _, elem := range elems {
			v, err := celLiteral(elem)
			if err != nil {
				return nil, err
			}
			if _, nested := v.([]any); nested {
				return nil, malformed("$", "nested lists are not allowed")
			}
			out = append(out, v)
		}
		return out, nil

	case celast.CallKind:
		call := e.AsCall()
		if call.FunctionName() == operators.Negate && len(call.Args()) == 1 {
			v, err := celLiteral(call.Args()[0])
			if err != nil {
				return nil, err
			}
			switch n := v.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
		}
	}
	return nil, malformed("$", "expected a literal value")
}
