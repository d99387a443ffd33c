package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
)

// DefaultMaxDepth bounds nesting of logical nodes.
const DefaultMaxDepth = 8

// Validator turns raw expressions into validated trees.
type Validator struct {
	// MaxDepth of the tree; zero means DefaultMaxDepth.
	MaxDepth int
}

// Validate checks a decoded expression with the default depth limit.
func Validate(raw any, category domain.Category) (Node, error) {
	return Validator{}.Validate(raw, category)
}

// Parse decodes a JSON expression and validates it with the default depth limit.
func Parse(data []byte, category domain.Category) (Node, error) {
	return Validator{}.Parse(data, category)
}

// Parse decodes a JSON expression and validates it.
func (v Validator) Parse(data []byte, category domain.Category) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, malformed("$", "empty condition")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed("$", "invalid JSON: %v", err)
	}
	if dec.More() {
		return nil, malformed("$", "trailing data after condition")
	}
	return v.Validate(raw, category)
}

// Validate checks a decoded JSON or YAML expression against the category
// vocabulary. It has no side effects.
func (v Validator) Validate(raw any, category domain.Category) (Node, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	if raw == nil {
		return nil, malformed("$", "empty condition")
	}

	p := &parser{category: category, maxDepth: v.MaxDepth}
	if p.maxDepth <= 0 {
		p.maxDepth = DefaultMaxDepth
	}
	return p.node(raw, "$", 1)
}

type parser struct {
	category domain.Category
	maxDepth int
}

func (p *parser) node(raw any, path string, depth int) (Node, error) {
	if depth > p.maxDepth {
		return nil, malformed(path, "nesting deeper than %d", p.maxDepth)
	}

	obj, ok := asObject(raw)
	if !ok {
		return nil, malformed(path, "expected an object with one operator, got %T", raw)
	}
	if len(obj) != 1 {
		return nil, malformed(path, "expected exactly one operator, got %d keys", len(obj))
	}

	var key string
	var arg any
	for k, a := range obj {
		key, arg = k, a
	}

	switch LogicalOperator(strings.ToLower(key)) {
	case And, Or:
		return p.logical(LogicalOperator(strings.ToLower(key)), arg, path, depth)
	}

	op := Operator(key)
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual, OpIn:
		return p.comparison(op, arg, path+"."+key)
	}
	return nil, &ValidationError{Kind: KindUnknownOperator, Path: path, Operator: key}
}

func (p *parser) logical(op LogicalOperator, arg any, path string, depth int) (Node, error) {
	path = path + "." + string(op)

	items, ok := arg.([]any)
	if !ok {
		return nil, malformed(path, "%s expects an array of conditions", op)
	}
	if len(items) == 0 {
		return nil, &ValidationError{Kind: KindEmptyLogicalChildren, Path: path, Operator: string(op)}
	}

	children := make([]Node, 0, len(items))
	for i, item := range items {
		child, err := p.node(item, fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Logical{Operator: op, Children: children}, nil
}

func (p *parser) comparison(op Operator, arg any, path string) (Node, error) {
	args, ok := arg.([]any)
	if !ok || len(args) != 2 {
		return nil, malformed(path, "%s expects [{\"var\": field}, value]", op)
	}

	field, ok := varName(args[0])
	if !ok {
		return nil, malformed(path+"[0]", "expected {\"var\": \"<field>\"}")
	}

	kind, ok := p.category.FieldKind(field)
	if !ok {
		return nil, &ValidationError{
			Kind:     KindUnknownField,
			Path:     path + "[0]",
			Operator: string(op),
			Field:    field,
			Category: p.category,
		}
	}

	if args[1] == nil {
		return nil, malformed(path+"[1]", "literal is null")
	}
	value, err := facts.FromAny(args[1])
	if err != nil {
		if op == OpIn {
			return nil, mismatch(path+"[1]", op, field, "in requires an array of primitives: %v", err)
		}
		return nil, mismatch(path+"[1]", op, field, "unsupported literal: %v", err)
	}

	if err := checkLiteral(op, field, kind, value, path+"[1]"); err != nil {
		return nil, err
	}
	return &Comparison{Operator: op, Field: field, Value: value}, nil
}

func checkLiteral(op Operator, field string, kind domain.FieldKind, value facts.Value, path string) error {
	switch {
	case op == OpIn:
		if value.Kind() != facts.KindList {
			return mismatch(path, op, field, "in requires an array value, got %s", value.Kind())
		}
		items := value.Items()
		if len(items) == 0 {
			return malformed(path, "in requires a non-empty array")
		}
		for i, item := range items {
			if !kindMatches(kind, item.Kind()) {
				return mismatch(path, op, field, "element %d is %s, field %s is %s", i, item.Kind(), field, kind)
			}
		}
	case op.Numeric():
		if value.Kind() != facts.KindNumber {
			return mismatch(path, op, field, "%s requires a numeric literal, got %s", op, value.Kind())
		}
		if kind != domain.FieldNumber {
			return mismatch(path, op, field, "%s requires a numeric field, %s is %s", op, field, kind)
		}
	default:
		if value.Kind() == facts.KindList {
			return mismatch(path, op, field, "%s requires a scalar literal", op)
		}
		if !kindMatches(kind, value.Kind()) {
			return mismatch(path, op, field, "literal is %s, field %s is %s", value.Kind(), field, kind)
		}
	}
	return nil
}

func kindMatches(field domain.FieldKind, k facts.Kind) bool {
	switch field {
	case domain.FieldNumber:
		return k == facts.KindNumber
	case domain.FieldBool:
		return k == facts.KindBool
	case domain.FieldString:
		return k == facts.KindString
	}
	return false
}

func varName(raw any) (string, bool) {
	obj, ok := asObject(raw)
	if !ok || len(obj) != 1 {
		return "", false
	}
	name, ok := obj["var"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

// asObject accepts the map shapes produced by encoding/json and yaml.v3.
func asObject(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	}
	return nil, false
}
