// Package facts holds the typed attribute snapshot of an entity and resolves
// condition fields against it.
package facts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind is the runtime type of a Value.
type Kind int

const (
	KindAny Kind = iota
	KindNumber
	KindBool
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "any"
	}
}

// Value is a typed fact or literal: number, bool, string or a list of primitives.
type Value struct {
	kind Kind
	num  float64
	b    bool
	s    string
	list []Value
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// List builds a list value. Nested lists are not allowed and are rejected by FromAny.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) Num() float64 { return v.num }
func (v Value) Boolean() bool { return v.b }
func (v Value) Str() string { return v.s }
func (v Value) IsZero() bool { return v.kind == KindAny }
func (v Value) Items() []Value { return append([]Value(nil), v.list...) }

// Equal is a type-aware comparison: values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports list membership using Equal.
func (v Value) Contains(x Value) bool {
	for _, item := range v.list {
		if item.Equal(x) {
			return true
		}
	}
	return false
}

// Native converts the value back to plain Go types, suitable for JSON.
func (v Value) Native() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		data, _ := json.Marshal(v.Native())
		return string(data)
	}
	return "<nil>"
}

// MarshalJSON renders the native form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// FromAny converts a decoded JSON or YAML value into a Value.
func FromAny(raw any) (Value, error) {
	return fromAny(raw, true)
}

func fromAny(raw any, allowList bool) (Value, error) {
	if f, ok := ToFloat(raw); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("non-finite number %v", raw)
		}
		return Number(f), nil
	}
	switch x := raw.(type) {
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case Value:
		return x, nil
	case []any:
		if !allowList {
			return Value{}, fmt.Errorf("nested list is not allowed")
		}
		items := make([]Value, 0, len(x))
		for i, elem := range x {
			item, err := fromAny(elem, false)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	case nil:
		return Value{}, fmt.Errorf("null value")
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// ToFloat converts the numeric types produced by encoding/json, yaml.v3 and
// Go literals to float64.
func ToFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
