package facts

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrTypeMismatch = errors.New("type mismatch")
)

// ResolutionError describes why a field could not be resolved for an operator.
// It never reaches the evaluation caller; the evaluator records it in the trace.
type ResolutionError struct {
	Field string
	Want  Kind
	Got   Kind
	err   error
}

func (e *ResolutionError) Error() string {
	if errors.Is(e.err, ErrMissingField) {
		return fmt.Sprintf("missing field %q", e.Field)
	}
	return fmt.Sprintf("type mismatch for %q: want %s, got %s", e.Field, e.Want, e.Got)
}

func (e *ResolutionError) Unwrap() error { return e.err }

// FactSet maps field names to typed values for a single evaluation.
type FactSet map[string]Value

// NewFactSet converts decoded JSON attributes into a FactSet. Null values are
// treated as absent.
func NewFactSet(raw map[string]any) (FactSet, error) {
	fs := make(FactSet, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if raw[k] == nil {
			continue
		}
		v, err := FromAny(raw[k])
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", k, err)
		}
		fs[k] = v
	}
	return fs, nil
}

// With returns a copy of the set with field set to v.
func (fs FactSet) With(field string, v Value) FactSet {
	out := maps.Clone(fs)
	if out == nil {
		out = FactSet{}
	}
	out[field] = v
	return out
}

// Without returns a copy of the set without the given fields.
func (fs FactSet) Without(fields ...string) FactSet {
	out := maps.Clone(fs)
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Native returns the set as plain Go values.
func (fs FactSet) Native() map[string]any {
	out := make(map[string]any, len(fs))
	for k, v := range fs {
		out[k] = v.Native()
	}
	return out
}

// Resolve looks up field and checks it against the kind the operator needs.
// A string holding a valid numeric literal is coerced when want is KindNumber.
// KindAny returns the value unchanged.
func Resolve(field string, facts FactSet, want Kind) (Value, error) {
	v, ok := facts[field]
	if !ok {
		return Value{}, &ResolutionError{Field: field, Want: want, err: ErrMissingField}
	}
	if want == KindAny || v.kind == want {
		return v, nil
	}

	if want == KindNumber && v.kind == KindString {
		if n, ok := parseNumeric(v.s); ok {
			return Number(n), nil
		}
	}
	return Value{}, &ResolutionError{Field: field, Want: want, Got: v.kind, err: ErrTypeMismatch}
}

// parseNumeric accepts plain decimal literals only ("123", "-4.5", "1e3").
// Hex, "NaN", "Inf", digit separators and literals outside float64 range are
// rejected.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
