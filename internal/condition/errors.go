package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// ErrorKind classifies a ValidationError.
type ErrorKind string

const (
	KindMalformed            ErrorKind = "Malformed"
	KindUnknownOperator      ErrorKind = "UnknownOperator"
	KindUnknownField         ErrorKind = "UnknownField"
	KindTypeMismatch         ErrorKind = "TypeMismatch"
	KindEmptyLogicalChildren ErrorKind = "EmptyLogicalChildren"
)

var (
	ErrMalformed            = errors.New("malformed condition")
	ErrUnknownOperator      = errors.New("unknown operator")
	ErrUnknownField         = errors.New("unknown field")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrEmptyLogicalChildren = errors.New("empty logical children")
)

var kindErrors = map[ErrorKind]error{
	KindMalformed:            ErrMalformed,
	KindUnknownOperator:      ErrUnknownOperator,
	KindUnknownField:         ErrUnknownField,
	KindTypeMismatch:         ErrTypeMismatch,
	KindEmptyLogicalChildren: ErrEmptyLogicalChildren,
}

// ValidationError reports why a raw expression was rejected. It is surfaced to
// the rule author and the rule is not saved.
type ValidationError struct {
	Kind     ErrorKind       `json:"kind"`
	Path     string          `json:"path"`
	Operator string          `json:"operator,omitempty"`
	Field    string          `json:"field,omitempty"`
	Category domain.Category `json:"category,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(kindErrors[e.Kind].Error())
	switch e.Kind {
	case KindUnknownOperator:
		fmt.Fprintf(&b, " %q", e.Operator)
	case KindUnknownField:
		fmt.Fprintf(&b, " %q for category %s", e.Field, e.Category)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (at %s)", e.Path)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return kindErrors[e.Kind]
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func malformed(path, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: KindMalformed, Path: path, Detail: fmt.Sprintf(format, args...)}
}

func mismatch(path string, op Operator, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:     KindTypeMismatch,
		Path:     path,
		Operator: string(op),
		Field:    field,
		Detail:   fmt.Sprintf(format, args...),
	}
}
