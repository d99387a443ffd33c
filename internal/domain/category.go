package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCategory is returned for a category outside the closed set.
var ErrUnknownCategory = errors.New("unknown category")

// Category partitions both the field vocabulary and rule applicability.
type Category string

const (
	CategoryTransaction Category = "transaction"
	CategoryKYC         Category = "kyc"
	CategoryBehavioral  Category = "behavioral"
)

// FieldKind is the declared type of a vocabulary field.
type FieldKind string

const (
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldString FieldKind = "string"
)

var vocabularies = map[Category]map[string]FieldKind{
	CategoryTransaction: {
		"amount":           FieldNumber,
		"amount_7d":        FieldNumber,
		"transaction_hour": FieldNumber,
		"frequency_24h":    FieldNumber,
		"sender_country":   FieldString,
		"receiver_country": FieldString,
		"currency":         FieldString,
		"transaction_type": FieldString,
	},
	CategoryKYC: {
		"kyc_completion":    FieldNumber,
		"age":               FieldNumber,
		"is_pep":            FieldBool,
		"sanctions_match":   FieldBool,
		"document_verified": FieldBool,
		"nationality":       FieldString,
	},
	CategoryBehavioral: {
		"frequency_24h":     FieldNumber,
		"failed_logins_24h": FieldNumber,
		"transactions_5min": FieldNumber,
		"monthly_volume":    FieldNumber,
		"device_changed":    FieldBool,
		"login_country":     FieldString,
	},
}

// Categories returns every category in a stable order.
func Categories() []Category {
	return []Category{CategoryTransaction, CategoryKYC, CategoryBehavioral}
}

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := vocabularies[c]
	return ok
}

// FieldKind returns the declared kind of field in this category's vocabulary.
func (c Category) FieldKind(field string) (FieldKind, bool) {
	kind, ok := vocabularies[c][field]
	return kind, ok
}

// Fields returns the vocabulary of the category, sorted.
func (c Category) Fields() []string {
	vocab := vocabularies[c]
	fields := make([]string, 0, len(vocab))
	for f := range vocab {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (c Category) String() string {
	return string(c)
}
