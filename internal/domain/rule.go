package domain

import (
	"encoding/json"
	"time"
)

// Risk score bounds for a single rule contribution.
const (
	MinRiskScore = 1
	MaxRiskScore = 100
)

// Rule is a named, categorized unit of risk logic.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    Category `json:"category"`

	// Condition is the canonical JSON-logic form of the validated expression,
	// e.g. {">": [{"var": "amount"}, 10000]}.
	Condition json.RawMessage `json:"condition"`

	// RiskScore is contributed to the aggregate when the condition matches.
	RiskScore int `json:"riskScore"`

	// Priority orders rules within a category; lower runs first and wins ties.
	Priority int `json:"priority"`

	IsActive bool `json:"isActive"`

	// Version increments on every update of the stored record.
	Version int `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can't mutate shared state.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Condition != nil {
		c.Condition = append(json.RawMessage(nil), r.Condition...)
	}
	return &c
}
