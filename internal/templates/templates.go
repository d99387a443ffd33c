// Package templates provides a catalog of pre-built rules and turns a
// template into an unsaved draft rule.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/condition"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ErrNotFound is returned for an unknown template id.
var ErrNotFound = errors.New("template not found")

// Template is a pre-built (category, condition, riskScore) tuple.
type Template struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Category    domain.Category `json:"category" yaml:"category"`
	Condition   any             `json:"condition" yaml:"condition"`
	RiskScore   int             `json:"riskScore" yaml:"riskScore"`
	Priority    int             `json:"priority" yaml:"priority"`
}

// Overrides customizes a draft. Zero values keep the template's value.
type Overrides struct {
	RuleID      string `json:"ruleId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	RiskScore   int    `json:"riskScore"`
	Priority    *int   `json:"priority"`
	Inactive    bool   `json:"inactive"`
}

var catalog = sync.OnceValues(func() ([]Template, error) {
	return parseCatalog(catalogYAML)
})

func parseCatalog(data []byte) ([]Template, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid template catalog: %w", err)
	}
	seen := make(map[string]bool, len(doc.Templates))
	for _, t := range doc.Templates {
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate template %s", t.ID)
		}
		seen[t.ID] = true
		if _, err := condition.Validate(t.Condition, t.Category); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.ID, err)
		}
	}
	return doc.Templates, nil
}

// List returns the templates of a category, or all of them when category is
// empty, ordered by category then priority.
func List(category domain.Category) ([]Template, error) {
	all, err := catalog()
	if err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(all))
	for _, t := range all {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

// Get returns a template by id.
func Get(id string) (Template, error) {
	all, err := catalog()
	if err != nil {
		return Template{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Draft builds an unsaved rule from a template. It has no side effects.
func Draft(id string, o Overrides) (*domain.Rule, error) {
	t, err := Get(id)
	if err != nil {
		return nil, err
	}

	node, err := condition.Validate(t.Condition, t.Category)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", id, err)
	}
	cond, err := condition.Marshal(node)
	if err != nil {
		return nil, err
	}

	rule := &domain.Rule{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Category:    t.Category,
		Condition:   cond,
		RiskScore:   t.RiskScore,
		Priority:    t.Priority,
		IsActive:    !o.Inactive,
	}
	if id := strings.TrimSpace(o.RuleID); id != "" {
		rule.ID = id
	}
	if o.Name != "" {
		rule.Name = o.Name
	}
	if o.Description != "" {
		rule.Description = o.Description
	}
	if o.RiskScore != 0 {
		if o.RiskScore < domain.MinRiskScore || o.RiskScore > domain.MaxRiskScore {
			return nil, fmt.Errorf("risk score must be within [%d,%d]", domain.MinRiskScore, domain.MaxRiskScore)
		}
		rule.RiskScore = o.RiskScore
	}
	if o.Priority != nil {
		rule.Priority = *o.Priority
	}
	return rule, nil
}
