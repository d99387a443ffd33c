// Package rulefile reads rule definitions from YAML documents.
package rulefile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/condition"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/repository"
)

// Definition is one rule as written in a file. Exactly one of Condition and
// Expression is set; Expression uses the text syntax.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Condition   any    `yaml:"condition"`
	Expression  string `yaml:"expression"`
	RiskScore   int    `yaml:"riskScore"`
	Priority    int    `yaml:"priority"`
	Active      *bool  `yaml:"active"`
}

type document struct {
	Rules []Definition `yaml:"rules"`
}

// Parse decodes and validates every rule of a document. All problems are
// reported together; no rules are returned unless the whole file is valid.
func Parse(data []byte, v condition.Validator) ([]*domain.Rule, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid rule file: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(doc.Rules))
	out := make([]*domain.Rule, 0, len(doc.Rules))

	for i, def := range doc.Rules {
		rule, err := def.compile(v)
		if err == nil && seen[rule.ID] {
			err = fmt.Errorf("duplicate rule id")
		}
		if err != nil {
			ref := def.ID
			if ref == "" {
				ref = fmt.Sprintf("#%d", i+1)
			}
			errs = append(errs, fmt.Errorf("rule %s: %w", ref, err))
			continue
		}
		seen[rule.ID] = true
		out = append(out, rule)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Load reads and parses a rule file.
func Load(path string, v condition.Validator) ([]*domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return Parse(data, v)
}

func (d Definition) compile(v condition.Validator) (*domain.Rule, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	category, err := domain.ParseCategory(d.Category)
	if err != nil {
		return nil, err
	}
	if d.RiskScore < domain.MinRiskScore || d.RiskScore > domain.MaxRiskScore {
		return nil, fmt.Errorf("riskScore must be within [%d,%d]", domain.MinRiskScore, domain.MaxRiskScore)
	}

	var node condition.Node
	switch {
	case d.Condition != nil && d.Expression != "":
		return nil, fmt.Errorf("set either condition or expression, not both")
	case d.Expression != "":
		node, err = v.ParseExpression(d.Expression, category)
	default:
		node, err = v.Validate(d.Condition, category)
	}
	if err != nil {
		return nil, err
	}
	cond, err := condition.Marshal(node)
	if err != nil {
		return nil, err
	}

	name := d.Name
	if name == "" {
		name = id
	}
	return &domain.Rule{
		ID:          id,
		Name:        name,
		Description: d.Description,
		Category:    category,
		Condition:   cond,
		RiskScore:   d.RiskScore,
		Priority:    d.Priority,
		IsActive:    d.Active == nil || *d.Active,
	}, nil
}

// Seed creates the rules that are not stored yet. Existing ids, including
// deleted ones, are left untouched. It returns the number of rules created.
func Seed(ctx context.Context, repo domain.Repository, rules []*domain.Rule) (int, error) {
	created := 0
	for _, rule := range rules {
		err := repo.CreateRule(ctx, rule.Clone())
		switch {
		case err == nil:
			created++
		case errors.Is(err, repository.ErrConflict):
			slog.Debug("seed rule already exists", "rule_id", rule.ID)
		default:
			return created, fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}
	return created, nil
}
