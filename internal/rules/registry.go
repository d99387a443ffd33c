package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/condition"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// ErrRuleNotLoaded is returned when a rule id is not in the registry.
var ErrRuleNotLoaded = errors.New("rule not loaded")

// CompiledRule pairs a rule record with its validated condition tree.
type CompiledRule struct {
	Rule      *domain.Rule
	Condition condition.Node
}

// Compile validates the risk score and the stored condition of a rule.
func Compile(rule *domain.Rule, v condition.Validator) (*CompiledRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	if rule.RiskScore < domain.MinRiskScore || rule.RiskScore > domain.MaxRiskScore {
		return nil, fmt.Errorf("rule %s: risk score %d outside [%d,%d]",
			rule.ID, rule.RiskScore, domain.MinRiskScore, domain.MaxRiskScore)
	}
	node, err := v.Parse(rule.Condition, rule.Category)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return &CompiledRule{Rule: rule.Clone(), Condition: node}, nil
}

// Snapshot is a frozen, ordered view of the active rules of one category.
type Snapshot struct {
	Version     uint64
	Fingerprint string
	Category    domain.Category
	Rules       []*CompiledRule
}

type registryState struct {
	version     uint64
	fingerprint string
	rules       map[string]*CompiledRule
	byCategory  map[domain.Category][]*CompiledRule
}

// Registry holds the compiled rule set. Readers take lock-free snapshots;
// writers serialize and publish a new state.
type Registry struct {
	validator condition.Validator

	mu    sync.Mutex
	state atomic.Pointer[registryState]
}

// NewRegistry creates an empty registry. maxDepth bounds condition nesting;
// zero uses the validator default.
func NewRegistry(maxDepth int) *Registry {
	r := &Registry{validator: condition.Validator{MaxDepth: maxDepth}}
	r.state.Store(buildState(0, map[string]*CompiledRule{}))
	return r
}

// Validator returns the validator used to compile rules.
func (r *Registry) Validator() condition.Validator {
	return r.validator
}

// Load replaces the whole rule set. Rules that no longer compile are
// skipped and reported; the remaining rules are published. Writers are held
// off for the whole swap.
func (r *Registry) Load(rules []*domain.Rule) []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compiled := make(map[string]*CompiledRule, len(rules))
	var errs []error
	for _, rule := range rules {
		c, err := Compile(rule, r.validator)
		if err != nil {
			id := ""
			if rule != nil {
				id = rule.ID
			}
			slog.Warn("skipping invalid rule", "rule_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		compiled[rule.ID] = c
	}

	r.state.Store(buildState(r.state.Load().version+1, compiled))
	return errs
}

// Upsert compiles and adds or replaces a single rule.
func (r *Registry) Upsert(rule *domain.Rule) error {
	c, err := Compile(rule, r.validator)
	if err != nil {
		return err
	}
	r.mutate(func(m map[string]*CompiledRule) bool {
		m[rule.ID] = c
		return true
	})
	return nil
}

// Remove drops a rule. Removing an unknown id is not an error.
func (r *Registry) Remove(id string) {
	r.mutate(func(m map[string]*CompiledRule) bool {
		if _, ok := m[id]; !ok {
			return false
		}
		delete(m, id)
		return true
	})
}

// SetActive toggles a loaded rule without recompiling it.
func (r *Registry) SetActive(id string, active bool) error {
	var found bool
	r.mutate(func(m map[string]*CompiledRule) bool {
		c, ok := m[id]
		if !ok {
			return false
		}
		found = true
		if c.Rule.IsActive == active {
			return false
		}
		rule := c.Rule.Clone()
		rule.IsActive = active
		m[id] = &CompiledRule{Rule: rule, Condition: c.Condition}
		return true
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrRuleNotLoaded, id)
	}
	return nil
}

// Get returns a copy of a loaded rule.
func (r *Registry) Get(id string) (*domain.Rule, bool) {
	c, ok := r.state.Load().rules[id]
	if !ok {
		return nil, false
	}
	return c.Rule.Clone(), true
}

// Count returns the number of loaded rules, active or not.
func (r *Registry) Count() int {
	return len(r.state.Load().rules)
}

// Version returns the current state version and fingerprint.
func (r *Registry) Version() (uint64, string) {
	s := r.state.Load()
	return s.version, s.fingerprint
}

// Snapshot returns the active rules of a category ordered by priority, then
// creation time, then id. Later registry changes don't affect it.
func (r *Registry) Snapshot(category domain.Category) *Snapshot {
	s := r.state.Load()
	src := s.byCategory[category]
	out := make([]*CompiledRule, len(src))
	copy(out, src)
	return &Snapshot{
		Version:     s.version,
		Fingerprint: s.fingerprint,
		Category:    category,
		Rules:       out,
	}
}

// mutate applies fn to a copy of the rule map and publishes it if fn
// reports a change.
func (r *Registry) mutate(fn func(map[string]*CompiledRule) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.state.Load()
	next := make(map[string]*CompiledRule, len(cur.rules)+1)
	for id, c := range cur.rules {
		next[id] = c
	}
	if !fn(next) {
		return
	}
	r.state.Store(buildState(cur.version+1, next))
}

func buildState(version uint64, rules map[string]*CompiledRule) *registryState {
	s := &registryState{
		version:    version,
		rules:      rules,
		byCategory: make(map[domain.Category][]*CompiledRule),
	}

	ids := make([]string, 0, len(rules))
	for id, c := range rules {
		ids = append(ids, id)
		if c.Rule.IsActive {
			s.byCategory[c.Rule.Category] = append(s.byCategory[c.Rule.Category], c)
		}
	}
	for _, list := range s.byCategory {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].Rule, list[j].Rule
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
	}

	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		rule := rules[id].Rule
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(rule.Version)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatBool(rule.IsActive)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(rule.Priority)))
		h.Write([]byte{'\n'})
	}
	s.fingerprint = hex.EncodeToString(h.Sum(nil))[:16]
	return s
}
