// Package rules evaluates validated rule conditions against entity facts and
// aggregates the matches into a category risk score.
package rules

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
)

var tracer = otel.Tracer("riskengine/rules")

// Engine evaluates entities against the registry's rule snapshots.
type Engine struct {
	registry   *Registry
	maxWorkers int
}

// NewEngine creates an engine over registry. maxWorkers bounds per-request
// parallelism.
func NewEngine(registry *Registry, maxWorkers int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Engine{
		registry:   registry,
		maxWorkers: maxWorkers,
	}
}

// Registry returns the engine's rule registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// EvaluateEntity scores an entity's facts against the active rules of a
// category. The only error is an unknown category; an empty rule set yields
// a zero score.
func (e *Engine) EvaluateEntity(ctx context.Context, category domain.Category, fs facts.FactSet) (*domain.AggregateResult, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}

	_, span := tracer.Start(ctx, "rules.EvaluateEntity",
		trace.WithAttributes(attribute.String("category", string(category))))
	defer span.End()

	snap := e.registry.Snapshot(category)
	results := e.evaluateSnapshot(snap, fs)

	agg := Aggregate(category, results)
	agg.SnapshotVersion = snap.Version
	agg.SnapshotFingerprint = snap.Fingerprint

	span.SetAttributes(
		attribute.Int("rules.evaluated", agg.RulesEvaluated),
		attribute.Int("rules.matched", len(agg.MatchedRules)),
		attribute.Int("score.total", agg.TotalScore),
	)
	return &agg, nil
}

// evaluateSnapshot runs every rule of the snapshot, in parallel when there is
// more than one. Results stay in snapshot order.
func (e *Engine) evaluateSnapshot(snap *Snapshot, fs facts.FactSet) []domain.MatchResult {
	results := make([]domain.MatchResult, len(snap.Rules))
	if len(snap.Rules) <= 1 || e.maxWorkers == 1 {
		for i, rule := range snap.Rules {
			results[i] = EvaluateRule(rule, fs)
		}
		return results
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range snap.Rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = EvaluateRule(r, fs)
		}(i, rule)
	}

	wg.Wait()
	return results
}

// TestRule evaluates a single loaded rule, active or not, and returns its
// match result with the full trace.
func (e *Engine) TestRule(id string, fs facts.FactSet) (domain.MatchResult, error) {
	c, ok := e.registry.state.Load().rules[id]
	if !ok {
		return domain.MatchResult{}, fmt.Errorf("%w: %s", ErrRuleNotLoaded, id)
	}
	return EvaluateRule(c, fs), nil
}
