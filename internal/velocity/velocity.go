// Package velocity derives activity-rate facts from windowed counters.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
)

// Windows maps each counter-backed field to its window.
var Windows = map[string]time.Duration{
	"transactions_5min": 5 * time.Minute,
	"frequency_24h":     24 * time.Hour,
}

// Service records entity activity and fills velocity facts.
type Service struct {
	cache domain.Cache
}

// NewService creates a velocity service over the cache's counters.
func NewService(cache domain.Cache) *Service {
	return &Service{cache: cache}
}

// Enrich counts one event for the entity in every window the category's
// vocabulary declares and fills the matching facts. Values supplied by the
// caller are kept. Counters are kept per category so evaluating one event
// under several categories counts it once in each. A failing counter leaves
// its fact unfilled; the facts filled from the other counters are still
// returned alongside the error. Without an entity id the facts are returned
// unchanged.
func (s *Service) Enrich(ctx context.Context, tenantID string, category domain.Category, entityID string, fs facts.FactSet) (facts.FactSet, error) {
	if entityID == "" || s == nil || s.cache == nil {
		return fs, nil
	}
	if tenantID == "" {
		return fs, fmt.Errorf("tenantID is required")
	}

	out := fs
	var errs []error
	for _, field := range category.Fields() {
		window, ok := Windows[field]
		if !ok {
			continue
		}
		n, err := s.cache.IncrementCounter(ctx, tenantID, counterKey(category, entityID, field), window)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to count %s for %s: %w", field, entityID, err))
			continue
		}
		if _, supplied := fs[field]; supplied {
			continue
		}
		out = out.With(field, facts.Number(float64(n)))
	}
	return out, errors.Join(errs...)
}

func counterKey(category domain.Category, entityID, field string) string {
	return "velocity:" + string(category) + ":" + field + ":" + entityID
}
