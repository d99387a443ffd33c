package rules

import (
	"sort"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// MaxTotalScore caps the aggregate score of a category evaluation.
const MaxTotalScore = 100

// Aggregate sums the contributed scores of matched rules and caps the total
// at MaxTotalScore. Every matched rule is listed even when the cap is hit.
// Results are expected in snapshot order; unmatched results keep that order.
func Aggregate(category domain.Category, results []domain.MatchResult) domain.AggregateResult {
	agg := domain.AggregateResult{
		Category:       category,
		MatchedRules:   []domain.MatchResult{},
		RulesEvaluated: len(results),
	}

	for _, r := range results {
		if !r.Matched {
			agg.UnmatchedRules = append(agg.UnmatchedRules, r)
			continue
		}
		agg.RawScore += r.ContributedScore
		agg.MatchedRules = append(agg.MatchedRules, r)
	}

	sort.SliceStable(agg.MatchedRules, func(i, j int) bool {
		a, b := agg.MatchedRules[i], agg.MatchedRules[j]
		if a.ContributedScore != b.ContributedScore {
			return a.ContributedScore > b.ContributedScore
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.RuleID < b.RuleID
	})

	agg.TotalScore = max(0, min(MaxTotalScore, agg.RawScore))
	agg.Capped = agg.RawScore > MaxTotalScore
	return agg
}
