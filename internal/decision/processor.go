// Package decision turns aggregate risk scores into escalation decisions
// and runs the full evaluation pipeline around the rule engine.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// EngineVersion is stamped on every evaluation.
const EngineVersion = "riskengine-1.0"

// Processor decides the status of an aggregate result.
type Processor struct {
	cfg domain.EngineConfig
}

// NewProcessor creates a processor with per-category thresholds.
func NewProcessor(cfg domain.EngineConfig) *Processor {
	return &Processor{cfg: cfg}
}

// Threshold returns the escalation threshold of a category.
func (p *Processor) Threshold(category domain.Category) int {
	return p.cfg.Threshold(category)
}

// Input contains everything needed to build an evaluation record.
type Input struct {
	TenantID      string
	EntityID      string
	TraceID       string
	Result        *domain.AggregateResult
	StartTime     time.Time
	RulesDuration time.Duration
	CacheHit      bool
}

// Process builds the evaluation record. The status is ESCALATE when the total
// score reaches the category threshold.
func (p *Processor) Process(ctx context.Context, in *Input) *domain.Evaluation {
	start := time.Now()
	result := *in.Result
	threshold := p.Threshold(result.Category)

	eval := &domain.Evaluation{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		EntityID:  in.EntityID,
		Category:  result.Category,
		Status:    domain.StatusClear,
		Score:     result.TotalScore,
		Timestamp: time.Now().UTC(),
		Result:    result,
	}
	if result.TotalScore >= threshold {
		eval.Status = domain.StatusEscalate
	}

	eval.Metadata = domain.EvaluationMetadata{
		TraceID:             in.TraceID,
		RulesMs:             in.RulesDuration.Milliseconds(),
		DecisionMs:          time.Since(start).Milliseconds(),
		TotalMs:             time.Since(in.StartTime).Milliseconds(),
		RulesEvaluated:      result.RulesEvaluated,
		RulesMatched:        len(result.MatchedRules),
		Threshold:           threshold,
		SnapshotVersion:     result.SnapshotVersion,
		SnapshotFingerprint: result.SnapshotFingerprint,
		CacheHit:            in.CacheHit,
		EngineVersion:       EngineVersion,
	}
	return eval
}

// ShouldEscalate reports whether the evaluation opens a case.
func ShouldEscalate(eval *domain.Evaluation) bool {
	return eval.Status == domain.StatusEscalate
}

// Reasons lists the names of the matched rules in contribution order.
func Reasons(eval *domain.Evaluation) []string {
	reasons := make([]string, 0, len(eval.Result.MatchedRules))
	for _, m := range eval.Result.MatchedRules {
		reasons = append(reasons, m.RuleName)
	}
	return reasons
}
