package decision

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/cache"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/metrics"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/velocity"
)

// Options wires the optional collaborators of a Pipeline. Any of them may be
// nil.
type Options struct {
	Repository domain.Repository
	Cache      domain.Cache
	ResultTTL  time.Duration
	Velocity   *velocity.Service
	Archive    domain.AuditArchive
	Bus        domain.EventBus
	Metrics    *metrics.Collector
}

// Pipeline evaluates an entity end to end: velocity enrichment, result cache,
// rule evaluation, decision, persistence, archive and event publication.
type Pipeline struct {
	engine    *rules.Engine
	processor *Processor
	opts      Options
}

// NewPipeline creates a pipeline.
func NewPipeline(engine *rules.Engine, processor *Processor, opts Options) *Pipeline {
	return &Pipeline{engine: engine, processor: processor, opts: opts}
}

// Engine returns the rule engine.
func (p *Pipeline) Engine() *rules.Engine {
	return p.engine
}

// Processor returns the decision processor.
func (p *Pipeline) Processor() *Processor {
	return p.processor
}

// Request is one entity evaluation.
type Request struct {
	TenantID string
	EntityID string
	TraceID  string
	Category domain.Category
	Facts    facts.FactSet
}

// Evaluate runs the pipeline. It fails only when the category is unknown;
// storage, archive and publication errors are logged and don't affect the
// returned decision.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (*domain.Evaluation, error) {
	start := time.Now()

	fs := req.Facts
	if p.opts.Velocity != nil && req.EntityID != "" && req.Category.Valid() {
		enriched, err := p.opts.Velocity.Enrich(ctx, req.TenantID, req.Category, req.EntityID, fs)
		if err != nil {
			slog.Warn("velocity enrichment failed",
				"tenant_id", req.TenantID,
				"entity_id", req.EntityID,
				"error", err,
			)
		}
		if enriched != nil {
			fs = enriched
		}
	}

	rulesStart := time.Now()
	result, hit, err := p.aggregate(ctx, req.TenantID, req.Category, fs)
	if err != nil {
		p.opts.Metrics.ObserveError(req.Category)
		return nil, err
	}
	rulesDuration := time.Since(rulesStart)

	eval := p.processor.Process(ctx, &Input{
		TenantID:      req.TenantID,
		EntityID:      req.EntityID,
		TraceID:       req.TraceID,
		Result:        result,
		StartTime:     start,
		RulesDuration: rulesDuration,
		CacheHit:      hit,
	})

	p.record(ctx, eval)
	p.opts.Metrics.ObserveEvaluation(eval, time.Since(start))
	p.opts.Metrics.SetRegistry(p.engine.Registry().Count(), result.SnapshotVersion)

	slog.Info("entity evaluated",
		"evaluation_id", eval.ID,
		"tenant_id", eval.TenantID,
		"entity_id", eval.EntityID,
		"category", eval.Category,
		"status", eval.Status,
		"score", eval.Score,
		"trace_id", req.TraceID,
		"cache_hit", hit,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return eval, nil
}

// aggregate returns the cached result for the current registry state when
// there is one, otherwise evaluates and caches.
func (p *Pipeline) aggregate(ctx context.Context, tenantID string, category domain.Category, fs facts.FactSet) (*domain.AggregateResult, bool, error) {
	useCache := p.opts.Cache != nil && p.opts.ResultTTL > 0 && category.Valid()

	if useCache {
		_, fingerprint := p.engine.Registry().Version()
		if key, err := cache.ResultKey(category, fingerprint, fs); err == nil {
			cached, err := p.opts.Cache.GetResult(ctx, tenantID, key)
			if err != nil {
				slog.Warn("result cache lookup failed", "tenant_id", tenantID, "error", err)
			}
			p.opts.Metrics.ObserveCache(cached != nil)
			if cached != nil {
				return cached, true, nil
			}
		}
	}

	result, err := p.engine.EvaluateEntity(ctx, category, fs)
	if err != nil {
		return nil, false, err
	}

	if useCache {
		if key, err := cache.ResultKey(category, result.SnapshotFingerprint, fs); err == nil {
			if err := p.opts.Cache.SetResult(ctx, tenantID, key, result, p.opts.ResultTTL); err != nil {
				slog.Warn("result cache store failed", "tenant_id", tenantID, "error", err)
			}
		}
	}
	return result, false, nil
}

func (p *Pipeline) record(ctx context.Context, eval *domain.Evaluation) {
	if p.opts.Repository != nil {
		if err := p.opts.Repository.SaveEvaluation(ctx, eval.TenantID, eval); err != nil {
			slog.Error("failed to save evaluation", "evaluation_id", eval.ID, "error", err)
		}
	}

	if p.opts.Archive != nil {
		if err := p.opts.Archive.Archive(ctx, eval); err != nil {
			slog.Error("failed to archive evaluation", "evaluation_id", eval.ID, "error", err)
		}
	}

	if p.opts.Bus == nil {
		return
	}
	payload, err := json.Marshal(eval)
	if err != nil {
		slog.Error("failed to marshal evaluation", "evaluation_id", eval.ID, "error", err)
		return
	}
	if err := p.opts.Bus.Publish(ctx, eval.TenantID, domain.TopicEvaluationResult, payload); err != nil {
		slog.Error("failed to publish evaluation result", "evaluation_id", eval.ID, "error", err)
	}
	if ShouldEscalate(eval) {
		if err := p.opts.Bus.Publish(ctx, eval.TenantID, domain.TopicCaseEscalation, payload); err != nil {
			slog.Error("failed to publish escalation", "evaluation_id", eval.ID, "error", err)
		}
	}
}
