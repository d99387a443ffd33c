// Package metrics exposes Prometheus collectors for evaluations, rule
// matches and the rule registry on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// Collector records engine activity. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	evaluations      *prometheus.CounterVec
	evaluationErrors *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	scores           *prometheus.HistogramVec
	ruleMatches      *prometheus.CounterVec
	traceErrors      *prometheus.CounterVec
	registryRules    prometheus.Gauge
	registryVersion  prometheus.Gauge
	cacheLookups     *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "evaluations_total",
			Help:      "Entity evaluations by category and decision status.",
		}, []string{"category", "status"}),
		evaluationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "evaluation_errors_total",
			Help:      "Evaluations that failed before a decision was made.",
		}, []string{"category"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "evaluation_duration_seconds",
			Help:      "Time taken to evaluate an entity.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"category"}),
		scores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "risk_score",
			Help:      "Distribution of aggregate risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"category"}),
		ruleMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "rule_matches_total",
			Help:      "Rules that matched, by rule id.",
		}, []string{"category", "rule_id"}),
		traceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "fact_resolution_errors_total",
			Help:      "Comparisons that failed closed, by error kind.",
		}, []string{"category", "kind"}),
		registryRules: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "riskengine",
			Name:      "registry_rules",
			Help:      "Rules currently loaded in the registry.",
		}),
		registryVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "riskengine",
			Name:      "registry_version",
			Help:      "Current registry state version.",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "result_cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveEvaluation records a finished evaluation.
func (c *Collector) ObserveEvaluation(eval *domain.Evaluation, took time.Duration) {
	if c == nil || eval == nil {
		return
	}
	cat := string(eval.Category)
	c.evaluations.WithLabelValues(cat, eval.Status).Inc()
	c.duration.WithLabelValues(cat).Observe(took.Seconds())
	c.scores.WithLabelValues(cat).Observe(float64(eval.Score))

	for _, m := range eval.Result.MatchedRules {
		c.ruleMatches.WithLabelValues(cat, m.RuleID).Inc()
	}
	for _, m := range eval.Result.UnmatchedRules {
		countTraceErrors(c.traceErrors, cat, m.Trace)
	}
}

func countTraceErrors(vec *prometheus.CounterVec, category string, n domain.TraceNode) {
	if n.ErrorKind != "" {
		vec.WithLabelValues(category, n.ErrorKind).Inc()
	}
	for _, child := range n.Children {
		countTraceErrors(vec, category, child)
	}
}

// ObserveError records an evaluation that did not complete.
func (c *Collector) ObserveError(category domain.Category) {
	if c == nil {
		return
	}
	c.evaluationErrors.WithLabelValues(string(category)).Inc()
}

// ObserveCache records a result cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	if c == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheLookups.WithLabelValues(outcome).Inc()
}

// SetRegistry records the registry size and version.
func (c *Collector) SetRegistry(rules int, version uint64) {
	if c == nil {
		return
	}
	c.registryRules.Set(float64(rules))
	c.registryVersion.Set(float64(version))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
