package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/decision"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/metrics"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Handler holds dependencies for API handlers. Repository, cache, bus and
// metrics may be nil.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *decision.Pipeline
	registry *rules.Registry
	metrics  *metrics.Collector
	version  string
	validate *validator.Validate
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pipeline *decision.Pipeline, m *metrics.Collector, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		pipeline: pipeline,
		registry: pipeline.Engine().Registry(),
		metrics:  m,
		version:  version,
		validate: newValidator(),
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	Category string         `json:"category" validate:"required,category"`
	EntityID string         `json:"entityId" validate:"max=256"`
	Facts    map[string]any `json:"facts"`
	Explain  bool           `json:"explain"`
}

// Evaluate handles POST /evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		respondError(w, r, err)
		return
	}
	fs, err := facts.NewFactSet(req.Facts)
	if err != nil {
		respondError(w, r, badRequest("%v", err))
		return
	}

	eval, err := h.pipeline.Evaluate(ctx, decision.Request{
		TenantID: GetTenantID(ctx),
		EntityID: req.EntityID,
		TraceID:  GetTraceID(ctx),
		Category: category,
		Facts:    fs,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, eval.ToResponse(req.Explain))
}

// GetEvaluation handles GET /evaluations/{id}. Evaluations of other tenants
// are not found.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	ctx := r.Context()
	eval, err := h.repo.GetEvaluation(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval.ToResponse(true))
}

// ListEntityEvaluations handles GET /entities/{id}/evaluations?limit=, newest
// first.
func (h *Handler) ListEntityEvaluations(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx := r.Context()
	entityID := chi.URLParam(r, "id")
	evals, err := h.repo.ListEvaluationsByEntity(ctx, GetTenantID(ctx), entityID, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]*domain.EvaluationResponse, 0, len(evals))
	for _, e := range evals {
		out = append(out, e.ToResponse(false))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entityId":    entityID,
		"evaluations": out,
		"count":       len(out),
	})
}

// Health reports the state of every backing service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports the loaded registry state.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	version, fingerprint := h.registry.Version()
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":               true,
		"rules":               h.registry.Count(),
		"registryVersion":     version,
		"registryFingerprint": fingerprint,
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}
