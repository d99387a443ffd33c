package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/condition"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/templates"
)

// Rule change actions carried by domain.RulesChangedEvent.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionToggled  = "toggled"
	ActionDeleted  = "deleted"
	ActionReloaded = "reloaded"
)

// RuleRequest is the body of POST /rules and PUT /rules/{id}. The condition
// is given either as JSON logic or as an expression.
type RuleRequest struct {
	ID          string          `json:"id" validate:"max=128"`
	Name        string          `json:"name" validate:"required,max=256"`
	Description string          `json:"description" validate:"max=4096"`
	Category    string          `json:"category" validate:"required,category"`
	Condition   json.RawMessage `json:"condition"`
	Expression  string          `json:"expression"`
	RiskScore   int             `json:"riskScore" validate:"min=1,max=100"`
	Priority    int             `json:"priority"`
	IsActive    *bool           `json:"isActive"`
}

// ValidateRequest is the body of POST /rules/validate.
type ValidateRequest struct {
	Category   string          `json:"category" validate:"required,category"`
	Condition  json.RawMessage `json:"condition"`
	Expression string          `json:"expression"`
}

// TestRequest is the body of POST /rules/{id}/test.
type TestRequest struct {
	Facts map[string]any `json:"facts"`
}

// DraftRequest is the body of POST /templates/{id}/draft.
type DraftRequest struct {
	RuleID      string `json:"ruleId" validate:"max=128"`
	Name        string `json:"name" validate:"max=256"`
	Description string `json:"description" validate:"max=4096"`
	RiskScore   int    `json:"riskScore" validate:"omitempty,min=1,max=100"`
	Priority    *int   `json:"priority"`
	Inactive    bool   `json:"inactive"`
}

type ruleView struct {
	*domain.Rule
	Loaded bool `json:"loaded"`
}

// ListRules handles GET /rules?category=&active=.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	q := r.URL.Query()
	var filter domain.RuleFilter
	if s := q.Get("category"); s != "" {
		c, err := domain.ParseCategory(s)
		if err != nil {
			respondError(w, r, err)
			return
		}
		filter.Category = c
	}
	var onlyInactive bool
	if s := q.Get("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			respondError(w, r, badRequest("active must be a boolean"))
			return
		}
		filter.ActiveOnly = active
		onlyInactive = !active
	}

	stored, err := h.repo.ListRules(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]ruleView, 0, len(stored))
	for _, rule := range stored {
		if onlyInactive && rule.IsActive {
			continue
		}
		out = append(out, h.view(rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": out,
		"count": len(out),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(rule))
}

// CreateRule validates, stores and loads a new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var req RuleRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	rule, err := h.buildRule(req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if req.IsActive == nil {
		rule.IsActive = true
	}

	if err := h.repo.CreateRule(ctx, rule); err != nil {
		respondError(w, r, err)
		return
	}
	stored, err := h.repo.GetRule(ctx, rule.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.applyChange(ctx, stored, ActionCreated)
	writeJSON(w, http.StatusCreated, h.view(stored))
}

// UpdateRule replaces a rule's definition. Omitting isActive keeps the
// current state.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req RuleRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ID != "" && req.ID != id {
		respondError(w, r, badRequest("rule id can't be changed"))
		return
	}

	current, err := h.repo.GetRule(ctx, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	rule, err := h.buildRule(req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	rule.ID = id
	if req.IsActive == nil {
		rule.IsActive = current.IsActive
	}

	if err := h.repo.UpdateRule(ctx, rule); err != nil {
		respondError(w, r, err)
		return
	}

	h.applyChange(ctx, rule, ActionUpdated)
	writeJSON(w, http.StatusOK, h.view(rule))
}

// ToggleRule flips a rule between active and inactive.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	current, err := h.repo.GetRule(ctx, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	stored, err := h.repo.SetRuleActive(ctx, id, !current.IsActive)
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.applyChange(ctx, stored, ActionToggled)
	writeJSON(w, http.StatusOK, h.view(stored))
}

// DeleteRule soft-deletes a rule and unloads it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(ctx, id); err != nil {
		respondError(w, r, err)
		return
	}
	h.registry.Remove(id)
	h.publishRuleChange(ctx, id, ActionDeleted)

	slog.Info("rule deleted", "rule_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ValidateRule checks a condition without storing anything and returns its
// canonical form.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		respondError(w, r, err)
		return
	}
	cond, err := h.compileCondition(category, req.Condition, req.Expression)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"category":  category,
		"condition": cond,
	})
}

// ReloadRules replaces the registry content with the stored rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	res, err := h.registry.Reload(ctx, h.repo)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.metrics.SetRegistry(h.registry.Count(), res.Version)
	h.publishRuleChange(ctx, "", ActionReloaded)

	writeJSON(w, http.StatusOK, res)
}

// TestRule evaluates one loaded rule, active or not, against the given facts
// and returns its full trace. Nothing is stored.
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	fs, err := facts.NewFactSet(req.Facts)
	if err != nil {
		respondError(w, r, badRequest("%v", err))
		return
	}

	result, err := h.pipeline.Engine().TestRule(chi.URLParam(r, "id"), fs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListTemplates handles GET /templates?category=.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var category domain.Category
	if s := r.URL.Query().Get("category"); s != "" {
		c, err := domain.ParseCategory(s)
		if err != nil {
			respondError(w, r, err)
			return
		}
		category = c
	}

	list, err := templates.List(category)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": list,
		"count":     len(list),
	})
}

// DraftTemplate returns an unsaved rule built from a template. The body is
// optional.
func (h *Handler) DraftTemplate(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, badRequest("invalid JSON request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, r, err)
		return
	}

	draft, err := templates.Draft(chi.URLParam(r, "id"), templates.Overrides{
		RuleID:      req.RuleID,
		Name:        req.Name,
		Description: req.Description,
		RiskScore:   req.RiskScore,
		Priority:    req.Priority,
		Inactive:    req.Inactive,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *Handler) buildRule(req RuleRequest) (*domain.Rule, error) {
	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	cond, err := h.compileCondition(category, req.Condition, req.Expression)
	if err != nil {
		return nil, err
	}
	rule := &domain.Rule{
		ID:          strings.TrimSpace(req.ID),
		Name:        req.Name,
		Description: req.Description,
		Category:    category,
		Condition:   cond,
		RiskScore:   req.RiskScore,
		Priority:    req.Priority,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	return rule, nil
}

// compileCondition validates either form and returns the canonical JSON.
func (h *Handler) compileCondition(category domain.Category, cond json.RawMessage, expr string) (json.RawMessage, error) {
	v := h.registry.Validator()

	var node condition.Node
	var err error
	switch {
	case len(cond) > 0 && expr != "":
		return nil, badRequest("set either condition or expression, not both")
	case expr != "":
		node, err = v.ParseExpression(expr, category)
	case len(cond) > 0:
		node, err = v.Parse(cond, category)
	default:
		return nil, badRequest("condition or expression is required")
	}
	if err != nil {
		return nil, err
	}
	return condition.Marshal(node)
}

// applyChange loads a stored rule into the registry and tells other nodes.
func (h *Handler) applyChange(ctx context.Context, rule *domain.Rule, action string) {
	if err := h.registry.Upsert(rule); err != nil {
		slog.Error("failed to load stored rule", "rule_id", rule.ID, "error", err)
	}
	version, _ := h.registry.Version()
	h.metrics.SetRegistry(h.registry.Count(), version)
	h.publishRuleChange(ctx, rule.ID, action)

	slog.Info("rule changed",
		"rule_id", rule.ID,
		"action", action,
		"category", rule.Category,
		"active", rule.IsActive,
		"version", rule.Version,
	)
}

func (h *Handler) publishRuleChange(ctx context.Context, ruleID, action string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.RulesChangedEvent{RuleID: ruleID, Action: action})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, domain.GlobalTenantID, domain.TopicRulesChanged, payload); err != nil {
		slog.Warn("failed to publish rule change", "rule_id", ruleID, "action", action, "error", err)
	}
}

func (h *Handler) view(rule *domain.Rule) ruleView {
	_, loaded := h.registry.Get(rule.ID)
	return ruleView{Rule: rule, Loaded: loaded}
}
