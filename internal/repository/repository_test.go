package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "riskengine-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRule(id string, category domain.Category, priority int) *domain.Rule {
	return &domain.Rule{
		ID:        id,
		Name:      "Rule " + id,
		Category:  category,
		Condition: json.RawMessage(`{">":[{"var":"amount"},10000]}`),
		RiskScore: 30,
		Priority:  priority,
		IsActive:  true,
	}
}

func TestRuleStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		rule := testRule("rule-001", domain.CategoryTransaction, 1)
		if err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
		if rule.Version != 1 {
			t.Errorf("expected version 1, got %d", rule.Version)
		}

		got, err := repo.GetRule(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Category != domain.CategoryTransaction {
			t.Errorf("expected category transaction, got %s", got.Category)
		}
		if string(got.Condition) != string(rule.Condition) {
			t.Errorf("expected condition %s, got %s", rule.Condition, got.Condition)
		}
		if !got.IsActive || got.RiskScore != 30 {
			t.Errorf("unexpected rule %+v", got)
		}
	})

	t.Run("CreateConflict", func(t *testing.T) {
		err := repo.CreateRule(ctx, testRule("rule-001", domain.CategoryTransaction, 1))
		if !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		bad := testRule("rule-bad", "payments", 1)
		if err := repo.CreateRule(ctx, bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for category, got %v", err)
		}

		bad = testRule("rule-bad", domain.CategoryTransaction, 1)
		bad.RiskScore = 101
		if err := repo.CreateRule(ctx, bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for score, got %v", err)
		}
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		rule, _ := repo.GetRule(ctx, "rule-001")
		rule.RiskScore = 45
		if err := repo.UpdateRule(ctx, rule); err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}
		if rule.Version != 2 {
			t.Errorf("expected version 2, got %d", rule.Version)
		}
		if rule.RiskScore != 45 {
			t.Errorf("expected risk score 45, got %d", rule.RiskScore)
		}
	})

	t.Run("Toggle", func(t *testing.T) {
		rule, err := repo.SetRuleActive(ctx, "rule-001", false)
		if err != nil {
			t.Fatalf("SetRuleActive failed: %v", err)
		}
		if rule.IsActive {
			t.Error("expected rule to be inactive")
		}
		if rule.Version != 3 {
			t.Errorf("expected version 3, got %d", rule.Version)
		}

		if _, err := repo.SetRuleActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		for _, r := range []*domain.Rule{
			testRule("rule-002", domain.CategoryTransaction, 0),
			testRule("rule-003", domain.CategoryKYC, 5),
		} {
			if r.Category == domain.CategoryKYC {
				r.Condition = json.RawMessage(`{"==":[{"var":"is_pep"},true]}`)
			}
			if err := repo.CreateRule(ctx, r); err != nil {
				t.Fatalf("CreateRule failed: %v", err)
			}
		}

		all, err := repo.ListRules(ctx, domain.RuleFilter{})
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 rules, got %d", len(all))
		}
		if all[0].ID != "rule-002" {
			t.Errorf("expected lowest priority first, got %s", all[0].ID)
		}

		active, _ := repo.ListRules(ctx, domain.RuleFilter{Category: domain.CategoryTransaction, ActiveOnly: true})
		if len(active) != 1 || active[0].ID != "rule-002" {
			t.Errorf("expected only rule-002 active in transaction, got %d", len(active))
		}
	})

	t.Run("SoftDelete", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, "rule-002"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if _, err := repo.GetRule(ctx, "rule-002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRule(ctx, "rule-002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		if err := repo.CreateRule(ctx, testRule("rule-002", domain.CategoryTransaction, 0)); !errors.Is(err, ErrConflict) {
			t.Errorf("expected deleted id not to be reused, got %v", err)
		}

		rules, _ := repo.ListRules(ctx, domain.RuleFilter{})
		for _, r := range rules {
			if r.ID == "rule-002" {
				t.Error("expected deleted rule not to be listed")
			}
		}
	})
}

func TestEvaluationStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"eval-001", "eval-002"} {
		eval := &domain.Evaluation{
			ID:        id,
			EntityID:  "customer-1",
			Category:  domain.CategoryTransaction,
			Status:    domain.StatusEscalate,
			Score:     80,
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Result: domain.AggregateResult{
				Category:     domain.CategoryTransaction,
				TotalScore:   80,
				RawScore:     80,
				MatchedRules: []domain.MatchResult{{RuleID: "rule-001", Matched: true, ContributedScore: 80}},
			},
			Metadata: domain.EvaluationMetadata{TraceID: "trace-001", Threshold: 70},
		}
		if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetEvaluation(ctx, tenantID, "eval-001")
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if got.Score != 80 || got.Status != domain.StatusEscalate {
			t.Errorf("unexpected evaluation %+v", got)
		}
		if len(got.Result.MatchedRules) != 1 || got.Result.MatchedRules[0].RuleID != "rule-001" {
			t.Errorf("expected matched rules to round trip, got %+v", got.Result.MatchedRules)
		}
		if got.Metadata.TraceID != "trace-001" {
			t.Errorf("expected trace id trace-001, got %s", got.Metadata.TraceID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetEvaluation(ctx, "tenant-002", "eval-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveEvaluation(ctx, "", &domain.Evaluation{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetEvaluation(ctx, "", "eval-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ListByEntity", func(t *testing.T) {
		evals, err := repo.ListEvaluationsByEntity(ctx, tenantID, "customer-1", 0)
		if err != nil {
			t.Fatalf("ListEvaluationsByEntity failed: %v", err)
		}
		if len(evals) != 2 {
			t.Fatalf("expected 2 evaluations, got %d", len(evals))
		}
		if evals[0].ID != "eval-002" {
			t.Errorf("expected newest first, got %s", evals[0].ID)
		}

		limited, _ := repo.ListEvaluationsByEntity(ctx, tenantID, "customer-1", 1)
		if len(limited) != 1 {
			t.Errorf("expected limit 1, got %d", len(limited))
		}

		other, _ := repo.ListEvaluationsByEntity(ctx, "tenant-002", "customer-1", 0)
		if len(other) != 0 {
			t.Errorf("expected no evaluations for other tenant, got %d", len(other))
		}
	})
}

func TestUnsupportedDriverMySQL(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
