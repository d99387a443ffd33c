package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/bus"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/decision"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/repository"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
)

func newTestPipeline(t *testing.T, eventBus domain.EventBus, repo domain.Repository) *decision.Pipeline {
	t.Helper()
	reg := rules.NewRegistry(0)
	errs := reg.Load([]*domain.Rule{
		{
			ID:        "high-amount",
			Name:      "High amount",
			Category:  domain.CategoryTransaction,
			Condition: json.RawMessage(`{">":[{"var":"amount"},10000]}`),
			RiskScore: 30,
			Priority:  1,
			IsActive:  true,
			Version:   1,
		},
		{
			ID:        "sanctioned",
			Name:      "Sanctioned country",
			Category:  domain.CategoryTransaction,
			Condition: json.RawMessage(`{"in":[{"var":"sender_country"},["AF","IR","KP","SY"]]}`),
			RiskScore: 50,
			Priority:  2,
			IsActive:  true,
			Version:   1,
		},
	})
	if len(errs) > 0 {
		t.Fatalf("failed to load rules: %v", errs)
	}
	return decision.NewPipeline(
		rules.NewEngine(reg, 2),
		decision.NewProcessor(domain.EngineConfig{DefaultThreshold: 70}),
		decision.Options{Bus: eventBus, Repository: repo},
	)
}

func publishEvaluate(t *testing.T, eventBus domain.EventBus, tenantID string, req EvaluateMessage) {
	t.Helper()
	payload, _ := json.Marshal(req)
	if err := eventBus.Publish(context.Background(), tenantID, domain.TopicEntityEvaluate, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func awaitMessage(t *testing.T, ch chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, newTestPipeline(t, eventBus, nil), nil)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001", "tenant-002"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if got := w.GetStats().SubscriptionCount; got != 2 {
			t.Errorf("expected 2 subscriptions, got %d", got)
		}

		w.Stop()
		if got := w.GetStats().SubscriptionCount; got != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", got)
		}
	})

	t.Run("EvaluatesAndPublishes", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		results := make(chan *domain.Message, 1)
		escalations := make(chan *domain.Message, 1)
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicEvaluationResult, func(ctx context.Context, msg *domain.Message) error {
			results <- msg
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicCaseEscalation, func(ctx context.Context, msg *domain.Message) error {
			escalations <- msg
			return nil
		})

		w := NewWorker(eventBus, newTestPipeline(t, eventBus, nil), nil)
		w.Start(Config{TenantIDs: []string{"tenant-001"}})
		defer w.Stop()

		publishEvaluate(t, eventBus, "tenant-001", EvaluateMessage{
			EntityID: "cust-1",
			TraceID:  "trace-abc",
			Category: "transaction",
			Facts:    map[string]any{"amount": 15000, "sender_country": "KP"},
		})

		var eval domain.Evaluation
		if err := json.Unmarshal(awaitMessage(t, results).Payload, &eval); err != nil {
			t.Fatalf("invalid result payload: %v", err)
		}
		if eval.Score != 80 || eval.Status != domain.StatusEscalate {
			t.Errorf("expected 80/ESCALATE, got %d/%s", eval.Score, eval.Status)
		}
		if eval.Metadata.TraceID != "trace-abc" {
			t.Errorf("expected trace-abc, got %s", eval.Metadata.TraceID)
		}
		if eval.EntityID != "cust-1" {
			t.Errorf("expected cust-1, got %s", eval.EntityID)
		}
		awaitMessage(t, escalations)
	})

	t.Run("GlobalSubscriptionUsesPayloadTenant", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		results := make(chan *domain.Message, 1)
		eventBus.Subscribe(ctx, "tenant-009", domain.TopicEvaluationResult, func(ctx context.Context, msg *domain.Message) error {
			results <- msg
			return nil
		})

		w := NewWorker(eventBus, newTestPipeline(t, eventBus, nil), nil)
		w.Start(Config{})
		defer w.Stop()

		publishEvaluate(t, eventBus, domain.GlobalTenantID, EvaluateMessage{
			TenantID: "tenant-009",
			Category: "transaction",
			Facts:    map[string]any{"amount": 500},
		})

		var eval domain.Evaluation
		json.Unmarshal(awaitMessage(t, results).Payload, &eval)
		if eval.TenantID != "tenant-009" || eval.Status != domain.StatusClear {
			t.Errorf("expected CLEAR for tenant-009, got %s for %s", eval.Status, eval.TenantID)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, newTestPipeline(t, eventBus, nil), nil)
		w.Start(Config{TenantIDs: []string{"tenant-001"}})
		defer w.Stop()

		payload, _ := json.Marshal(EvaluateMessage{Category: "transaction", Facts: map[string]any{"amount": 20000}})
		reply, err := eventBus.Request(ctx, "tenant-001", domain.TopicEntityEvaluate, payload)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		var resp domain.EvaluationResponse
		if err := json.Unmarshal(reply, &resp); err != nil {
			t.Fatalf("invalid reply: %v", err)
		}
		if resp.TotalScore != 30 {
			t.Errorf("expected 30, got %d", resp.TotalScore)
		}
		if len(resp.Reasons) != 1 || resp.Reasons[0] != "High amount" {
			t.Errorf("unexpected reasons %v", resp.Reasons)
		}
	})

	t.Run("InvalidCategoryReplies", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, newTestPipeline(t, eventBus, nil), nil)
		w.Start(Config{TenantIDs: []string{"tenant-001"}})
		defer w.Stop()

		payload, _ := json.Marshal(EvaluateMessage{Category: "mortgage", Facts: map[string]any{}})
		reply, err := eventBus.Request(ctx, "tenant-001", domain.TopicEntityEvaluate, payload)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var body map[string]string
		json.Unmarshal(reply, &body)
		if body["error"] == "" {
			t.Errorf("expected error reply, got %s", reply)
		}
	})

	t.Run("ReloadsOnRuleChange", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		repo, err := repository.New(domain.RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
		})
		if err != nil {
			t.Fatalf("failed to open repository: %v", err)
		}
		defer repo.Close()

		pipeline := newTestPipeline(t, eventBus, repo)
		w := NewWorker(eventBus, pipeline, repo)
		w.Start(Config{TenantIDs: []string{"tenant-001"}})
		defer w.Stop()

		err = repo.CreateRule(ctx, &domain.Rule{
			ID:        "pep",
			Name:      "PEP",
			Category:  domain.CategoryKYC,
			Condition: json.RawMessage(`{"==":[{"var":"is_pep"},true]}`),
			RiskScore: 40,
			IsActive:  true,
		})
		if err != nil {
			t.Fatalf("create rule failed: %v", err)
		}

		payload, _ := json.Marshal(domain.RulesChangedEvent{RuleID: "pep", Action: "created"})
		eventBus.Publish(ctx, domain.GlobalTenantID, domain.TopicRulesChanged, payload)

		registry := pipeline.Engine().Registry()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if _, ok := registry.Get("pep"); ok {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if _, ok := registry.Get("pep"); !ok {
			t.Fatal("expected pep rule after reload")
		}
		// The store is the source of truth; rules only loaded in memory are gone.
		if registry.Count() != 1 {
			t.Errorf("expected 1 rule after reload, got %d", registry.Count())
		}
	})
}
