package decision

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/bus"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/cache"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/metrics"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/repository"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/velocity"
)

func testRule(id string, category domain.Category, condition string, score, priority int) *domain.Rule {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Rule{
		ID:        id,
		Name:      "Rule " + id,
		Category:  category,
		Condition: json.RawMessage(condition),
		RiskScore: score,
		Priority:  priority,
		IsActive:  true,
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func testEngine(t *testing.T) *rules.Engine {
	t.Helper()
	reg := rules.NewRegistry(0)
	errs := reg.Load([]*domain.Rule{
		testRule("high-amount", domain.CategoryTransaction, `{">":[{"var":"amount"},10000]}`, 30, 1),
		testRule("sanctioned", domain.CategoryTransaction, `{"in":[{"var":"sender_country"},["AF","IR","KP","SY"]]}`, 50, 2),
		testRule("burst", domain.CategoryBehavioral, `{">=":[{"var":"transactions_5min"},3]}`, 60, 1),
	})
	if len(errs) > 0 {
		t.Fatalf("failed to load rules: %v", errs)
	}
	return rules.NewEngine(reg, 4)
}

func testFacts(t *testing.T, raw map[string]any) facts.FactSet {
	t.Helper()
	fs, err := facts.NewFactSet(raw)
	if err != nil {
		t.Fatalf("invalid facts: %v", err)
	}
	return fs
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor(domain.EngineConfig{
		DefaultThreshold: 70,
		Thresholds:       map[domain.Category]int{domain.CategoryKYC: 50},
	})
	ctx := context.Background()

	t.Run("Escalate", func(t *testing.T) {
		eval := proc.Process(ctx, &Input{
			TenantID:  "tenant-001",
			EntityID:  "cust-1",
			TraceID:   "trace-001",
			StartTime: time.Now(),
			Result: &domain.AggregateResult{
				Category:   domain.CategoryTransaction,
				TotalScore: 80,
				MatchedRules: []domain.MatchResult{
					{RuleID: "b", RuleName: "Sanctioned", ContributedScore: 50},
					{RuleID: "a", RuleName: "High amount", ContributedScore: 30},
				},
				RulesEvaluated:      2,
				SnapshotVersion:     4,
				SnapshotFingerprint: "abc",
			},
		})

		if eval.Status != domain.StatusEscalate {
			t.Errorf("expected ESCALATE, got %s", eval.Status)
		}
		if eval.ID == "" {
			t.Error("expected evaluation id")
		}
		if eval.Score != 80 {
			t.Errorf("expected score 80, got %d", eval.Score)
		}
		if eval.Metadata.Threshold != 70 {
			t.Errorf("expected threshold 70, got %d", eval.Metadata.Threshold)
		}
		if eval.Metadata.RulesMatched != 2 || eval.Metadata.SnapshotVersion != 4 {
			t.Errorf("unexpected metadata %+v", eval.Metadata)
		}
		if eval.Metadata.EngineVersion != EngineVersion {
			t.Errorf("expected engine version %s, got %s", EngineVersion, eval.Metadata.EngineVersion)
		}
		if !ShouldEscalate(eval) {
			t.Error("expected ShouldEscalate")
		}

		reasons := Reasons(eval)
		if len(reasons) != 2 || reasons[0] != "Sanctioned" {
			t.Errorf("expected reasons in contribution order, got %v", reasons)
		}
	})

	t.Run("ThresholdIsInclusive", func(t *testing.T) {
		eval := proc.Process(ctx, &Input{
			TenantID:  "tenant-001",
			StartTime: time.Now(),
			Result:    &domain.AggregateResult{Category: domain.CategoryKYC, TotalScore: 50},
		})
		if eval.Status != domain.StatusEscalate {
			t.Errorf("expected ESCALATE at kyc threshold 50, got %s", eval.Status)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		eval := proc.Process(ctx, &Input{
			TenantID:  "tenant-001",
			StartTime: time.Now(),
			Result:    &domain.AggregateResult{Category: domain.CategoryBehavioral, TotalScore: 69, MatchedRules: []domain.MatchResult{}},
		})
		if eval.Status != domain.StatusClear {
			t.Errorf("expected CLEAR, got %s", eval.Status)
		}
		if len(Reasons(eval)) != 0 {
			t.Errorf("expected no reasons, got %v", Reasons(eval))
		}
	})
}

type recordingArchive struct {
	mu    sync.Mutex
	evals []*domain.Evaluation
	err   error
}

func (a *recordingArchive) Archive(ctx context.Context, eval *domain.Evaluation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evals = append(a.evals, eval)
	return a.err
}

func (a *recordingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.evals)
}

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "decision.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("EndToEnd", func(t *testing.T) {
		repo := newTestRepo(t)
		archive := &recordingArchive{}
		eventBus := bus.NewChannelBus(10)
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

		p := NewPipeline(testEngine(t), NewProcessor(domain.EngineConfig{DefaultThreshold: 70}), Options{
			Repository: repo,
			Archive:    archive,
			Bus:        eventBus,
			Metrics:    metrics.New(),
		})

		eval, err := p.Evaluate(ctx, Request{
			TenantID: "tenant-001",
			EntityID: "cust-1",
			TraceID:  "trace-1",
			Category: domain.CategoryTransaction,
			Facts:    testFacts(t, map[string]any{"amount": 15000, "sender_country": "IR"}),
		})
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if eval.Score != 80 || eval.Status != domain.StatusEscalate {
			t.Errorf("expected 80/ESCALATE, got %d/%s", eval.Score, eval.Status)
		}
		if eval.Result.MatchedRules[0].RuleID != "sanctioned" {
			t.Errorf("expected sanctioned first, got %s", eval.Result.MatchedRules[0].RuleID)
		}

		stored, err := repo.GetEvaluation(ctx, "tenant-001", eval.ID)
		if err != nil {
			t.Fatalf("evaluation not stored: %v", err)
		}
		if stored.Score != 80 {
			t.Errorf("expected stored score 80, got %d", stored.Score)
		}
		if archive.count() != 1 {
			t.Errorf("expected 1 archived evaluation, got %d", archive.count())
		}

		for name, ch := range map[string]chan *domain.Message{"result": results, "escalation": escalations} {
			select {
			case msg := <-ch:
				var got domain.Evaluation
				if err := json.Unmarshal(msg.Payload, &got); err != nil || got.ID != eval.ID {
					t.Errorf("%s: unexpected payload %s", name, msg.Payload)
				}
			case <-time.After(time.Second):
				t.Errorf("timeout waiting for %s", name)
			}
		}
	})

	t.Run("ClearDoesNotEscalate", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		escalations := make(chan struct{}, 1)
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicCaseEscalation, func(ctx context.Context, msg *domain.Message) error {
			escalations <- struct{}{}
			return nil
		})

		p := NewPipeline(testEngine(t), NewProcessor(domain.EngineConfig{DefaultThreshold: 70}), Options{Bus: eventBus})
		eval, err := p.Evaluate(ctx, Request{
			TenantID: "tenant-001",
			Category: domain.CategoryTransaction,
			Facts:    testFacts(t, map[string]any{"amount": 5000}),
		})
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if eval.Status != domain.StatusClear || eval.Score != 0 {
			t.Errorf("expected 0/CLEAR, got %d/%s", eval.Score, eval.Status)
		}

		select {
		case <-escalations:
			t.Error("clear evaluation must not escalate")
		case <-time.After(30 * time.Millisecond):
		}
	})

	t.Run("ResultCache", func(t *testing.T) {
		p := NewPipeline(testEngine(t), NewProcessor(domain.EngineConfig{DefaultThreshold: 70}), Options{
			Cache:     cache.NewLRUCache(100),
			ResultTTL: time.Minute,
		})
		req := Request{
			TenantID: "tenant-001",
			Category: domain.CategoryTransaction,
			Facts:    testFacts(t, map[string]any{"amount": 15000}),
		}

		first, err := p.Evaluate(ctx, req)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		second, err := p.Evaluate(ctx, req)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}

		if first.Metadata.CacheHit {
			t.Error("first evaluation should miss the cache")
		}
		if !second.Metadata.CacheHit {
			t.Error("second evaluation should hit the cache")
		}
		if first.ID == second.ID {
			t.Error("each evaluation gets its own id")
		}
		if second.Score != first.Score {
			t.Errorf("expected cached score %d, got %d", first.Score, second.Score)
		}

		// A registry change alters the fingerprint and invalidates the entry.
		p.Engine().Registry().Remove("high-amount")
		third, _ := p.Evaluate(ctx, req)
		if third.Metadata.CacheHit {
			t.Error("registry change should miss the cache")
		}
		if third.Score != 0 {
			t.Errorf("expected 0 after removal, got %d", third.Score)
		}
	})

	t.Run("VelocityEnrichment", func(t *testing.T) {
		p := NewPipeline(testEngine(t), NewProcessor(domain.EngineConfig{DefaultThreshold: 50}), Options{
			Velocity: velocity.NewService(cache.NewLRUCache(100)),
		})
		req := Request{
			TenantID: "tenant-001",
			EntityID: "cust-7",
			Category: domain.CategoryBehavioral,
			Facts:    facts.FactSet{},
		}

		var eval *domain.Evaluation
		for i := 0; i < 3; i++ {
			var err error
			if eval, err = p.Evaluate(ctx, req); err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
		}
		if eval.Score != 60 || eval.Status != domain.StatusEscalate {
			t.Errorf("expected third event to trip burst rule, got %d/%s", eval.Score, eval.Status)
		}
	})

	t.Run("ArchiveFailureIsNotFatal", func(t *testing.T) {
		p := NewPipeline(testEngine(t), NewProcessor(domain.EngineConfig{DefaultThreshold: 70}), Options{
			Archive: &recordingArchive{err: errors.New("s3 down")},
		})
		if _, err := p.Evaluate(ctx, Request{TenantID: "t", Category: domain.CategoryKYC, Facts: facts.FactSet{}}); err != nil {
			t.Errorf("expected archive failure to be logged only, got %v", err)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		p := NewPipeline(testEngine(t), NewProcessor(domain.EngineConfig{}), Options{Metrics: metrics.New()})
		_, err := p.Evaluate(ctx, Request{TenantID: "t", Category: "mortgage", Facts: facts.FactSet{}})
		if !errors.Is(err, domain.ErrUnknownCategory) {
			t.Errorf("expected ErrUnknownCategory, got %v", err)
		}
	})
}
