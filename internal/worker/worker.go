// Package worker evaluates entities asynchronously from the event bus and
// keeps the rule registry in sync with rule change notifications.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/decision"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
)

// Worker consumes evaluation requests from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *decision.Pipeline
	source   rules.Source

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to consume for. Empty consumes the
	// global tenant only.
	TenantIDs []string
}

// NewWorker creates a worker. source may be nil, in which case rule change
// notifications are ignored.
func NewWorker(bus domain.EventBus, pipeline *decision.Pipeline, source rules.Source) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipeline,
		source:   source,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to evaluation requests for every tenant and to rule
// change notifications.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalTenantID}
	}

	for _, tenantID := range tenants {
		tenantID := tenantID
		err := w.subscribe(tenantID, domain.TopicEntityEvaluate, func(ctx context.Context, msg *domain.Message) error {
			return w.processEvaluation(ctx, tenantID, msg)
		})
		if err != nil {
			slog.Error("failed to start worker for tenant", "tenant_id", tenantID, "error", err)
			continue
		}
		slog.Info("tenant worker started", "tenant_id", tenantID, "topic", domain.TopicEntityEvaluate)
	}

	if w.source != nil {
		if err := w.subscribe(domain.GlobalTenantID, domain.TopicRulesChanged, w.handleRulesChanged); err != nil {
			return fmt.Errorf("failed to subscribe to rule changes: %w", err)
		}
	}

	slog.Info("workers started", "tenant_count", len(tenants))
	return nil
}

func (w *Worker) subscribe(tenantID, topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handler)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// EvaluateMessage is the payload of an entity.evaluate message.
type EvaluateMessage struct {
	TenantID string         `json:"tenantId,omitempty"`
	EntityID string         `json:"entityId,omitempty"`
	TraceID  string         `json:"traceId,omitempty"`
	Category string         `json:"category"`
	Facts    map[string]any `json:"facts"`
}

// processEvaluation runs one request through the pipeline. The pipeline
// publishes the result and any escalation; a reply is also sent when the
// message asks for one.
func (w *Worker) processEvaluation(ctx context.Context, tenantID string, msg *domain.Message) error {
	var req EvaluateMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("invalid evaluate message %s: %w", msg.ID, err)
	}

	// The global subscription serves every tenant named in the payload.
	if tenantID == domain.GlobalTenantID && req.TenantID != "" {
		tenantID = req.TenantID
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		return w.replyError(ctx, msg, err)
	}
	fs, err := facts.NewFactSet(req.Facts)
	if err != nil {
		return w.replyError(ctx, msg, err)
	}

	eval, err := w.pipeline.Evaluate(ctx, decision.Request{
		TenantID: tenantID,
		EntityID: req.EntityID,
		TraceID:  traceID,
		Category: category,
		Facts:    fs,
	})
	if err != nil {
		return w.replyError(ctx, msg, err)
	}

	if replyTo := msg.Metadata["replyTo"]; replyTo != "" {
		payload, err := json.Marshal(eval.ToResponse(false))
		if err != nil {
			return err
		}
		return w.bus.Publish(ctx, msg.TenantID, replyTo, payload)
	}
	return nil
}

func (w *Worker) replyError(ctx context.Context, msg *domain.Message, cause error) error {
	if replyTo := msg.Metadata["replyTo"]; replyTo != "" {
		payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
		if err := w.bus.Publish(ctx, msg.TenantID, replyTo, payload); err != nil {
			slog.Error("failed to publish error reply", "message_id", msg.ID, "error", err)
		}
	}
	return fmt.Errorf("evaluation of message %s failed: %w", msg.ID, cause)
}

// handleRulesChanged reloads the registry from the rule store.
func (w *Worker) handleRulesChanged(ctx context.Context, msg *domain.Message) error {
	var ev domain.RulesChangedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Warn("invalid rules.changed payload", "message_id", msg.ID, "error", err)
	}

	res, err := w.pipeline.Engine().Registry().Reload(ctx, w.source)
	if err != nil {
		return err
	}
	slog.Info("registry reloaded on rule change",
		"rule_id", ev.RuleID,
		"action", ev.Action,
		"version", res.Version,
	)
	return nil
}

// Stop unsubscribes every handler.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
