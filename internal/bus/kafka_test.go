package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// fakeBroker routes written messages to readers of the same topic.
type fakeBroker struct {
	mu        sync.Mutex
	topics    map[string]chan kafka.Message
	committed []kafka.Message
	closed    bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{topics: make(map[string]chan kafka.Message)}
}

func (f *fakeBroker) topic(name string) chan kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.topics[name]
	if !ok {
		ch = make(chan kafka.Message, 100)
		f.topics[name] = ch
	}
	return ch
}

func (f *fakeBroker) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		m.Offset = int64(len(f.topic(m.Topic)))
		f.topic(m.Topic) <- m
	}
	return nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type fakeReader struct {
	broker *fakeBroker
	ch     chan kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.ch:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.broker.mu.Lock()
	r.broker.committed = append(r.broker.committed, msgs...)
	r.broker.mu.Unlock()
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestKafkaBus(t *testing.T) (*KafkaBus, *fakeBroker) {
	t.Helper()
	b, err := NewKafkaBus(domain.EventBusConfig{Type: "kafka", KafkaBrokers: []string{" localhost:9092 ", ""}})
	if err != nil {
		t.Fatalf("NewKafkaBus failed: %v", err)
	}
	broker := newFakeBroker()
	b.writer = broker
	b.newReader = func(topic string) kafkaReader {
		return &fakeReader{broker: broker, ch: broker.topic(topic)}
	}
	return b, broker
}

func TestKafkaBus(t *testing.T) {
	ctx := context.Background()

	t.Run("Config", func(t *testing.T) {
		b, _ := newTestKafkaBus(t)
		defer b.Close()

		if len(b.brokers) != 1 || b.brokers[0] != "localhost:9092" {
			t.Errorf("expected trimmed broker list, got %v", b.brokers)
		}
		if b.groupID != "riskengine" {
			t.Errorf("expected default group riskengine, got %s", b.groupID)
		}
	})

	t.Run("PublishWritesEnvelope", func(t *testing.T) {
		b, broker := newTestKafkaBus(t)
		defer b.Close()

		if err := b.Publish(ctx, "tenant-001", domain.TopicEvaluationResult, []byte(`{"score":70}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case m := <-broker.topic(subject("tenant-001", domain.TopicEvaluationResult)):
			var msg domain.Message
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				t.Fatalf("invalid envelope: %v", err)
			}
			if string(m.Key) != msg.ID {
				t.Errorf("expected key %s, got %s", msg.ID, m.Key)
			}
			if string(msg.Payload) != `{"score":70}` {
				t.Errorf("unexpected payload %s", msg.Payload)
			}
		default:
			t.Fatal("expected message on tenant topic")
		}
	})

	t.Run("SubscribeCommitsAfterHandler", func(t *testing.T) {
		b, broker := newTestKafkaBus(t)
		defer b.Close()

		received := make(chan *domain.Message, 2)
		sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicEntityEvaluate, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return errors.New("handler failure is logged, offset still committed")
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if sub.Topic() != domain.TopicEntityEvaluate {
			t.Errorf("expected topic %s, got %s", domain.TopicEntityEvaluate, sub.Topic())
		}

		b.Publish(ctx, "tenant-001", domain.TopicEntityEvaluate, []byte("a"))

		select {
		case msg := <-received:
			if msg.TenantID != "tenant-001" {
				t.Errorf("expected tenant-001, got %s", msg.TenantID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
		waitFor(t, func() bool { return broker.commits() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("unsubscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("second unsubscribe failed: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		b, _ := newTestKafkaBus(t)
		defer b.Close()

		other := make(chan struct{}, 1)
		b.Subscribe(ctx, "tenant-002", "iso", func(ctx context.Context, msg *domain.Message) error {
			other <- struct{}{}
			return nil
		})
		b.Publish(ctx, "tenant-001", "iso", []byte("x"))

		select {
		case <-other:
			t.Error("tenant-002 received tenant-001 message")
		case <-time.After(30 * time.Millisecond):
		}
	})

	t.Run("RequestUnsupported", func(t *testing.T) {
		b, _ := newTestKafkaBus(t)
		defer b.Close()

		if _, err := b.Request(ctx, "tenant-001", "x", nil); !errors.Is(err, ErrRequestUnsupported) {
			t.Errorf("expected ErrRequestUnsupported, got %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		b, broker := newTestKafkaBus(t)
		b.Subscribe(ctx, "tenant-001", "x", func(ctx context.Context, msg *domain.Message) error { return nil })

		if err := b.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if !broker.closed {
			t.Error("expected writer closed")
		}
		if err := b.Publish(ctx, "tenant-001", "x", nil); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := b.Ping(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		b, _ := newTestKafkaBus(t)
		defer b.Close()

		if err := b.Publish(ctx, "", "x", nil); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})
}
