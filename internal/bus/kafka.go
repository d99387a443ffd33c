package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBus implements domain.EventBus on Kafka. Each tenant topic maps to one
// Kafka topic; subscribers in the same group share the partitions. Offsets
// are committed after the handler returns, so delivery is at-least-once.
type KafkaBus struct {
	brokers []string
	groupID string
	writer  kafkaWriter

	// newReader is swapped in tests.
	newReader func(topic string) kafkaReader

	mu     sync.Mutex
	subs   map[*kafkaSubscription]struct{}
	closed bool
}

type kafkaSubscription struct {
	topic  string
	reader kafkaReader
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

var _ domain.EventBus = (*KafkaBus)(nil)

// NewKafkaBus creates a producer for all topics. Readers are created per
// subscription.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	brokers := make([]string, 0, len(cfg.KafkaBrokers))
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "riskengine"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	b := &KafkaBus{
		brokers: brokers,
		groupID: groupID,
		writer:  writer,
		subs:    make(map[*kafkaSubscription]struct{}),
	}
	b.newReader = func(topic string) kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        b.brokers,
			GroupID:        b.groupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
		})
	}
	return b, nil
}

// Publish writes the envelope keyed by message id.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if b.isClosed() {
		return ErrClosed
	}

	msg := newMessage(tenantID, topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: subject(tenantID, topic),
		Key:   []byte(msg.ID),
		Value: data,
	})
}

// Subscribe starts a consumer loop for the tenant topic.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		topic:  topic,
		reader: b.newReader(subject(tenantID, topic)),
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}
	b.subs[sub] = struct{}{}

	go sub.consume(subCtx, handler)
	return sub, nil
}

func (s *kafkaSubscription) consume(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)

	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("kafka fetch failed", "topic", m.Topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			slog.Error("failed to unmarshal kafka message", "topic", m.Topic, "offset", m.Offset, "error", err)
		} else if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error", "topic", m.Topic, "message_id", msg.ID, "error", err)
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Warn("kafka commit failed", "topic", m.Topic, "offset", m.Offset, "error", err)
		}
	}
}

// Request is not offered on Kafka.
func (b *KafkaBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	return nil, ErrRequestUnsupported
}

func (b *KafkaBus) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka unreachable: %w", err)
	}
	return conn.Close()
}

// Close stops every consumer and flushes the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*kafkaSubscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	return b.writer.Close()
}

func (b *KafkaBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, active := s.bus.subs[s]
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	if !active {
		return nil
	}
	return s.stop()
}

func (s *kafkaSubscription) Topic() string {
	return s.topic
}
