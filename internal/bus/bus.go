// Package bus provides the event bus implementations that carry evaluation
// requests, results, escalations and rule change notifications.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

var (
	ErrTenantRequired     = errors.New("tenantID is required")
	ErrClosed             = errors.New("bus is closed")
	ErrRequestUnsupported = errors.New("request-reply is not supported by this bus")
)

// New creates an event bus from configuration: "channel" (in-process),
// "nats" or "kafka".
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage wraps a payload in the envelope shared by every transport.
func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// subject is the tenant-scoped wire name of a topic.
func subject(tenantID, topic string) string {
	return "riskengine." + tenantID + "." + topic
}
