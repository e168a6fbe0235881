// Package broker carries cache events between service instances over Kafka
// or RabbitMQ.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/save"
)

// EventType names a cache event.
type EventType string

const (
	// EventCacheToggled is published when an operator flips the cache flag.
	EventCacheToggled EventType = "cache.toggled"
	// EventFlushCompleted is published after every full flush pass.
	EventFlushCompleted EventType = "flush.completed"
)

// Event is the wire format of every cache event.
type Event struct {
	Type      EventType `json:"type"`
	Origin    string    `json:"origin"`
	Enabled   *bool     `json:"enabled,omitempty"`
	Persisted int       `json:"persisted,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Handler processes one received event.
type Handler func(event Event) error

// Broker defines the message broker interface.
type Broker interface {
	// Subscribe registers a handler for events on topic until ctx ends.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Publish sends an event.
	Publish(ctx context.Context, topic string, event Event) error

	// Close closes the broker connection.
	Close() error

	// Healthy returns whether the broker is healthy.
	Healthy() bool
}

// ErrBrokerDown is returned when the broker cannot be reached.
var ErrBrokerDown = save.NewError(save.CodeUnavailable, "message broker unavailable")

// EncodeEvent encodes an event to JSON.
func EncodeEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeEvent decodes an event from JSON.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return event, err
}

func now() int64 {
	return time.Now().UnixMilli()
}

// New creates the broker selected by cfg.Type. instanceID names the
// consumer so every instance receives every event.
func New(cfg config.BrokerConfig, instanceID string, logger *slog.Logger) (Broker, string, error) {
	switch cfg.Type {
	case "kafka":
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "savecache-" + instanceID
		}
		b, err := NewKafkaBroker(cfg.Kafka.Brokers, groupID, logger)
		return b, cfg.Kafka.Topic, err
	case "rabbitmq":
		b, err := NewRabbitMQBroker(cfg.RabbitMQ.URL, logger)
		return b, cfg.RabbitMQ.Exchange, err
	case "none", "":
		return NewNoOpBroker(), "", nil
	default:
		return nil, "", fmt.Errorf("unknown broker type %q", cfg.Type)
	}
}

// NoOpBroker is used when messaging is disabled.
type NoOpBroker struct{}

// NewNoOpBroker creates a new no-op broker.
func NewNoOpBroker() *NoOpBroker {
	return &NoOpBroker{}
}

func (b *NoOpBroker) Subscribe(context.Context, string, Handler) error { return nil }

func (b *NoOpBroker) Publish(context.Context, string, Event) error { return nil }

func (b *NoOpBroker) Close() error { return nil }

func (b *NoOpBroker) Healthy() bool { return true }
