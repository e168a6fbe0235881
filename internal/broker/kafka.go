package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/auth-platform/savecache-service/internal/save"
)

// KafkaBroker publishes and consumes events on Kafka topics.
type KafkaBroker struct {
	mu      sync.RWMutex
	writer  *kafka.Writer
	brokers []string
	groupID string
	logger  *slog.Logger
	healthy bool
	closed  bool
}

// NewKafkaBroker creates a Kafka broker. Each instance should use its own
// groupID so toggles reach every instance.
func NewKafkaBroker(brokers []string, groupID string, logger *slog.Logger) (*KafkaBroker, error) {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaBroker{
		writer:  writer,
		brokers: brokers,
		groupID: groupID,
		logger:  logger,
		healthy: true,
	}, nil
}

// Subscribe consumes topic from the latest offset in a background goroutine.
func (b *KafkaBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       topic,
		GroupID:     b.groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	go func() {
		defer reader.Close()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.WarnContext(ctx, "kafka read failed", slog.String("error", err.Error()))
				continue
			}
			event, err := DecodeEvent(msg.Value)
			if err != nil {
				b.logger.WarnContext(ctx, "dropping malformed event", slog.String("error", err.Error()))
				continue
			}
			_ = handler(event) // handler logs its own failures
		}
	}()
	return nil
}

// Publish writes event to topic.
func (b *KafkaBroker) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	writer := b.writer
	closed := b.closed
	b.mu.RUnlock()

	if closed || writer == nil {
		return ErrBrokerDown
	}

	body, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.Type),
		Value: body,
		Time:  time.Now(),
	})
	b.mu.Lock()
	b.healthy = err == nil
	b.mu.Unlock()
	if err != nil {
		return save.WrapError(ErrBrokerDown, "failed to publish message", err)
	}
	return nil
}

// Close closes the writer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.healthy = false
	if b.writer != nil {
		return b.writer.Close()
	}
	return nil
}

// Healthy reports whether the last publish succeeded.
func (b *KafkaBroker) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy && !b.closed
}
