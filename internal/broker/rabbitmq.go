package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/auth-platform/savecache-service/internal/save"
)

// RabbitMQBroker publishes to fanout exchanges and reconnects on
// connection loss.
type RabbitMQBroker struct {
	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	url         string
	logger      *slog.Logger
	healthy     bool
	closed      bool
	notifyClose chan *amqp.Error
	done        chan struct{}
}

// NewRabbitMQBroker dials url and starts the reconnect loop.
func NewRabbitMQBroker(url string, logger *slog.Logger) (*RabbitMQBroker, error) {
	b := &RabbitMQBroker{url: url, logger: logger, done: make(chan struct{})}
	if err := b.connect(); err != nil {
		return nil, err
	}
	go b.handleReconnect()
	return b, nil
}

func (b *RabbitMQBroker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return save.WrapError(ErrBrokerDown, "failed to connect to RabbitMQ", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return save.WrapError(ErrBrokerDown, "failed to open channel", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = channel
	b.healthy = true
	b.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	b.mu.Unlock()
	return nil
}

func (b *RabbitMQBroker) handleReconnect() {
	for {
		b.mu.RLock()
		notify := b.notifyClose
		b.mu.RUnlock()

		select {
		case <-b.done:
			return
		case err, ok := <-notify:
			if !ok || err == nil {
				return
			}
		}

		b.mu.Lock()
		b.healthy = false
		b.mu.Unlock()
		b.logger.Warn("rabbitmq connection lost, reconnecting")

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = time.Second
		policy.MaxInterval = 30 * time.Second
		policy.MaxElapsedTime = 0
		err := backoff.Retry(func() error {
			select {
			case <-b.done:
				return backoff.Permanent(errors.New("broker closed"))
			default:
			}
			return b.connect()
		}, policy)
		if err != nil {
			return
		}
		b.logger.Info("rabbitmq reconnected")
	}
}

// Subscribe binds an exclusive queue to the topic exchange and consumes it.
func (b *RabbitMQBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.RLock()
	channel := b.channel
	b.mu.RUnlock()

	if channel == nil {
		return ErrBrokerDown
	}

	if err := channel.ExchangeDeclare(topic, "fanout", true, false, false, false, nil); err != nil {
		return save.WrapError(ErrBrokerDown, "failed to declare exchange", err)
	}

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return save.WrapError(ErrBrokerDown, "failed to declare queue", err)
	}

	if err := channel.QueueBind(queue.Name, "", topic, false, nil); err != nil {
		return save.WrapError(ErrBrokerDown, "failed to bind queue", err)
	}

	msgs, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return save.WrapError(ErrBrokerDown, "failed to start consuming", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				event, err := DecodeEvent(msg.Body)
				if err != nil {
					b.logger.WarnContext(ctx, "dropping malformed event", slog.String("error", err.Error()))
					continue
				}
				_ = handler(event) // handler logs its own failures
			}
		}
	}()
	return nil
}

// Publish sends event to the topic exchange.
func (b *RabbitMQBroker) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	channel := b.channel
	b.mu.RUnlock()

	if channel == nil {
		return ErrBrokerDown
	}

	body, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	err = channel.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        string(event.Type),
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return save.WrapError(ErrBrokerDown, "failed to publish message", err)
	}
	return nil
}

// Close stops reconnecting and closes the connection.
func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.healthy = false
	close(b.done)

	var errs []error
	if b.channel != nil {
		errs = append(errs, b.channel.Close())
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return errors.Join(errs...)
}

// Healthy returns whether the connection is up.
func (b *RabbitMQBroker) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy && !b.closed
}
