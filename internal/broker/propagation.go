package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/auth-platform/savecache-service/internal/flush"
)

// RemoteToggle applies a cache flag received from another instance.
type RemoteToggle interface {
	ApplyRemote(ctx context.Context, enabled bool) (flush.Toggle, error)
}

// Propagator publishes local toggles and flush results, and applies toggles
// published by other instances.
type Propagator struct {
	broker     Broker
	topic      string
	instanceID string
	toggle     RemoteToggle
	timeout    time.Duration
	logger     *slog.Logger
}

// NewPropagator creates a propagator. timeout bounds the drain a remote
// disable may trigger.
func NewPropagator(b Broker, topic, instanceID string, toggle RemoteToggle, timeout time.Duration, logger *slog.Logger) *Propagator {
	return &Propagator{
		broker:     b,
		topic:      topic,
		instanceID: instanceID,
		toggle:     toggle,
		timeout:    timeout,
		logger:     logger,
	}
}

// Start subscribes to the event topic until ctx ends.
func (p *Propagator) Start(ctx context.Context) error {
	return p.broker.Subscribe(ctx, p.topic, p.Handle)
}

// Handle applies a received event. Events from this instance are ignored.
func (p *Propagator) Handle(event Event) error {
	if event.Origin == p.instanceID || event.Type != EventCacheToggled || event.Enabled == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	t, err := p.toggle.ApplyRemote(ctx, *event.Enabled)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to apply remote toggle",
			slog.String("origin", event.Origin),
			slog.Bool("enabled", *event.Enabled),
			slog.String("error", err.Error()),
		)
		return err
	}
	p.logger.InfoContext(ctx, "applied remote toggle",
		slog.String("origin", event.Origin),
		slog.Bool("previous", t.Previous),
		slog.Bool("enabled", t.Enabled),
	)
	return nil
}

// PublishToggle announces a local toggle. It matches flush.ToggleListener.
func (p *Propagator) PublishToggle(ctx context.Context, t flush.Toggle) {
	enabled := t.Enabled
	p.publish(ctx, Event{Type: EventCacheToggled, Enabled: &enabled})
}

// PublishFlush announces a completed flush. It matches flush.Listener.
func (p *Propagator) PublishFlush(ctx context.Context, s flush.Summary) {
	p.publish(ctx, Event{Type: EventFlushCompleted, Persisted: s.Persisted(), Failed: s.Failed()})
}

func (p *Propagator) publish(ctx context.Context, event Event) {
	event.Origin = p.instanceID
	event.Timestamp = now()
	if err := p.broker.Publish(ctx, p.topic, event); err != nil {
		p.logger.WarnContext(ctx, "failed to publish cache event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}
