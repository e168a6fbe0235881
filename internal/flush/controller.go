package flush

import (
	"context"
	"log/slog"
	"sync"

	"github.com/auth-platform/savecache-service/internal/cachemanager"
	"github.com/auth-platform/savecache-service/internal/observability"
)

// Toggle is the outcome of an enable/disable request.
type Toggle struct {
	Previous bool     `json:"previous"`
	Enabled  bool     `json:"enabled"`
	Flush    *Summary `json:"flush,omitempty"`
}

// ToggleListener observes local operator toggles.
type ToggleListener func(ctx context.Context, t Toggle)

// Controller switches the cache flag. Switching off drains the cache before
// returning so no pending write is left behind.
type Controller struct {
	manager *cachemanager.Manager
	flusher Flusher
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []ToggleListener
}

// NewController creates a controller.
func NewController(manager *cachemanager.Manager, flusher Flusher, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = observability.NopLogger()
	}
	c := &Controller{manager: manager, flusher: flusher, metrics: metrics, logger: logger}
	if metrics != nil {
		metrics.SetEnabled(manager.IsEnabled())
	}
	return c
}

// OnToggle registers a listener for SetEnabled calls.
func (c *Controller) OnToggle(l ToggleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// IsEnabled reports the current flag.
func (c *Controller) IsEnabled() bool {
	return c.manager.IsEnabled()
}

// SetEnabled applies an operator toggle and notifies listeners.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) (Toggle, error) {
	t, err := c.apply(ctx, enabled)
	if err != nil {
		return t, err
	}
	c.mu.Lock()
	listeners := append([]ToggleListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(ctx, t)
	}
	return t, nil
}

// ApplyRemote applies a toggle received from another instance without
// notifying listeners.
func (c *Controller) ApplyRemote(ctx context.Context, enabled bool) (Toggle, error) {
	return c.apply(ctx, enabled)
}

// apply flips the flag first, then drains on an enabled to disabled edge.
func (c *Controller) apply(ctx context.Context, enabled bool) (Toggle, error) {
	prev := c.manager.SetEnabled(enabled)
	if c.metrics != nil {
		c.metrics.SetEnabled(enabled)
	}
	t := Toggle{Previous: prev, Enabled: enabled}

	c.logger.InfoContext(ctx, "cache flag set",
		slog.Bool("previous", prev),
		slog.Bool("enabled", enabled),
	)
	if !prev || enabled {
		return t, nil
	}

	summary, err := c.flusher.FlushAll(ctx)
	t.Flush = &summary
	if err != nil {
		c.logger.ErrorContext(ctx, "drain on disable failed", slog.String("error", err.Error()))
		return t, err
	}
	return t, nil
}
