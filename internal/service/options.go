// Package service implements the generic read and write paths of every
// aggregate kind: cache-overlaid retrieval, write-back updates and direct
// repository writes.
package service

import (
	"log/slog"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
)

// Flag reports whether the cache is enabled.
type Flag interface {
	IsEnabled() bool
}

// Option configures a service.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func buildOptions(kind save.Kind, opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger()
	}
	if o.tracer == nil {
		o.tracer = observability.NewTracer("savecache")
	}
	o.logger = o.logger.With(slog.String("kind", kind.String()))
	return o
}

func (o options) recordHit(kind save.Kind, hit bool) {
	if o.metrics == nil {
		return
	}
	if hit {
		o.metrics.CacheHitTotal.WithLabelValues(kind.String()).Inc()
		return
	}
	o.metrics.CacheMissTotal.WithLabelValues(kind.String()).Inc()
}

func (o options) recordWrite(kind save.Kind) {
	if o.metrics != nil {
		o.metrics.CacheWriteTotal.WithLabelValues(kind.String()).Inc()
	}
}
