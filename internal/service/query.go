package service

import (
	"context"
	"log/slog"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/store"
)

// QueryService reads one aggregate kind with pending cached fields applied.
type QueryService[T save.Aggregate[T]] struct {
	kind  save.Kind
	repo  save.Repository[T]
	cache store.Store[T]
	flag  Flag
	opts  options
}

// NewQueryService creates a query service.
func NewQueryService[T save.Aggregate[T]](repo save.Repository[T], cache store.Store[T], flag Flag, opts ...Option) *QueryService[T] {
	var zero T
	kind := zero.Kind()
	return &QueryService[T]{
		kind:  kind,
		repo:  repo,
		cache: cache,
		flag:  flag,
		opts:  buildOptions(kind, opts),
	}
}

// Kind returns the aggregate kind served.
func (q *QueryService[T]) Kind() save.Kind {
	return q.kind
}

// Retrieve returns the repository row for saveID overlaid with any cached
// fields. A cache miss never populates the cache. The row must exist even
// when a cached entry does.
func (q *QueryService[T]) Retrieve(ctx context.Context, saveID string) (T, error) {
	if err := save.ValidateID(saveID); err != nil {
		var zero T
		return zero, err
	}
	return q.retrieve(ctx, saveID, q.flag.IsEnabled())
}

// retrieve serves saveID on the path chosen by enabled, the flag value the
// calling operation read when it started.
func (q *QueryService[T]) retrieve(ctx context.Context, saveID string, enabled bool) (T, error) {
	var zero T
	ctx, span := q.opts.tracer.StartOperation(ctx, "retrieve", q.kind.String(), saveID)
	defer span.End()

	if !enabled {
		row, err := q.repo.FindByID(ctx, saveID)
		if err != nil {
			observability.RecordError(span, err)
			return zero, err
		}
		return row, nil
	}

	cached, found, err := q.cache.Get(ctx, saveID)
	if err != nil {
		q.opts.logger.ErrorContext(ctx, "cache read failed",
			slog.String("save_id", saveID),
			slog.String("error", err.Error()),
		)
		observability.RecordError(span, err)
		return zero, err
	}

	row, err := q.repo.FindByID(ctx, saveID)
	if err != nil {
		observability.RecordError(span, err)
		return zero, err
	}

	observability.RecordCacheHit(span, found)
	q.opts.recordHit(q.kind, found)
	if !found {
		return row, nil
	}

	q.opts.logger.DebugContext(ctx, "serving cached overlay", slog.String("save_id", saveID))
	return row.Merge(cached), nil
}
