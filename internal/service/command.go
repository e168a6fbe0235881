package service

import (
	"context"
	"log/slog"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/store"
)

// CommandService writes one aggregate kind, either into the cache or
// straight to the repository.
type CommandService[T save.Aggregate[T]] struct {
	kind  save.Kind
	repo  save.Repository[T]
	cache store.Store[T]
	query *QueryService[T]
	flag  Flag
	opts  options
}

// NewCommandService creates a command service. query supplies the baseline
// when an update hits a key that is not cached yet.
func NewCommandService[T save.Aggregate[T]](repo save.Repository[T], cache store.Store[T], query *QueryService[T], flag Flag, opts ...Option) *CommandService[T] {
	var zero T
	kind := zero.Kind()
	return &CommandService[T]{
		kind:  kind,
		repo:  repo,
		cache: cache,
		query: query,
		flag:  flag,
		opts:  buildOptions(kind, opts),
	}
}

// Kind returns the aggregate kind served.
func (c *CommandService[T]) Kind() save.Kind {
	return c.kind
}

// UpdateCache merges the set fields of cmd into the cached value of saveID.
// It is a no-op while the cache is disabled. The first update of a key takes
// the cache-overlaid repository row as its baseline; later updates merge
// onto the cached value without touching the repository.
func (c *CommandService[T]) UpdateCache(ctx context.Context, saveID string, cmd T) error {
	if err := save.ValidateID(saveID); err != nil {
		return err
	}
	if cmd.IsEmpty() {
		return save.ErrEmptyUpdate
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	enabled := c.flag.IsEnabled()
	if !enabled {
		c.opts.logger.DebugContext(ctx, "cache disabled, dropping update", slog.String("save_id", saveID))
		return nil
	}

	ctx, span := c.opts.tracer.StartOperation(ctx, "update_cache", c.kind.String(), saveID)
	defer span.End()

	_, err := c.cache.Update(ctx, saveID, func(ctx context.Context, current T, found bool) (T, error) {
		observability.RecordCacheHit(span, found)
		if found {
			return current.Merge(cmd), nil
		}
		base, err := c.query.retrieve(ctx, saveID, enabled)
		if err != nil {
			return base, err
		}
		return base.Merge(cmd), nil
	})
	if err != nil {
		c.opts.logger.ErrorContext(ctx, "cache update failed",
			slog.String("save_id", saveID),
			slog.String("error", err.Error()),
		)
		observability.RecordError(span, err)
		return err
	}

	c.opts.recordWrite(c.kind)
	observability.SetSuccess(span)
	return nil
}

// Persist writes value to the repository. It never reads or writes the cache.
func (c *CommandService[T]) Persist(ctx context.Context, saveID string, value T) error {
	if err := save.ValidateID(saveID); err != nil {
		return err
	}
	ctx, span := c.opts.tracer.StartOperation(ctx, "persist", c.kind.String(), saveID)
	defer span.End()

	if err := c.repo.Update(ctx, saveID, value); err != nil {
		observability.RecordError(span, err)
		return err
	}
	return nil
}

// Initialize creates the repository row for saveID with unset fields
// coerced to their defaults.
func (c *CommandService[T]) Initialize(ctx context.Context, saveID string, value T) (T, error) {
	var zero T
	if err := save.ValidateID(saveID); err != nil {
		return zero, err
	}
	if err := value.Validate(); err != nil {
		return zero, err
	}
	ctx, span := c.opts.tracer.StartOperation(ctx, "initialize", c.kind.String(), saveID)
	defer span.End()

	created, err := c.repo.Create(ctx, saveID, value.Complete())
	if err != nil {
		observability.RecordError(span, err)
		return zero, err
	}
	c.opts.logger.DebugContext(ctx, "aggregate initialized", slog.String("save_id", saveID))
	return created, nil
}

// InitializeDefault creates the repository row for saveID with every field
// at its default.
func (c *CommandService[T]) InitializeDefault(ctx context.Context, saveID string) (T, error) {
	var zero T
	return c.Initialize(ctx, saveID, zero)
}

// Discard drops any pending cached value of saveID without persisting it.
func (c *CommandService[T]) Discard(ctx context.Context, saveID string) error {
	if err := save.ValidateID(saveID); err != nil {
		return err
	}
	return c.cache.Delete(ctx, saveID)
}
