package repository

import (
	"context"

	"github.com/auth-platform/savecache-service/internal/resilience"
	"github.com/auth-platform/savecache-service/internal/save"
)

// Protected routes every repository call through a circuit breaker.
type Protected[T any] struct {
	next    save.Repository[T]
	breaker *resilience.Breaker
}

// NewProtected wraps next.
func NewProtected[T any](next save.Repository[T], breaker *resilience.Breaker) *Protected[T] {
	return &Protected[T]{next: next, breaker: breaker}
}

func (p *Protected[T]) FindByID(ctx context.Context, saveID string) (T, error) {
	var out T
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.FindByID(ctx, saveID)
		return err
	})
	return out, err
}

func (p *Protected[T]) Create(ctx context.Context, saveID string, value T) (T, error) {
	var out T
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.Create(ctx, saveID, value)
		return err
	})
	return out, err
}

func (p *Protected[T]) Update(ctx context.Context, saveID string, value T) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.next.Update(ctx, saveID, value)
	})
}

func (p *Protected[T]) ExistsByID(ctx context.Context, saveID string) (bool, error) {
	var ok bool
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		ok, err = p.next.ExistsByID(ctx, saveID)
		return err
	})
	return ok, err
}

func (p *Protected[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = p.next.Count(ctx)
		return err
	})
	return n, err
}

func (p *Protected[T]) DeleteByID(ctx context.Context, saveID string) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.next.DeleteByID(ctx, saveID)
	})
}

// ProtectedMetadata adds a guarded nickname lookup.
type ProtectedMetadata struct {
	*Protected[save.Metadata]
	meta save.MetadataRepository
}

// NewProtectedMetadata wraps next.
func NewProtectedMetadata(next save.MetadataRepository, breaker *resilience.Breaker) *ProtectedMetadata {
	return &ProtectedMetadata{Protected: NewProtected[save.Metadata](next, breaker), meta: next}
}

func (p *ProtectedMetadata) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	var ok bool
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		ok, err = p.meta.ExistsByNickname(ctx, nickname)
		return err
	})
	return ok, err
}

var _ save.MetadataRepository = (*ProtectedMetadata)(nil)
