// Package store holds pending aggregate values keyed by save id until they
// are drained to the repository.
package store

import (
	"context"
)

// Entry is a cached value with the revision assigned by its last write.
// Revisions are unique and increase with every write to a store.
type Entry[T any] struct {
	Value    T
	Revision uint64
}

// UpdateFunc computes the next value of a key. current is the zero value
// when found is false. Returning an error aborts the update and leaves the
// key unchanged.
type UpdateFunc[T any] func(ctx context.Context, current T, found bool) (T, error)

// CommitFunc writes a drained value to durable storage.
type CommitFunc func(ctx context.Context) error

// CommitResult reports what Commit did with an entry.
type CommitResult struct {
	// Committed is true when fn ran and returned nil.
	Committed bool
	// Evicted is true when the entry was removed after committing.
	Evicted bool
}

// Store is a key-value cache of one aggregate kind. It performs no merge
// logic of its own.
type Store[T any] interface {
	// Get returns the cached value for id.
	Get(ctx context.Context, id string) (T, bool, error)

	// Set stores value unconditionally.
	Set(ctx context.Context, id string, value T) error

	// GetAll returns a point-in-time copy of every entry.
	GetAll(ctx context.Context) (map[string]Entry[T], error)

	// Update runs fn and stores its result atomically with respect to other
	// Update, Set, Evict and Delete calls on the same id.
	Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error)

	// Evict deletes id only if its revision still equals revision.
	Evict(ctx context.Context, id string, revision uint64) (bool, error)

	// Commit runs fn while holding the commit lease of id, provided the
	// entry still carries revision, then evicts it unless it was rewritten
	// meanwhile. Commits of one id never overlap. A held lease or a newer
	// revision skips fn and returns a zero result. An error from fn is
	// returned unchanged and leaves the entry cached.
	Commit(ctx context.Context, id string, revision uint64, fn CommitFunc) (CommitResult, error)

	// Delete removes id unconditionally.
	Delete(ctx context.Context, id string) error

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}
