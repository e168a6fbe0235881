package store

import (
	"context"
	"sync"
	"sync/atomic"
)

type entry[T any] struct {
	value    T
	revision uint64
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Memory is an in-process Store. Reads never wait on key locks, so an
// UpdateFunc may call Get on the same store.
type Memory[T any] struct {
	mu       sync.RWMutex
	data     map[string]*entry[T]
	locksMu  sync.Mutex
	locks    map[string]*keyLock
	leases   map[string]struct{}
	revision atomic.Uint64
}

// NewMemory creates an empty memory store.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{
		data:   make(map[string]*entry[T]),
		locks:  make(map[string]*keyLock),
		leases: make(map[string]struct{}),
	}
}

func (m *Memory[T]) Get(_ context.Context, id string) (T, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[id]
	if !ok {
		var zero T
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *Memory[T]) Set(ctx context.Context, id string, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.lockKey(id)
	defer unlock()

	m.put(id, value)
	return nil
}

func (m *Memory[T]) GetAll(_ context.Context) (map[string]Entry[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Entry[T], len(m.data))
	for id, e := range m.data {
		out[id] = Entry[T]{Value: e.value, Revision: e.revision}
	}
	return out, nil
}

func (m *Memory[T]) Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	unlock := m.lockKey(id)
	defer unlock()

	current, found, _ := m.Get(ctx, id)
	next, err := fn(ctx, current, found)
	if err != nil {
		return zero, err
	}
	m.put(id, next)
	return next, nil
}

func (m *Memory[T]) Evict(_ context.Context, id string, revision uint64) (bool, error) {
	unlock := m.lockKey(id)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[id]
	if !ok || e.revision != revision {
		return false, nil
	}
	delete(m.data, id)
	return true, nil
}

func (m *Memory[T]) Delete(_ context.Context, id string) error {
	unlock := m.lockKey(id)
	defer unlock()

	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory[T]) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data), nil
}

// Commit holds the lease of id outside the key write lock, so writers are
// not blocked while fn runs.
func (m *Memory[T]) Commit(ctx context.Context, id string, revision uint64, fn CommitFunc) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	if !m.acquireLease(id) {
		return CommitResult{}, nil
	}
	defer m.releaseLease(id)

	m.mu.RLock()
	e, ok := m.data[id]
	m.mu.RUnlock()
	if !ok || e.revision != revision {
		return CommitResult{}, nil
	}

	if err := fn(ctx); err != nil {
		return CommitResult{}, err
	}
	evicted, err := m.Evict(ctx, id, revision)
	return CommitResult{Committed: true, Evicted: evicted}, err
}

func (m *Memory[T]) acquireLease(id string) bool {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if _, held := m.leases[id]; held {
		return false
	}
	m.leases[id] = struct{}{}
	return true
}

func (m *Memory[T]) releaseLease(id string) {
	m.locksMu.Lock()
	delete(m.leases, id)
	m.locksMu.Unlock()
}

func (m *Memory[T]) put(id string, value T) {
	rev := m.revision.Add(1)
	m.mu.Lock()
	m.data[id] = &entry[T]{value: value, revision: rev}
	m.mu.Unlock()
}

// lockKey acquires the per-id write lock and returns its release func.
// Lock records are dropped once no goroutine holds or waits on them.
func (m *Memory[T]) lockKey(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.locksMu.Unlock()
	}
}

var _ Store[struct{}] = (*Memory[struct{}])(nil)
