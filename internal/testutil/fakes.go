// Package testutil provides counting fakes of the repository and account
// ports for package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/auth-platform/savecache-service/internal/save"
)

// Calls counts repository calls by method.
type Calls struct {
	FindByID   int
	Create     int
	Update     int
	ExistsByID int
	Count      int
	DeleteByID int
}

// Total returns the number of calls of every method.
func (c Calls) Total() int {
	return c.FindByID + c.Create + c.Update + c.ExistsByID + c.Count + c.DeleteByID
}

// Repository is an in-memory save.Repository that counts calls and can be
// told to fail.
type Repository[T save.Aggregate[T]] struct {
	mu       sync.Mutex
	rows     map[string]T
	calls    Calls
	failures map[string]error
	onUpdate func(saveID string)
}

// NewRepository creates an empty fake.
func NewRepository[T save.Aggregate[T]]() *Repository[T] {
	return &Repository[T]{
		rows:     make(map[string]T),
		failures: make(map[string]error),
	}
}

// Seed stores a row without counting a call.
func (r *Repository[T]) Seed(saveID string, row T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[saveID] = row
}

// Row returns the stored row without counting a call.
func (r *Repository[T]) Row(saveID string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[saveID]
	return row, ok
}

// Remove deletes a row without counting a call.
func (r *Repository[T]) Remove(saveID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, saveID)
}

// FailOn makes every call touching saveID return err.
func (r *Repository[T]) FailOn(saveID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[saveID] = err
}

// OnUpdate registers a hook run inside Update before the row is written.
func (r *Repository[T]) OnUpdate(fn func(saveID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// Calls returns a copy of the call counters.
func (r *Repository[T]) Calls() Calls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// ResetCalls zeroes the call counters.
func (r *Repository[T]) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = Calls{}
}

func (r *Repository[T]) FindByID(_ context.Context, saveID string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.FindByID++
	var zero T
	if err := r.failures[saveID]; err != nil {
		return zero, err
	}
	row, ok := r.rows[saveID]
	if !ok {
		return zero, save.Errorf(save.CodeNotFound, "%s for save %s not found", zero.Kind(), saveID)
	}
	return row, nil
}

func (r *Repository[T]) Create(_ context.Context, saveID string, value T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.Create++
	var zero T
	if err := r.failures[saveID]; err != nil {
		return zero, err
	}
	if _, ok := r.rows[saveID]; ok {
		return zero, save.Errorf(save.CodeAlreadyExists, "%s for save %s already exists", zero.Kind(), saveID)
	}
	r.rows[saveID] = value
	return value, nil
}

func (r *Repository[T]) Update(_ context.Context, saveID string, value T) error {
	r.mu.Lock()
	r.calls.Update++
	hook := r.onUpdate
	err := r.failures[saveID]
	r.mu.Unlock()

	if hook != nil {
		hook(saveID)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[saveID]; !ok {
		var zero T
		return save.Errorf(save.CodeNotFound, "%s for save %s not found", zero.Kind(), saveID)
	}
	r.rows[saveID] = value
	return nil
}

func (r *Repository[T]) ExistsByID(_ context.Context, saveID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.ExistsByID++
	if err := r.failures[saveID]; err != nil {
		return false, err
	}
	_, ok := r.rows[saveID]
	return ok, nil
}

func (r *Repository[T]) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.Count++
	return int64(len(r.rows)), nil
}

func (r *Repository[T]) DeleteByID(_ context.Context, saveID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.DeleteByID++
	if err := r.failures[saveID]; err != nil {
		return err
	}
	delete(r.rows, saveID)
	return nil
}

// MetadataRepository adds nickname lookups to the fake.
type MetadataRepository struct {
	*Repository[save.Metadata]
}

// NewMetadataRepository creates an empty metadata fake.
func NewMetadataRepository() *MetadataRepository {
	return &MetadataRepository{Repository: NewRepository[save.Metadata]()}
}

func (m *MetadataRepository) ExistsByNickname(_ context.Context, nickname string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Nickname != nil && *row.Nickname == nickname {
			return true, nil
		}
	}
	return false, nil
}

// Accounts is a fixed set of known account identities.
type Accounts map[string]bool

func (a Accounts) ExistsByUsername(_ context.Context, identity string) (bool, error) {
	return a[identity], nil
}

var (
	_ save.Repository[save.Currency] = (*Repository[save.Currency])(nil)
	_ save.MetadataRepository        = (*MetadataRepository)(nil)
	_ save.AccountDirectory          = Accounts(nil)
)
