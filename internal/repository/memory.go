package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/auth-platform/savecache-service/internal/save"
)

// Memory is an in-process repository for one aggregate kind.
type Memory[T save.Aggregate[T]] struct {
	mu   sync.RWMutex
	rows map[string]T
}

// NewMemory creates an empty repository.
func NewMemory[T save.Aggregate[T]]() *Memory[T] {
	return &Memory[T]{rows: make(map[string]T)}
}

func (m *Memory[T]) FindByID(_ context.Context, saveID string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[saveID]
	if !ok {
		var zero T
		return zero, save.Errorf(save.CodeNotFound, "%s row for save %s not found", zero.Kind(), saveID)
	}
	return row, nil
}

func (m *Memory[T]) Create(_ context.Context, saveID string, value T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[saveID]; ok {
		var zero T
		return zero, save.Errorf(save.CodeAlreadyExists, "%s row for save %s already exists", zero.Kind(), saveID)
	}
	value = value.Complete()
	m.rows[saveID] = value
	return value, nil
}

func (m *Memory[T]) Update(_ context.Context, saveID string, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[saveID]
	if !ok {
		var zero T
		return save.Errorf(save.CodeNotFound, "%s row for save %s not found", zero.Kind(), saveID)
	}
	m.rows[saveID] = current.Merge(value)
	return nil
}

func (m *Memory[T]) ExistsByID(_ context.Context, saveID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rows[saveID]
	return ok, nil
}

func (m *Memory[T]) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows)), nil
}

func (m *Memory[T]) DeleteByID(_ context.Context, saveID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, saveID)
	return nil
}

// MemoryMetadata adds nickname uniqueness to the in-memory metadata rows.
type MemoryMetadata struct {
	*Memory[save.Metadata]
}

// NewMemoryMetadata creates an empty metadata repository.
func NewMemoryMetadata() *MemoryMetadata {
	return &MemoryMetadata{Memory: NewMemory[save.Metadata]()}
}

func (m *MemoryMetadata) Create(ctx context.Context, saveID string, value save.Metadata) (save.Metadata, error) {
	if value.Nickname != nil {
		taken, _ := m.ExistsByNickname(ctx, *value.Nickname)
		if taken {
			return save.Metadata{}, save.Errorf(save.CodeAlreadyExists, "nickname %q already in use", *value.Nickname)
		}
	}
	value.SaveID = saveID
	return m.Memory.Create(ctx, saveID, value)
}

// Update writes the nickname and stamps updated_at.
func (m *MemoryMetadata) Update(ctx context.Context, saveID string, value save.Metadata) error {
	now := time.Now().UTC()
	return m.Memory.Update(ctx, saveID, save.Metadata{Nickname: value.Nickname, UpdatedAt: &now})
}

func (m *MemoryMetadata) ExistsByNickname(_ context.Context, nickname string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.Nickname != nil && *row.Nickname == nickname {
			return true, nil
		}
	}
	return false, nil
}

// MemoryAccounts is a fixed set of account identities, compared
// case-insensitively.
type MemoryAccounts struct {
	names map[string]struct{}
}

// NewMemoryAccounts creates an account directory holding usernames.
func NewMemoryAccounts(usernames ...string) *MemoryAccounts {
	a := &MemoryAccounts{names: make(map[string]struct{}, len(usernames))}
	for _, u := range usernames {
		a.names[strings.ToLower(u)] = struct{}{}
	}
	return a
}

func (a *MemoryAccounts) ExistsByUsername(_ context.Context, identity string) (bool, error) {
	_, ok := a.names[strings.ToLower(identity)]
	return ok, nil
}

var (
	_ save.Repository[save.Stage] = (*Memory[save.Stage])(nil)
	_ save.MetadataRepository     = (*MemoryMetadata)(nil)
	_ save.AccountDirectory       = (*MemoryAccounts)(nil)
)
