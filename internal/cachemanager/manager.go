// Package cachemanager holds the process-wide switch that decides whether
// aggregate reads and writes go through the cache.
package cachemanager

import (
	"sync/atomic"
)

// Manager is a concurrency-safe enabled flag. The zero value is disabled.
type Manager struct {
	enabled atomic.Bool
	onFlip  atomic.Pointer[func(enabled bool)]
}

// New creates a manager with the given initial state.
func New(enabled bool) *Manager {
	m := &Manager{}
	m.enabled.Store(enabled)
	return m
}

// IsEnabled reports the current state.
func (m *Manager) IsEnabled() bool {
	return m.enabled.Load()
}

// Enable turns caching on.
func (m *Manager) Enable() {
	m.SetEnabled(true)
}

// Disable turns caching off.
func (m *Manager) Disable() {
	m.SetEnabled(false)
}

// SetEnabled stores the new state and returns the previous one.
func (m *Manager) SetEnabled(enabled bool) bool {
	prev := m.enabled.Swap(enabled)
	if prev != enabled {
		if fn := m.onFlip.Load(); fn != nil {
			(*fn)(enabled)
		}
	}
	return prev
}

// OnChange registers a callback invoked after every state change.
// Only the last registered callback is kept.
func (m *Manager) OnChange(fn func(enabled bool)) {
	if fn == nil {
		m.onFlip.Store(nil)
		return
	}
	m.onFlip.Store(&fn)
}
