package store

import (
	"context"
	"sync"

	"github.com/nybots/iptv-hub/internal/playlist"
)

// Memory is an in-process store. It is the default when no database is
// configured.
type Memory struct {
	mu       sync.RWMutex
	snapshot *playlist.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{snapshot: playlist.NewSnapshot(nil)}
}

// Replace swaps the current snapshot.
func (m *Memory) Replace(_ context.Context, snapshot *playlist.Snapshot) error {
	if snapshot == nil {
		snapshot = playlist.NewSnapshot(nil)
	}
	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()
	return nil
}

// Snapshot returns the current snapshot.
func (m *Memory) Snapshot(context.Context) (*playlist.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, nil
}

// Channel returns the channel with the given ID.
func (m *Memory) Channel(_ context.Context, id int) (playlist.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.snapshot.Channel(id)
	if !ok {
		return playlist.Channel{}, ErrChannelNotFound
	}
	return ch, nil
}

// Count returns the number of channels currently stored.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Count(), nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
