package session

import (
	"context"
	"sync"
)

// Backend stores encoded snapshots. Implementations live in internal/storage;
// MemoryBackend serves tests and the "memory" configuration.
type Backend interface {
	// Current returns the committed snapshot for key, or ErrNotFound.
	Current(ctx context.Context, key string) ([]byte, error)
	// Backups returns earlier snapshots for key, newest first.
	Backups(ctx context.Context, key string) ([][]byte, error)
	// Commit atomically copies the committed snapshot (if any) into the
	// backups, replaces it with next and keeps at most retain backups.
	Commit(ctx context.Context, key string, next []byte, retain int) error
	// Delete removes the snapshot and all backups for key.
	Delete(ctx context.Context, key string) error
	PutCatalog(ctx context.Context, id string, data []byte) error
	// GetCatalog returns a stored catalog, or ErrNotFound.
	GetCatalog(ctx context.Context, id string) ([]byte, error)
}

type memorySession struct {
	current []byte
	backups [][]byte // newest first
}

type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	catalogs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*memorySession),
		catalogs: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Current(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok || s.current == nil {
		return nil, ErrNotFound
	}
	return clone(s.current), nil
}

func (m *MemoryBackend) Backups(ctx context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	out := make([][]byte, len(s.backups))
	for i, b := range s.backups {
		out[i] = clone(b)
	}
	return out, nil
}

func (m *MemoryBackend) Commit(ctx context.Context, key string, next []byte, retain int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &memorySession{}
		m.sessions[key] = s
	}
	if s.current != nil {
		s.backups = append([][]byte{s.current}, s.backups...)
		if len(s.backups) > retain {
			s.backups = s.backups[:retain]
		}
	}
	s.current = clone(next)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

func (m *MemoryBackend) PutCatalog(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[id] = clone(data)
	return nil
}

func (m *MemoryBackend) GetCatalog(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.catalogs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
