package persona

import (
	"context"
	"sync"
)

// Store persists demo configurations keyed by session identifier.
type Store interface {
	// Load returns nil, nil when no configuration exists for the session.
	Load(ctx context.Context, sessionID string) (*Config, error)
	// Save upserts the configuration for the session.
	Save(ctx context.Context, sessionID, userRef string, cfg Config) error
	// Delete removes the configuration for a single session.
	Delete(ctx context.Context, sessionID string) error
	// ClearAll wipes every stored configuration.
	ClearAll(ctx context.Context) (int64, error)
}

// MemoryStore implements Store with an in-memory map, suitable for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Config
	users map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Config),
		users: make(map[string]string),
	}
}

// Load looks up a configuration by session identifier.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.items[sessionID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// Save upserts the configuration.
func (s *MemoryStore) Save(_ context.Context, sessionID, userRef string, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sessionID] = cfg
	s.users[sessionID] = userRef
	return nil
}

// Delete removes one configuration.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	delete(s.users, sessionID)
	return nil
}

// ClearAll removes every configuration.
func (s *MemoryStore) ClearAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.items))
	s.items = make(map[string]Config)
	s.users = make(map[string]string)
	return n, nil
}
