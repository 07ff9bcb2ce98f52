package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

type memorySnapshot struct {
	meta Snapshot
	raw  []byte
}

// InMemoryStore keeps snapshots in process memory. State does not survive a
// restart; use it for local runs and tests.
type InMemoryStore struct {
	*persona.MemoryStore

	mu        sync.RWMutex
	snapshots map[string][]memorySnapshot
	retention int
}

// NewMemory returns an empty in-memory repository.
func NewMemory(retention int) *InMemoryStore {
	return &InMemoryStore{
		MemoryStore: persona.NewMemoryStore(),
		snapshots:   make(map[string][]memorySnapshot),
		retention:   retention,
	}
}

func (m *InMemoryStore) Ping(context.Context) error { return nil }

func (m *InMemoryStore) Close() error { return nil }

func (m *InMemoryStore) Get(_ context.Context, sessionID string) (*chat.State, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.snapshots[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	return decodeState(list[len(list)-1].raw)
}

func (m *InMemoryStore) GetVersion(_ context.Context, sessionID string, version int64) (*chat.State, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, snap := range m.snapshots[sessionID] {
		if snap.meta.Version == version {
			return decodeState(snap.raw)
		}
	}
	return nil, ErrVersionNotFound
}

func (m *InMemoryStore) Versions(_ context.Context, sessionID string) ([]Snapshot, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.snapshots[sessionID]
	out := make([]Snapshot, 0, len(list))
	for _, snap := range list {
		out = append(out, snap.meta)
	}
	return out, nil
}

// Put stores a serialized copy so later mutations of state are not visible.
func (m *InMemoryStore) Put(_ context.Context, sessionID string, state *chat.State) (int64, error) {
	if sessionID == "" {
		return 0, ErrSessionIDRequired
	}
	if state == nil {
		state = &chat.State{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snapshots[sessionID]
	var version int64 = 1
	if len(list) > 0 {
		version = list[len(list)-1].meta.Version + 1
	}
	list = append(list, memorySnapshot{
		meta: Snapshot{
			SessionID: sessionID,
			Version:   version,
			Stage:     state.Stage(),
			CreatedAt: time.Now().UTC(),
		},
		raw: raw,
	})
	if m.retention > 0 && len(list) > m.retention {
		list = append([]memorySnapshot(nil), list[len(list)-m.retention:]...)
	}
	m.snapshots[sessionID] = list
	return version, nil
}

func (m *InMemoryStore) DeleteAll(_ context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrSessionIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.snapshots[sessionID]))
	delete(m.snapshots, sessionID)
	return n, nil
}

var (
	_ Repository = (*InMemoryStore)(nil)
	_ Repository = (*SQLStore)(nil)
)
