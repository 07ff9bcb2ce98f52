// Package store provides durable session snapshot and demo configuration persistence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

var (
	// ErrVersionNotFound is returned by GetVersion for an unknown snapshot.
	ErrVersionNotFound = errors.New("snapshot version not found")
	// ErrSessionIDRequired is returned when an operation receives an empty session id.
	ErrSessionIDRequired = errors.New("session id is required")
)

// Snapshot describes one persisted version of a session state.
type Snapshot struct {
	SessionID string     `json:"sessionId"`
	Version   int64      `json:"version"`
	Stage     chat.Stage `json:"stage"`
	CreatedAt time.Time  `json:"createdAt"`
}

// SessionStore persists session state as an append-only series of snapshots.
type SessionStore interface {
	// Get returns the latest snapshot, or nil, nil when the session was never stored.
	Get(ctx context.Context, sessionID string) (*chat.State, error)

	// GetVersion returns a point-in-time snapshot.
	GetVersion(ctx context.Context, sessionID string, version int64) (*chat.State, error)

	// Versions lists stored snapshots, oldest first.
	Versions(ctx context.Context, sessionID string) ([]Snapshot, error)

	// Put stores state as a new snapshot and returns its version.
	Put(ctx context.Context, sessionID string, state *chat.State) (int64, error)

	// DeleteAll removes every snapshot of the session.
	DeleteAll(ctx context.Context, sessionID string) (int64, error)
}

// Repository is the full persistence surface used by the application.
type Repository interface {
	SessionStore
	persona.Store

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
