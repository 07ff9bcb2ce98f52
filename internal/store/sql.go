package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

const writeAttempts = 3

// dialect captures the differences between the SQL backends.
type dialect struct {
	name       string
	schema     string
	numbered   bool // $1-style placeholders instead of ?
	isConflict func(error) bool
}

// SQLStore implements Repository on database/sql.
type SQLStore struct {
	db        *sql.DB
	dialect   dialect
	retention int
}

func newSQLStore(db *sql.DB, d dialect, retention int) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, retention: retention}
	if _, err := db.Exec(d.schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// rebind rewrites ? placeholders for dialects using numbered parameters.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get returns the latest snapshot for the session.
func (s *SQLStore) Get(ctx context.Context, sessionID string) (*chat.State, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	query := s.rebind(`
		SELECT state_json FROM session_snapshots
		WHERE session_id = ?
		ORDER BY version DESC LIMIT 1`)

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return decodeState(raw)
}

// GetVersion returns a specific snapshot.
func (s *SQLStore) GetVersion(ctx context.Context, sessionID string, version int64) (*chat.State, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	query := s.rebind(`SELECT state_json FROM session_snapshots WHERE session_id = ? AND version = ?`)

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, sessionID, version).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot version: %w", err)
	}
	return decodeState(raw)
}

// Versions lists stored snapshots, oldest first.
func (s *SQLStore) Versions(ctx context.Context, sessionID string) ([]Snapshot, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	query := s.rebind(`
		SELECT version, stage, created_at FROM session_snapshots
		WHERE session_id = ? ORDER BY version ASC`)

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot versions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("[store] failed to close version rows: %v", closeErr)
		}
	}()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var stage string
		var createdAt int64
		if err := rows.Scan(&snap.Version, &stage, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.SessionID = sessionID
		snap.Stage = chat.Stage(stage)
		snap.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

// Put appends state as the next snapshot version in a single transaction.
func (s *SQLStore) Put(ctx context.Context, sessionID string, state *chat.State) (int64, error) {
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

	var version int64
	err = withRetry(ctx, s.dialect.name+" put snapshot", writeAttempts, s.dialect.isConflict, func() error {
		v, putErr := s.putOnce(ctx, sessionID, state.Stage(), raw)
		version = v
		return putErr
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *SQLStore) putOnce(ctx context.Context, sessionID string, stage chat.Stage, raw []byte) (version int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Printf("[store] rollback failed: %v", rbErr)
			}
		}
	}()

	next := s.rebind(`SELECT COALESCE(MAX(version), 0) + 1 FROM session_snapshots WHERE session_id = ?`)
	if err = tx.QueryRowContext(ctx, next, sessionID).Scan(&version); err != nil {
		return 0, fmt.Errorf("next snapshot version: %w", err)
	}

	insert := s.rebind(`
		INSERT INTO session_snapshots (session_id, version, stage, state_json, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err = tx.ExecContext(ctx, insert, sessionID, version, string(stage), string(raw), time.Now().Unix()); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if s.retention > 0 && version > int64(s.retention) {
		prune := s.rebind(`DELETE FROM session_snapshots WHERE session_id = ? AND version <= ?`)
		if _, err = tx.ExecContext(ctx, prune, sessionID, version-int64(s.retention)); err != nil {
			return 0, fmt.Errorf("prune snapshots: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return version, nil
}

// DeleteAll removes every snapshot for the session.
func (s *SQLStore) DeleteAll(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrSessionIDRequired
	}
	var deleted int64
	err := withRetry(ctx, s.dialect.name+" delete snapshots", writeAttempts, s.dialect.isConflict, func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_snapshots WHERE session_id = ?`), sessionID)
		if err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots for %s: %w", sessionID, err)
	}
	return deleted, nil
}

// Load returns the demo configuration for the session.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*persona.Config, error) {
	query := s.rebind(`
		SELECT niche, company_name, persona_instruction, welcome_message
		FROM session_configs WHERE id = ?`)

	var cfg persona.Config
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&cfg.Niche, &cfg.CompanyName, &cfg.PersonaInstruction, &cfg.WelcomeMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session config: %w", err)
	}
	return &cfg, nil
}

// Save upserts the demo configuration for the session.
func (s *SQLStore) Save(ctx context.Context, sessionID, userRef string, cfg persona.Config) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	query := s.rebind(`
		INSERT INTO session_configs
			(id, user_id, company_name, niche, persona_instruction, welcome_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			company_name = excluded.company_name,
			niche = excluded.niche,
			persona_instruction = excluded.persona_instruction,
			welcome_message = excluded.welcome_message,
			updated_at = excluded.updated_at`)

	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx, query,
		sessionID, userRef, cfg.CompanyName, cfg.Niche,
		cfg.PersonaInstruction, cfg.WelcomeMessage, now, now,
	); err != nil {
		return fmt.Errorf("upsert session config: %w", err)
	}
	return nil
}

// Delete removes the demo configuration for one session.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_configs WHERE id = ?`), sessionID); err != nil {
		return fmt.Errorf("delete session config: %w", err)
	}
	return nil
}

// ClearAll removes every stored demo configuration.
func (s *SQLStore) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_configs`)
	if err != nil {
		return 0, fmt.Errorf("clear session configs: %w", err)
	}
	return res.RowsAffected()
}

func decodeState(raw []byte) (*chat.State, error) {
	var state chat.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}
