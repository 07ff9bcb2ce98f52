package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		stage TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, version)
	);

	CREATE TABLE IF NOT EXISTS session_configs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		company_name TEXT NOT NULL,
		niche TEXT NOT NULL,
		persona_instruction TEXT NOT NULL,
		welcome_message TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_configs_user ON session_configs(user_id);
`

// NewSQLite opens (or creates) a SQLite database at dbPath.
// retention caps the number of snapshots kept per session; 0 keeps all.
func NewSQLite(dbPath string, retention int) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection keeps version allocation serialized.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := newSQLStore(db, dialect{
		name:       "sqlite",
		schema:     sqliteSchema,
		isConflict: IsSQLiteConflictError,
	}, retention)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}
