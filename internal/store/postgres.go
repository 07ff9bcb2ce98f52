package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		stage TEXT NOT NULL,
		state_json JSONB NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (session_id, version)
	);

	CREATE TABLE IF NOT EXISTS session_configs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		company_name TEXT NOT NULL,
		niche TEXT NOT NULL,
		persona_instruction TEXT NOT NULL,
		welcome_message TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_configs_user ON session_configs(user_id);
`

// NewPostgres connects to Postgres using dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, retention int) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := newSQLStore(db, dialect{
		name:       "postgres",
		schema:     postgresSchema,
		numbered:   true,
		isConflict: IsPostgresConflictError,
	}, retention)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}
