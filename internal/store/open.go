package store

import (
	"context"
	"fmt"
	"log"

	"github.com/zhouzirui/z-tavern/salesbot/internal/config"
)

// Open builds the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Repository, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Println("[store] using in-memory storage, sessions will not survive a restart")
		return NewMemory(cfg.SnapshotRetention), nil
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, cfg.SnapshotRetention)
	case config.DriverSQLite, "":
		return NewSQLite(cfg.Path, cfg.SnapshotRetention)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
