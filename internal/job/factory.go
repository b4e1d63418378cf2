package job

import (
	"context"
	"fmt"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
)

// NewStore opens the durable store selected by config.
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
