package archive

import (
	"fmt"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
)

func NewStorage(cfg config.ArchiveConfig) (Storage, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Storage(cfg.S3)
	case "local":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Type)
	}
}
