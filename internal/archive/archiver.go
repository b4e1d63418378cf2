package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
)

// Archiver writes full captured output to a storage backend, keyed by plugin
// and job id.
type Archiver struct {
	storage Storage
	bucket  string
	retry   config.RetryConfig
	logger  *zap.Logger
}

// NewArchiver creates an archiver over the configured backend, or nil when
// archiving is disabled.
func NewArchiver(cfg config.ArchiveConfig, logger *zap.Logger) (*Archiver, error) {
	if cfg.Type == "none" || cfg.Type == "" {
		return nil, nil
	}
	storage, err := NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	return &Archiver{
		storage: storage,
		bucket:  cfg.S3.Bucket,
		retry:   cfg.Retry,
		logger:  logger,
	}, nil
}

// Store uploads the full output and returns its storage key. Uploads are
// retried with backoff; a final failure is reported to the caller, who keeps
// the job alive with just the preview.
func (a *Archiver) Store(ctx context.Context, pluginName string, jobID uuid.UUID, output string) (string, error) {
	key := fmt.Sprintf("%s/%s.txt", pluginName, jobID)
	err := Retry(ctx, a.logger, a.retry, "archive upload", func() error {
		return a.storage.Upload(ctx, a.bucket, key, strings.NewReader(output))
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive output: %w", err)
	}
	a.logger.Info("Output archived",
		zap.String("job_id", jobID.String()),
		zap.String("key", key),
		zap.Int("bytes", len(output)),
	)
	return key, nil
}
