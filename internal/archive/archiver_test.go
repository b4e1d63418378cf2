package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
)

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, InitialIntervalSec: 0.001, BackoffCoefficient: 2.0}
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	storage, err := NewLocalStorage(config.LocalConfig{BasePath: root})
	require.NoError(t, err)

	require.NoError(t, storage.Upload(ctx, "outputs", "backup/abc.txt", strings.NewReader("full output")))

	data, err := storage.Download(ctx, "outputs", "backup/abc.txt")
	require.NoError(t, err)
	assert.Equal(t, "full output", string(data))

	_, err = storage.Download(ctx, "outputs", "backup/missing.txt")
	assert.Error(t, err)
}

func TestNewArchiver_DisabledReturnsNil(t *testing.T) {
	a, err := NewArchiver(config.ArchiveConfig{Type: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = NewArchiver(config.ArchiveConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestArchiver_StoreWritesKeyedOutput(t *testing.T) {
	root := t.TempDir()
	a, err := NewArchiver(config.ArchiveConfig{
		Type:  "local",
		Local: config.LocalConfig{BasePath: root},
		Retry: fastRetry(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a)

	jobID := uuid.New()
	key, err := a.Store(context.Background(), "backup", jobID, "the full output")
	require.NoError(t, err)
	assert.Equal(t, "backup/"+jobID.String()+".txt", key)

	data, err := os.ReadFile(filepath.Join(root, key))
	require.NoError(t, err)
	assert.Equal(t, "the full output", string(data))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zap.NewNop(), fastRetry(), "test op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAtAttemptLimit(t *testing.T) {
	boom := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), zap.NewNop(), fastRetry(), "test op", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, zap.NewNop(), fastRetry(), "test op", func() error {
		return errors.New("never reported")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
