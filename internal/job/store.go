package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by store lookups for unknown ids.
var ErrNotFound = errors.New("record not found")

// Store is the durable source of truth for recovery. Every state transition
// is written through, never written behind.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	UpdateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	// GetIncompleteJobs returns every job whose status is not terminal.
	GetIncompleteJobs(ctx context.Context) ([]*Job, error)

	CreatePlaylist(ctx context.Context, p *PlaylistJob) error
	UpdatePlaylist(ctx context.Context, p *PlaylistJob) error
	GetPlaylist(ctx context.Context, id uuid.UUID) (*PlaylistJob, error)
	GetIncompletePlaylists(ctx context.Context) ([]*PlaylistJob, error)
	// GetCompletedChildJobIDs returns the ids of completed children of a
	// playlist, for resume bookkeeping.
	GetCompletedChildJobIDs(ctx context.Context, playlistID uuid.UUID) ([]uuid.UUID, error)

	// DeleteJobsOlderThan trims ancient terminal records; retention is long,
	// the in-memory index eviction is the hot path.
	DeleteJobsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)

	Close()
}
