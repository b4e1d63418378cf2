package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists jobs and playlists in Postgres.
type PostgresStore struct {
	db *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	plugin TEXT NOT NULL,
	requester TEXT NOT NULL,
	guild_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	parent_playlist_id UUID,
	status TEXT NOT NULL,
	params JSONB,
	result TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs (parent_playlist_id);

CREATE TABLE IF NOT EXISTS playlist_jobs (
	id UUID PRIMARY KEY,
	plugin TEXT NOT NULL,
	requester TEXT NOT NULL,
	guild_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	total INT NOT NULL,
	completed INT NOT NULL,
	failed INT NOT NULL,
	skipped INT NOT NULL,
	status TEXT NOT NULL,
	max_items INT NOT NULL,
	current_child_id UUID,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	cancelled_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_playlist_jobs_status ON playlist_jobs (status);
`

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// CreateJob inserts a new job record.
func (s *PostgresStore) CreateJob(ctx context.Context, j *Job) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	query := `
		INSERT INTO jobs (id, plugin, requester, guild_id, channel_id, parent_playlist_id,
		                  status, params, result, error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.Exec(ctx, query,
		j.ID, j.Plugin, j.Requester, j.Context.GuildID, j.Context.ChannelID,
		j.ParentPlaylistID, j.Status, params, j.Result, j.ErrorMessage,
		j.CreatedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob writes the full current state of a job.
func (s *PostgresStore) UpdateJob(ctx context.Context, j *Job) error {
	query := `
		UPDATE jobs
		SET status = $2, result = $3, error_message = $4, completed_at = $5
		WHERE id = $1
	`
	_, err := s.db.Exec(ctx, query, j.ID, j.Status, j.Result, j.ErrorMessage, j.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, plugin, requester, guild_id, channel_id, parent_playlist_id,
		       status, params, result, error_message, created_at, completed_at
		FROM jobs
		WHERE id = $1
	`
	j, err := scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetIncompleteJobs returns every non-terminal job, for crash recovery.
func (s *PostgresStore) GetIncompleteJobs(ctx context.Context) ([]*Job, error) {
	query := `
		SELECT id, plugin, requester, guild_id, channel_id, parent_playlist_id,
		       status, params, result, error_message, created_at, completed_at
		FROM jobs
		WHERE status NOT IN ($1, $2)
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query, StatusCompleted, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j            Job
		params       []byte
		result       *string
		errorMessage *string
	)
	err := row.Scan(
		&j.ID, &j.Plugin, &j.Requester, &j.Context.GuildID, &j.Context.ChannelID,
		&j.ParentPlaylistID, &j.Status, &params, &result, &errorMessage,
		&j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	if result != nil {
		j.Result = *result
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	return &j, nil
}

// CreatePlaylist inserts a new playlist record.
func (s *PostgresStore) CreatePlaylist(ctx context.Context, p *PlaylistJob) error {
	query := `
		INSERT INTO playlist_jobs (id, plugin, requester, guild_id, channel_id,
		                           total, completed, failed, skipped, status, max_items,
		                           current_child_id, error_message, created_at,
		                           completed_at, cancelled_at, cancelled_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.db.Exec(ctx, query,
		p.ID, p.Plugin, p.Requester, p.Context.GuildID, p.Context.ChannelID,
		p.Total, p.Completed, p.Failed, p.Skipped, p.Status, p.MaxItems,
		p.CurrentChildID, p.ErrorMessage, p.CreatedAt,
		p.CompletedAt, p.CancelledAt, p.CancelledBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}
	return nil
}

// UpdatePlaylist writes the full current state of a playlist.
func (s *PostgresStore) UpdatePlaylist(ctx context.Context, p *PlaylistJob) error {
	query := `
		UPDATE playlist_jobs
		SET total = $2, completed = $3, failed = $4, skipped = $5, status = $6,
		    current_child_id = $7, error_message = $8, completed_at = $9,
		    cancelled_at = $10, cancelled_by = $11
		WHERE id = $1
	`
	_, err := s.db.Exec(ctx, query,
		p.ID, p.Total, p.Completed, p.Failed, p.Skipped, p.Status,
		p.CurrentChildID, p.ErrorMessage, p.CompletedAt,
		p.CancelledAt, p.CancelledBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	return nil
}

// GetPlaylist retrieves a playlist by id.
func (s *PostgresStore) GetPlaylist(ctx context.Context, id uuid.UUID) (*PlaylistJob, error) {
	query := `
		SELECT id, plugin, requester, guild_id, channel_id, total, completed, failed,
		       skipped, status, max_items, current_child_id, error_message,
		       created_at, completed_at, cancelled_at, cancelled_by
		FROM playlist_jobs
		WHERE id = $1
	`
	p, err := scanPlaylist(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return p, nil
}

// GetIncompletePlaylists returns every non-terminal playlist.
func (s *PostgresStore) GetIncompletePlaylists(ctx context.Context) ([]*PlaylistJob, error) {
	query := `
		SELECT id, plugin, requester, guild_id, channel_id, total, completed, failed,
		       skipped, status, max_items, current_child_id, error_message,
		       created_at, completed_at, cancelled_at, cancelled_by
		FROM playlist_jobs
		WHERE status NOT IN ($1, $2, $3, $4)
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query,
		PlaylistCompleted, PlaylistPartialComplete, PlaylistFailed, PlaylistCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*PlaylistJob
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playlists: %w", err)
	}
	return playlists, nil
}

func scanPlaylist(row rowScanner) (*PlaylistJob, error) {
	var (
		p            PlaylistJob
		errorMessage *string
		cancelledBy  *string
	)
	err := row.Scan(
		&p.ID, &p.Plugin, &p.Requester, &p.Context.GuildID, &p.Context.ChannelID,
		&p.Total, &p.Completed, &p.Failed, &p.Skipped, &p.Status, &p.MaxItems,
		&p.CurrentChildID, &errorMessage, &p.CreatedAt,
		&p.CompletedAt, &p.CancelledAt, &cancelledBy,
	)
	if err != nil {
		return nil, err
	}
	if errorMessage != nil {
		p.ErrorMessage = *errorMessage
	}
	if cancelledBy != nil {
		p.CancelledBy = *cancelledBy
	}
	return &p, nil
}

// GetCompletedChildJobIDs returns ids of completed children of a playlist.
func (s *PostgresStore) GetCompletedChildJobIDs(ctx context.Context, playlistID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM jobs
		WHERE parent_playlist_id = $1 AND status = $2
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query, playlistID, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to get completed child jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child job ids: %w", err)
	}
	return ids, nil
}

// DeleteJobsOlderThan deletes terminal jobs created before the cutoff.
func (s *PostgresStore) DeleteJobsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		DELETE FROM jobs
		WHERE created_at < $1 AND status IN ($2, $3)
	`
	result, err := s.db.Exec(ctx, query, cutoff, StatusCompleted, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return result.RowsAffected(), nil
}
