package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists jobs and playlists in a local sqlite file. Same
// contract as PostgresStore, for single-host deployments.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	plugin TEXT NOT NULL,
	requester TEXT NOT NULL,
	guild_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	parent_playlist_id TEXT,
	status TEXT NOT NULL,
	params TEXT,
	result TEXT,
	error_message TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs (parent_playlist_id);

CREATE TABLE IF NOT EXISTS playlist_jobs (
	id TEXT PRIMARY KEY,
	plugin TEXT NOT NULL,
	requester TEXT NOT NULL,
	guild_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	total INTEGER NOT NULL,
	completed INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	status TEXT NOT NULL,
	max_items INTEGER NOT NULL,
	current_child_id TEXT,
	error_message TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	cancelled_at TEXT,
	cancelled_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_playlist_jobs_status ON playlist_jobs (status);
`

// NewSQLiteStore opens (or creates) the database file and ensures the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Writers from many goroutines; sqlite serializes them itself.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatUUIDPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseUUIDPtr(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *Job) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	query := `
		INSERT INTO jobs (id, plugin, requester, guild_id, channel_id, parent_playlist_id,
		                  status, params, result, error_message, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		j.ID.String(), j.Plugin, j.Requester, j.Context.GuildID, j.Context.ChannelID,
		formatUUIDPtr(j.ParentPlaylistID), string(j.Status), string(params),
		j.Result, j.ErrorMessage, formatTime(j.CreatedAt), formatTimePtr(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob writes the full current state of a job.
func (s *SQLiteStore) UpdateJob(ctx context.Context, j *Job) error {
	query := `
		UPDATE jobs
		SET status = ?, result = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query,
		string(j.Status), j.Result, j.ErrorMessage, formatTimePtr(j.CompletedAt), j.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

const sqliteJobColumns = `id, plugin, requester, guild_id, channel_id, parent_playlist_id,
	status, params, result, error_message, created_at, completed_at`

// GetJob retrieves a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetIncompleteJobs returns every non-terminal job, for crash recovery.
func (s *SQLiteStore) GetIncompleteJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE status NOT IN (?, ?) ORDER BY created_at`,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
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

func scanSQLiteJob(row rowScanner) (*Job, error) {
	var (
		j                Job
		id, status       string
		createdAt        string
		parentID         sql.NullString
		params           sql.NullString
		result           sql.NullString
		errorMessage     sql.NullString
		completedAt      sql.NullString
	)
	err := row.Scan(
		&id, &j.Plugin, &j.Requester, &j.Context.GuildID, &j.Context.ChannelID,
		&parentID, &status, &params, &result, &errorMessage, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if j.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	if j.ParentPlaylistID, err = parseUUIDPtr(parentID); err != nil {
		return nil, err
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &j.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	j.Result = result.String
	j.ErrorMessage = errorMessage.String
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// CreatePlaylist inserts a new playlist record.
func (s *SQLiteStore) CreatePlaylist(ctx context.Context, p *PlaylistJob) error {
	query := `
		INSERT INTO playlist_jobs (id, plugin, requester, guild_id, channel_id,
		                           total, completed, failed, skipped, status, max_items,
		                           current_child_id, error_message, created_at,
		                           completed_at, cancelled_at, cancelled_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID.String(), p.Plugin, p.Requester, p.Context.GuildID, p.Context.ChannelID,
		p.Total, p.Completed, p.Failed, p.Skipped, string(p.Status), p.MaxItems,
		formatUUIDPtr(p.CurrentChildID), p.ErrorMessage, formatTime(p.CreatedAt),
		formatTimePtr(p.CompletedAt), formatTimePtr(p.CancelledAt), p.CancelledBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}
	return nil
}

// UpdatePlaylist writes the full current state of a playlist.
func (s *SQLiteStore) UpdatePlaylist(ctx context.Context, p *PlaylistJob) error {
	query := `
		UPDATE playlist_jobs
		SET total = ?, completed = ?, failed = ?, skipped = ?, status = ?,
		    current_child_id = ?, error_message = ?, completed_at = ?,
		    cancelled_at = ?, cancelled_by = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query,
		p.Total, p.Completed, p.Failed, p.Skipped, string(p.Status),
		formatUUIDPtr(p.CurrentChildID), p.ErrorMessage, formatTimePtr(p.CompletedAt),
		formatTimePtr(p.CancelledAt), p.CancelledBy, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	return nil
}

const sqlitePlaylistColumns = `id, plugin, requester, guild_id, channel_id, total, completed,
	failed, skipped, status, max_items, current_child_id, error_message,
	created_at, completed_at, cancelled_at, cancelled_by`

// GetPlaylist retrieves a playlist by id.
func (s *SQLiteStore) GetPlaylist(ctx context.Context, id uuid.UUID) (*PlaylistJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePlaylistColumns+` FROM playlist_jobs WHERE id = ?`, id.String())
	p, err := scanSQLitePlaylist(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return p, nil
}

// GetIncompletePlaylists returns every non-terminal playlist.
func (s *SQLiteStore) GetIncompletePlaylists(ctx context.Context) ([]*PlaylistJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePlaylistColumns+` FROM playlist_jobs WHERE status NOT IN (?, ?, ?, ?) ORDER BY created_at`,
		string(PlaylistCompleted), string(PlaylistPartialComplete),
		string(PlaylistFailed), string(PlaylistCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*PlaylistJob
	for rows.Next() {
		p, err := scanSQLitePlaylist(rows)
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

func scanSQLitePlaylist(row rowScanner) (*PlaylistJob, error) {
	var (
		p            PlaylistJob
		id, status   string
		createdAt    string
		currentChild sql.NullString
		errorMessage sql.NullString
		completedAt  sql.NullString
		cancelledAt  sql.NullString
		cancelledBy  sql.NullString
	)
	err := row.Scan(
		&id, &p.Plugin, &p.Requester, &p.Context.GuildID, &p.Context.ChannelID,
		&p.Total, &p.Completed, &p.Failed, &p.Skipped, &status, &p.MaxItems,
		&currentChild, &errorMessage, &createdAt, &completedAt, &cancelledAt, &cancelledBy,
	)
	if err != nil {
		return nil, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	p.Status = PlaylistStatus(status)
	if p.CurrentChildID, err = parseUUIDPtr(currentChild); err != nil {
		return nil, err
	}
	p.ErrorMessage = errorMessage.String
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if p.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return nil, err
	}
	p.CancelledBy = cancelledBy.String
	return &p, nil
}

// GetCompletedChildJobIDs returns ids of completed children of a playlist.
func (s *SQLiteStore) GetCompletedChildJobIDs(ctx context.Context, playlistID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE parent_playlist_id = ? AND status = ? ORDER BY created_at`,
		playlistID.String(), string(StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to get completed child jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan child job id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid child job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child job ids: %w", err)
	}
	return ids, nil
}

// DeleteJobsOlderThan deletes terminal jobs created before the cutoff.
func (s *SQLiteStore) DeleteJobsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?)`,
		cutoff, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return result.RowsAffected()
}
