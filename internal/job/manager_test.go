package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory Store for manager tests.
type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*Job
	playlists map[uuid.UUID]*PlaylistJob
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[uuid.UUID]*Job),
		playlists: make(map[uuid.UUID]*PlaylistJob),
	}
}

func (s *memStore) CreateJob(ctx context.Context, j *Job) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *j
	s.jobs[j.ID] = &c
	return nil
}

func (s *memStore) UpdateJob(ctx context.Context, j *Job) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *j
	s.jobs[j.ID] = &c
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *memStore) GetIncompleteJobs(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) CreatePlaylist(ctx context.Context, p *PlaylistJob) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.playlists[p.ID] = &c
	return nil
}

func (s *memStore) UpdatePlaylist(ctx context.Context, p *PlaylistJob) error {
	return s.CreatePlaylist(ctx, p)
}

func (s *memStore) GetPlaylist(ctx context.Context, id uuid.UUID) (*PlaylistJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playlists[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *memStore) GetIncompletePlaylists(ctx context.Context) ([]*PlaylistJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PlaylistJob
	for _, p := range s.playlists {
		if !p.Status.Terminal() {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) GetCompletedChildJobIDs(ctx context.Context, playlistID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, j := range s.jobs {
		if j.ParentPlaylistID != nil && *j.ParentPlaylistID == playlistID && j.Status == StatusCompleted {
			out = append(out, j.ID)
		}
	}
	return out, nil
}

func (s *memStore) DeleteJobsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) Close() {}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewManager(store, nil, zap.NewNop()), store
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	j, err := m.Create(ctx, "backup", "user-1", Context{GuildID: "g1"}, map[string]string{"target": "db"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, j.Status)

	// Creation is written through immediately.
	stored, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	require.NoError(t, m.Start(ctx, j.ID))
	require.NoError(t, m.Complete(ctx, j.ID, "42 rows"))

	got, err := m.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "42 rows", got.Result)
	require.NotNil(t, got.CompletedAt)

	stored, err = store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestManager_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	j, err := m.Create(ctx, "backup", "user-1", Context{}, nil, nil)
	require.NoError(t, err)

	// Pending cannot complete without running first.
	assert.ErrorIs(t, m.Complete(ctx, j.ID, ""), ErrInvalidTransition)

	require.NoError(t, m.Start(ctx, j.ID))
	// Running cannot start again.
	assert.ErrorIs(t, m.Start(ctx, j.ID), ErrInvalidTransition)

	require.NoError(t, m.Fail(ctx, j.ID, "boom"))
	// Terminal states admit no further transitions.
	assert.ErrorIs(t, m.Start(ctx, j.ID), ErrInvalidTransition)
	assert.ErrorIs(t, m.Complete(ctx, j.ID, ""), ErrInvalidTransition)
	assert.ErrorIs(t, m.Fail(ctx, j.ID, "again"), ErrInvalidTransition)
}

func TestManager_FailFromPending(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	j, err := m.Create(ctx, "backup", "user-1", Context{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, j.ID, "interrupted by restart"))

	got, err := m.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.ErrorMessage)
}

func TestManager_UnknownJob(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Start(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_StoreErrorsAreNotPropagated(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failWith = errors.New("connection refused")
	m := NewManager(store, nil, zap.NewNop())

	// A dead store must not block job flow.
	j, err := m.Create(ctx, "backup", "user-1", Context{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, j.ID))
	require.NoError(t, m.Complete(ctx, j.ID, "done"))

	got, err := m.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestManager_Cooldown(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	assert.True(t, m.CheckCooldown("user-1", "backup", 10*time.Second))

	_, err := m.Create(ctx, "backup", "user-1", Context{}, nil, nil)
	require.NoError(t, err)

	// Within the window the pair is blocked; other pairs are not.
	assert.False(t, m.CheckCooldown("user-1", "backup", 10*time.Second))
	assert.True(t, m.CheckCooldown("user-2", "backup", 10*time.Second))
	assert.True(t, m.CheckCooldown("user-1", "restore", 10*time.Second))

	// Cooldown counts from creation time, so a tiny window has passed.
	assert.True(t, m.CheckCooldown("user-1", "backup", time.Nanosecond))

	// Zero cooldown always passes.
	assert.True(t, m.CheckCooldown("user-1", "backup", 0))
}

func TestManager_Recover(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	running := &Job{ID: uuid.New(), Plugin: "backup", Requester: "user-1", Status: StatusRunning, CreatedAt: time.Now()}
	done := &Job{ID: uuid.New(), Plugin: "backup", Requester: "user-1", Status: StatusCompleted, CreatedAt: time.Now()}
	require.NoError(t, store.CreateJob(ctx, running))
	require.NoError(t, store.CreateJob(ctx, done))

	m := NewManager(store, nil, zap.NewNop())
	recovered, err := m.Recover(ctx)
	require.NoError(t, err)

	// Only the non-terminal job comes back.
	require.Len(t, recovered, 1)
	assert.Equal(t, running.ID, recovered[0].ID)

	// Recovered jobs are indexed and can transition.
	require.NoError(t, m.Fail(ctx, running.ID, "interrupted by restart"))

	// Cooldown state is rebuilt from recovered creation times.
	assert.False(t, m.CheckCooldown("user-1", "backup", time.Hour))
}

func TestManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	old, err := m.Create(ctx, "backup", "user-1", Context{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, old.ID))
	require.NoError(t, m.Complete(ctx, old.ID, "ok"))

	stillRunning, err := m.Create(ctx, "backup", "user-2", Context{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, stillRunning.ID))

	// maxAge zero makes everything eligible by age; only terminal records go.
	evicted := m.Cleanup(0)
	assert.Equal(t, 1, evicted)

	// Evicted records still resolve through the durable store.
	got, err := m.GetJob(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	_, ok := store.jobs[stillRunning.ID]
	assert.True(t, ok)

	// The running job stays indexed and keeps working.
	require.NoError(t, m.Complete(ctx, stillRunning.ID, "late"))
}

func TestManager_CleanupAgesByCompletionTime(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	j, err := m.Create(ctx, "backup", "user-1", Context{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, j.ID))

	// Long-running job: created well before the cutoff, finished just now.
	m.mu.Lock()
	m.jobs[j.ID].CreatedAt = time.Now().Add(-48 * time.Hour)
	m.mu.Unlock()
	require.NoError(t, m.Complete(ctx, j.ID, "ok"))

	assert.Equal(t, 0, m.Cleanup(24*time.Hour))

	// Once the completion time itself falls behind the cutoff it goes.
	past := time.Now().Add(-25 * time.Hour)
	m.mu.Lock()
	m.jobs[j.ID].CompletedAt = &past
	m.mu.Unlock()
	assert.Equal(t, 1, m.Cleanup(24*time.Hour))
}

func TestManager_PlaylistLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	p, err := m.CreatePlaylist(ctx, "transcode", "user-1", Context{GuildID: "g1"}, 3, 25)
	require.NoError(t, err)
	assert.Equal(t, PlaylistPending, p.Status)
	assert.Equal(t, 3, p.Total)

	require.NoError(t, m.StartPlaylist(ctx, p.ID))

	child := uuid.New()
	require.NoError(t, m.PlaylistItemStarted(ctx, p.ID, child, "intro.mp4", 2*time.Minute))
	got, err := m.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentChildID)
	assert.Equal(t, child, *got.CurrentChildID)

	require.NoError(t, m.PlaylistItemFinished(ctx, p.ID, false, time.Minute))
	require.NoError(t, m.PlaylistItemFinished(ctx, p.ID, true, time.Minute))

	got, err = m.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, 1, got.Failed)

	require.NoError(t, m.FinishPlaylist(ctx, p.ID, PlaylistPartialComplete, "1 of 3 items failed", 1))
	got, err = m.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, PlaylistPartialComplete, got.Status)
	assert.Equal(t, 1, got.Skipped)
	assert.Nil(t, got.CurrentChildID)
	require.NotNil(t, got.CompletedAt)
}

func TestManager_PlaylistCancelRequest(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	p, err := m.CreatePlaylist(ctx, "transcode", "user-1", Context{}, 5, 25)
	require.NoError(t, err)
	require.NoError(t, m.StartPlaylist(ctx, p.ID))

	assert.False(t, m.PlaylistCancelRequested(p.ID))
	require.NoError(t, m.RequestPlaylistCancel(ctx, p.ID, "mod-7"))
	assert.True(t, m.PlaylistCancelRequested(p.ID))

	got, err := m.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "mod-7", got.CancelledBy)
	require.NotNil(t, got.CancelledAt)
	// Status does not change until the orchestrator reaches a boundary.
	assert.Equal(t, PlaylistRunning, got.Status)
}

func TestManager_FinishPlaylistRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	p, err := m.CreatePlaylist(ctx, "transcode", "user-1", Context{}, 2, 25)
	require.NoError(t, err)
	require.NoError(t, m.StartPlaylist(ctx, p.ID))

	assert.Error(t, m.FinishPlaylist(ctx, p.ID, PlaylistRunning, "", 0))
	require.NoError(t, m.FinishPlaylist(ctx, p.ID, PlaylistCancelled, "", 2))
	// Terminal playlists admit no further transitions.
	assert.ErrorIs(t, m.FinishPlaylist(ctx, p.ID, PlaylistCompleted, "", 0), ErrInvalidTransition)
}

func TestManager_RecoverPlaylists(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	running := &PlaylistJob{ID: uuid.New(), Plugin: "transcode", Requester: "user-1", Status: PlaylistRunning, Total: 4, Completed: 1, CreatedAt: time.Now()}
	finished := &PlaylistJob{ID: uuid.New(), Plugin: "transcode", Requester: "user-1", Status: PlaylistCompleted, Total: 2, Completed: 2, CreatedAt: time.Now()}
	require.NoError(t, store.CreatePlaylist(ctx, running))
	require.NoError(t, store.CreatePlaylist(ctx, finished))

	m := NewManager(store, nil, zap.NewNop())
	recovered, err := m.RecoverPlaylists(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, running.ID, recovered[0].ID)

	require.NoError(t, m.FinishPlaylist(ctx, running.ID, PlaylistFailed, "interrupted by restart", 3))
}
