package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/notify"
)

// ErrInvalidTransition is returned for a transition a job's current status
// does not permit.
var ErrInvalidTransition = errors.New("invalid status transition")

// Manager is the single writer of Job and PlaylistJob state. It keeps a
// fast-path in-memory index and writes every transition through to the
// durable store. A failed durability write is logged and never propagated to
// the transition caller: the in-memory state still advances so the rest of
// the system proceeds consistently (availability over strict durability for
// a chat-response system).
type Manager struct {
	store    Store
	notifier notify.Notifier
	logger   *zap.Logger

	mu          sync.RWMutex
	jobs        map[uuid.UUID]*Job
	playlists   map[uuid.UUID]*PlaylistJob
	lastCreated map[string]time.Time
}

// NewManager creates a new job manager.
func NewManager(store Store, notifier notify.Notifier, logger *zap.Logger) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		jobs:        make(map[uuid.UUID]*Job),
		playlists:   make(map[uuid.UUID]*PlaylistJob),
		lastCreated: make(map[string]time.Time),
	}
}

func cooldownKey(requester, pluginName string) string {
	return requester + "\x00" + pluginName
}

// Create inserts a Pending job into the index and the durable store and
// returns immediately. The caller launches the background execution
// separately and never waits on it here.
func (m *Manager) Create(ctx context.Context, pluginName, requester string, jctx Context, params map[string]string, parentPlaylistID *uuid.UUID) (*Job, error) {
	j := &Job{
		ID:               uuid.New(),
		Plugin:           pluginName,
		Requester:        requester,
		Context:          jctx,
		ParentPlaylistID: parentPlaylistID,
		Status:           StatusPending,
		Params:           params,
		CreatedAt:        time.Now(),
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.lastCreated[cooldownKey(requester, pluginName)] = j.CreatedAt
	m.mu.Unlock()

	if err := m.store.CreateJob(ctx, j); err != nil {
		m.logger.Error("Failed to persist job creation",
			zap.String("job_id", j.ID.String()),
			zap.Error(err),
		)
	}

	m.notifier.JobCreated(j.ID, pluginName)
	m.logger.Info("Job created",
		zap.String("job_id", j.ID.String()),
		zap.String("plugin", pluginName),
		zap.String("requester", requester),
	)
	return j.clone(), nil
}

// Start transitions a job from Pending to Running.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status != StatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusRunning)
		}
		j.Status = StatusRunning
		return nil
	})
}

// Complete transitions a Running job to Completed with a result preview.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID, resultPreview string) error {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status != StatusRunning {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusCompleted)
		}
		now := time.Now()
		j.Status = StatusCompleted
		j.Result = resultPreview
		j.CompletedAt = &now
		return nil
	})
}

// Fail transitions a non-terminal job to Failed with an error message.
// Pending jobs may fail directly, e.g. when marked dead after a restart.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusFailed)
		}
		now := time.Now()
		j.Status = StatusFailed
		j.ErrorMessage = errMsg
		j.CompletedAt = &now
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, mutate func(*Job) error) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err := mutate(j); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := j.clone()
	m.mu.Unlock()

	if err := m.store.UpdateJob(ctx, snapshot); err != nil {
		m.logger.Error("Failed to persist job transition",
			zap.String("job_id", id.String()),
			zap.String("status", string(snapshot.Status)),
			zap.Error(err),
		)
	}

	m.notifier.JobStatusChanged(id, snapshot.Plugin, string(snapshot.Status), snapshot.Result, snapshot.ErrorMessage)
	m.logger.Info("Job status changed",
		zap.String("job_id", id.String()),
		zap.String("status", string(snapshot.Status)),
	)
	return nil
}

// CheckCooldown reports whether a new invocation for the requester+plugin
// pair is allowed: true iff no job for the pair was created within the
// window. A zero cooldown always passes.
func (m *Manager) CheckCooldown(requester, pluginName string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	m.mu.RLock()
	last, ok := m.lastCreated[cooldownKey(requester, pluginName)]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return time.Since(last) >= cooldown
}

// GetJob returns a snapshot of a job, falling back to the durable store for
// records evicted from the index.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	var snapshot *Job
	if ok {
		snapshot = j.clone()
	}
	m.mu.RUnlock()

	if ok {
		return snapshot, nil
	}
	return m.store.GetJob(ctx, id)
}

// Recover loads every durably-stored non-terminal job back into the index and
// returns them for the caller to decide their fate. A restart must not
// silently lose track of in-flight work.
func (m *Manager) Recover(ctx context.Context) ([]*Job, error) {
	jobs, err := m.store.GetIncompleteJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load incomplete jobs: %w", err)
	}

	m.mu.Lock()
	for _, j := range jobs {
		m.jobs[j.ID] = j
		key := cooldownKey(j.Requester, j.Plugin)
		if j.CreatedAt.After(m.lastCreated[key]) {
			m.lastCreated[key] = j.CreatedAt
		}
	}
	m.mu.Unlock()

	out := make([]*Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.clone()
	}
	m.logger.Info("Recovered incomplete jobs", zap.Int("count", len(out)))
	return out, nil
}

// Cleanup evicts terminal records older than maxAge from the in-memory index.
// The durable store keeps the full history.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	evicted := 0

	m.mu.Lock()
	for id, j := range m.jobs {
		if j.Status.Terminal() && finishedAt(j.CompletedAt, j.CreatedAt).Before(cutoff) {
			delete(m.jobs, id)
			evicted++
		}
	}
	for id, p := range m.playlists {
		if p.Status.Terminal() && finishedAt(p.CompletedAt, p.CreatedAt).Before(cutoff) {
			delete(m.playlists, id)
			evicted++
		}
	}
	for key, last := range m.lastCreated {
		if last.Before(cutoff) {
			delete(m.lastCreated, key)
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Info("Evicted terminal records from index",
			zap.Int("count", evicted),
			zap.Duration("max_age", maxAge),
		)
	}
	return evicted
}

// finishedAt is the age reference for eviction: completion time when the
// record has one, creation time otherwise. A long-running job is not
// evicted the moment it finishes just because it was created long ago.
func finishedAt(completed *time.Time, created time.Time) time.Time {
	if completed != nil {
		return *completed
	}
	return created
}
