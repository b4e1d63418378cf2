package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/notify"
)

// CreatePlaylist inserts a Pending playlist record and returns immediately.
func (m *Manager) CreatePlaylist(ctx context.Context, pluginName, requester string, jctx Context, total, maxItems int) (*PlaylistJob, error) {
	p := &PlaylistJob{
		ID:        uuid.New(),
		Plugin:    pluginName,
		Requester: requester,
		Context:   jctx,
		Total:     total,
		Status:    PlaylistPending,
		MaxItems:  maxItems,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.playlists[p.ID] = p
	m.mu.Unlock()

	if err := m.store.CreatePlaylist(ctx, p); err != nil {
		m.logger.Error("Failed to persist playlist creation",
			zap.String("playlist_id", p.ID.String()),
			zap.Error(err),
		)
	}

	m.logger.Info("Playlist created",
		zap.String("playlist_id", p.ID.String()),
		zap.String("plugin", pluginName),
		zap.Int("total", total),
	)
	return p.clone(), nil
}

// StartPlaylist transitions a playlist from Pending to Running.
func (m *Manager) StartPlaylist(ctx context.Context, id uuid.UUID) error {
	return m.transitionPlaylist(ctx, id, "", 0, func(p *PlaylistJob) error {
		if p.Status != PlaylistPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, PlaylistRunning)
		}
		p.Status = PlaylistRunning
		return nil
	})
}

// PlaylistItemStarted points the playlist at the child job now processing.
func (m *Manager) PlaylistItemStarted(ctx context.Context, id, childID uuid.UUID, itemName string, eta time.Duration) error {
	return m.transitionPlaylist(ctx, id, itemName, eta, func(p *PlaylistJob) error {
		if p.Status != PlaylistRunning {
			return fmt.Errorf("%w: playlist is %s", ErrInvalidTransition, p.Status)
		}
		child := childID
		p.CurrentChildID = &child
		return nil
	})
}

// PlaylistItemFinished bumps the aggregate counters after one item. Counters
// only ever increase, so pollers always see monotonic progress.
func (m *Manager) PlaylistItemFinished(ctx context.Context, id uuid.UUID, failed bool, eta time.Duration) error {
	return m.transitionPlaylist(ctx, id, "", eta, func(p *PlaylistJob) error {
		if p.Status != PlaylistRunning {
			return fmt.Errorf("%w: playlist is %s", ErrInvalidTransition, p.Status)
		}
		if failed {
			p.Failed++
		} else {
			p.Completed++
		}
		return nil
	})
}

// FinishPlaylist moves the playlist to its terminal status. Skipped counts
// the items never processed because of cancellation.
func (m *Manager) FinishPlaylist(ctx context.Context, id uuid.UUID, status PlaylistStatus, errMsg string, skipped int) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	return m.transitionPlaylist(ctx, id, "", 0, func(p *PlaylistJob) error {
		if p.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
		}
		now := time.Now()
		p.Status = status
		p.ErrorMessage = errMsg
		p.Skipped += skipped
		p.CurrentChildID = nil
		p.CompletedAt = &now
		return nil
	})
}

// RequestPlaylistCancel flags a running playlist for cooperative
// cancellation. The orchestrator observes the flag at the next item boundary;
// an already-running child process runs to completion or its own timeout.
func (m *Manager) RequestPlaylistCancel(ctx context.Context, id uuid.UUID, cancelledBy string) error {
	return m.transitionPlaylist(ctx, id, "", 0, func(p *PlaylistJob) error {
		if p.Status.Terminal() {
			return fmt.Errorf("%w: playlist already %s", ErrInvalidTransition, p.Status)
		}
		if p.CancelRequested {
			return nil
		}
		now := time.Now()
		p.CancelRequested = true
		p.CancelledAt = &now
		p.CancelledBy = cancelledBy
		return nil
	})
}

// PlaylistCancelRequested reports whether a cancel has been requested.
func (m *Manager) PlaylistCancelRequested(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.playlists[id]
	return ok && p.CancelRequested
}

// GetPlaylist returns a snapshot of a playlist, falling back to the durable
// store for records evicted from the index.
func (m *Manager) GetPlaylist(ctx context.Context, id uuid.UUID) (*PlaylistJob, error) {
	m.mu.RLock()
	p, ok := m.playlists[id]
	var snapshot *PlaylistJob
	if ok {
		snapshot = p.clone()
	}
	m.mu.RUnlock()

	if ok {
		return snapshot, nil
	}
	return m.store.GetPlaylist(ctx, id)
}

// RecoverPlaylists loads every durably-stored non-terminal playlist back into
// the index and returns them for the caller's recovery decision.
func (m *Manager) RecoverPlaylists(ctx context.Context) ([]*PlaylistJob, error) {
	playlists, err := m.store.GetIncompletePlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load incomplete playlists: %w", err)
	}

	m.mu.Lock()
	for _, p := range playlists {
		m.playlists[p.ID] = p
	}
	m.mu.Unlock()

	out := make([]*PlaylistJob, len(playlists))
	for i, p := range playlists {
		out[i] = p.clone()
	}
	m.logger.Info("Recovered incomplete playlists", zap.Int("count", len(out)))
	return out, nil
}

func (m *Manager) transitionPlaylist(ctx context.Context, id uuid.UUID, itemName string, eta time.Duration, mutate func(*PlaylistJob) error) error {
	m.mu.Lock()
	p, ok := m.playlists[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("playlist %s: %w", id, ErrNotFound)
	}
	if err := mutate(p); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := p.clone()
	m.mu.Unlock()

	if err := m.store.UpdatePlaylist(ctx, snapshot); err != nil {
		m.logger.Error("Failed to persist playlist transition",
			zap.String("playlist_id", id.String()),
			zap.String("status", string(snapshot.Status)),
			zap.Error(err),
		)
	}

	m.notifier.PlaylistProgress(id, notify.Progress{
		Completed:   snapshot.Completed,
		Failed:      snapshot.Failed,
		Skipped:     snapshot.Skipped,
		Total:       snapshot.Total,
		CurrentItem: itemName,
		ETA:         eta,
		Status:      string(snapshot.Status),
	})
	return nil
}
