package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/notify"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/playlist"
)

// PlaylistsHandler handles playlist status, cancellation and SSE streaming
type PlaylistsHandler struct {
	jobManager *job.Manager
	orch       *playlist.Orchestrator
	hub        *notify.Hub
	logger     *zap.Logger
}

// NewPlaylistsHandler creates a new playlists handler
func NewPlaylistsHandler(jobManager *job.Manager, orch *playlist.Orchestrator, hub *notify.Hub, logger *zap.Logger) *PlaylistsHandler {
	return &PlaylistsHandler{
		jobManager: jobManager,
		orch:       orch,
		hub:        hub,
		logger:     logger,
	}
}

// GetPlaylist returns the status of a playlist job as JSON
func (h *PlaylistsHandler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	p, err := h.jobManager.GetPlaylist(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			http.Error(w, "Playlist not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get playlist", zap.String("playlist_id", id.String()), zap.Error(err))
		http.Error(w, "Failed to get playlist", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(p)
}

type cancelRequest struct {
	CancelledBy string `json:"cancelled_by"`
}

// Cancel requests cancellation of a running playlist. The current item
// finishes; remaining items are skipped at the next boundary.
func (h *PlaylistsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.orch.Cancel(r.Context(), id, req.CancelledBy); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			http.Error(w, "Playlist not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to cancel playlist", zap.String("playlist_id", id.String()), zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"playlist_id": id,
		"message":     "Cancellation requested",
	})
}

// StreamProgress streams playlist progress via Server-Sent Events
func (h *PlaylistsHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	existing, err := h.jobManager.GetPlaylist(r.Context(), id)
	if err != nil {
		http.Error(w, "Playlist not found", http.StatusNotFound)
		return
	}

	flusher, flushable := w.(http.Flusher)
	if !flushable {
		h.logger.Error("Streaming not supported - ResponseWriter does not implement http.Flusher")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	h.setSSEHeaders(w)

	// Write the status code before any data so proxies commit to the
	// chunked response.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("SSE stream established",
		zap.String("playlist_id", id.String()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	events := h.hub.Subscribe(id)
	defer func() {
		h.hub.Unsubscribe(id, events)
		h.logger.Info("SSE stream closed", zap.String("playlist_id", id.String()))
	}()

	if err := h.sendInitialStatus(w, flusher, existing); err != nil {
		h.logger.Error("Failed to send initial status",
			zap.String("playlist_id", id.String()),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Heartbeats keep proxies and load balancers from dropping the
	// connection between item boundaries.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	h.streamEventLoop(ctx, w, flusher, id, events, heartbeat)
}

func (h *PlaylistsHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Error("Invalid playlist ID", zap.String("playlist_id", idStr), zap.Error(err))
		http.Error(w, "Invalid playlist ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// setSSEHeaders configures all necessary headers for SSE
func (h *PlaylistsHandler) setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")

	// Disable buffering for nginx and other reverse proxies.
	w.Header().Set("X-Accel-Buffering", "no")

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type")
}

// sendInitialStatus sends the current playlist state when a client connects
func (h *PlaylistsHandler) sendInitialStatus(w http.ResponseWriter, flusher http.Flusher, p *job.PlaylistJob) error {
	data := map[string]interface{}{
		"playlist_id": p.ID.String(),
		"status":      p.Status,
		"completed":   p.Completed,
		"failed":      p.Failed,
		"skipped":     p.Skipped,
		"total":       p.Total,
		"message":     "Connected to progress stream",
	}

	if err := h.writeSSEEvent(w, flusher, "status", data); err != nil {
		return fmt.Errorf("failed to write initial status: %w", err)
	}
	return nil
}

// streamEventLoop handles the main SSE event streaming loop
func (h *PlaylistsHandler) streamEventLoop(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	id uuid.UUID,
	events <-chan notify.Event,
	heartbeat *time.Ticker,
) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Client disconnected",
				zap.String("playlist_id", id.String()),
				zap.String("reason", ctx.Err().Error()),
			)
			return

		case ev, open := <-events:
			if !open {
				return
			}
			if err := h.writeSSEEvent(w, flusher, string(ev.Kind), ev); err != nil {
				h.logger.Error("Failed to write SSE event",
					zap.String("playlist_id", id.String()),
					zap.Error(err),
				)
				return
			}
			if ev.Progress != nil && job.PlaylistStatus(ev.Progress.Status).Terminal() {
				h.writeSSEEvent(w, flusher, "done", map[string]string{
					"playlist_id": id.String(),
					"status":      ev.Progress.Status,
				})
				return
			}

		case <-heartbeat.C:
			// Comment lines are the SSE keep-alive idiom.
			if _, err := fmt.Fprintf(w, ": heartbeat %d\n\n", time.Now().Unix()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a named SSE event with a JSON payload
func (h *PlaylistsHandler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE payload: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
