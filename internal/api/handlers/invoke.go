package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/playlist"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/runner"
)

// InvokeHandler accepts plugin invocations and playlist runs. The caller
// gets a job id back immediately; execution happens in the background.
type InvokeHandler struct {
	svc    *runner.Service
	orch   *playlist.Orchestrator
	logger *zap.Logger
}

// NewInvokeHandler creates a new invoke handler
func NewInvokeHandler(svc *runner.Service, orch *playlist.Orchestrator, logger *zap.Logger) *InvokeHandler {
	return &InvokeHandler{
		svc:    svc,
		orch:   orch,
		logger: logger,
	}
}

type invokeRequest struct {
	Plugin      string            `json:"plugin"`
	RequesterID string            `json:"requester_id"`
	Roles       []string          `json:"roles,omitempty"`
	GuildID     string            `json:"guild_id,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

type playlistRequest struct {
	Plugin      string         `json:"plugin"`
	RequesterID string         `json:"requester_id"`
	Roles       []string       `json:"roles,omitempty"`
	GuildID     string         `json:"guild_id,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	MaxItems    int            `json:"max_items,omitempty"`
	Items       []playlistItem `json:"items"`
}

type playlistItem struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Invoke starts a single plugin invocation and returns the job ID
func (h *InvokeHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Plugin == "" || req.RequesterID == "" {
		http.Error(w, "plugin and requester_id are required", http.StatusBadRequest)
		return
	}

	jobID, err := h.svc.Invoke(r.Context(), req.Plugin,
		runner.Requester{ID: req.RequesterID, Roles: req.Roles},
		job.Context{GuildID: req.GuildID, ChannelID: req.ChannelID},
		req.Params,
	)
	if err != nil {
		h.writeInvokeError(w, req.Plugin, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id":  jobID,
		"message": "Invocation started",
	})
}

// RunPlaylist starts a playlist run and returns the playlist job ID
func (h *InvokeHandler) RunPlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Plugin == "" || req.RequesterID == "" {
		http.Error(w, "plugin and requester_id are required", http.StatusBadRequest)
		return
	}

	items := make([]playlist.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, playlist.Item{Name: it.Name, Params: it.Params})
	}

	playlistID, err := h.orch.Run(r.Context(), req.Plugin, items,
		runner.Requester{ID: req.RequesterID, Roles: req.Roles},
		job.Context{GuildID: req.GuildID, ChannelID: req.ChannelID},
		req.MaxItems,
	)
	if err != nil {
		h.writeInvokeError(w, req.Plugin, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"playlist_id": playlistID,
		"message":     "Playlist started",
	})
}

// writeInvokeError maps service refusals to HTTP statuses. Executor
// refusals never surface here; they happen on the background worker and
// show up as failed jobs with a generic message.
func (h *InvokeHandler) writeInvokeError(w http.ResponseWriter, pluginName string, err error) {
	var paramErr *runner.ParamError

	switch {
	case errors.Is(err, runner.ErrUnknownPlugin):
		http.Error(w, "Unknown plugin", http.StatusNotFound)
	case errors.Is(err, runner.ErrPluginDisabled),
		errors.Is(err, runner.ErrNotInvocable),
		errors.Is(err, playlist.ErrPlaylistDisabled),
		errors.Is(err, playlist.ErrNoItems):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, runner.ErrAccessDenied):
		http.Error(w, "Access denied", http.StatusForbidden)
	case errors.Is(err, runner.ErrCooldown):
		http.Error(w, "Plugin is on cooldown", http.StatusTooManyRequests)
	case errors.As(err, &paramErr):
		http.Error(w, paramErr.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("Invocation failed", zap.String("plugin", pluginName), zap.Error(err))
		http.Error(w, "Invocation failed", http.StatusInternalServerError)
	}
}
