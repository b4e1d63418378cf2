// Package playlist drives sequential multi-item runs on top of the job
// manager, with aggregate progress, ETA and cooperative cancellation.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/metrics"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/runner"
)

var (
	ErrPlaylistDisabled = errors.New("plugin does not allow playlist runs")
	ErrNoItems          = errors.New("playlist has no items")
)

// Item is one unit of work in a playlist: a display name plus the option
// values for the child invocation.
type Item struct {
	Name   string
	Params map[string]string
}

// Orchestrator runs playlists. It never mutates a Job or PlaylistJob
// directly; all writes go through the job manager.
type Orchestrator struct {
	jobs   *job.Manager
	svc    *runner.Service
	cfg    config.PlaylistConfig
	logger *zap.Logger
}

// NewOrchestrator creates a playlist orchestrator.
func NewOrchestrator(jobs *job.Manager, svc *runner.Service, cfg config.PlaylistConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}
}

// Run validates the request, creates the PlaylistJob and returns its id
// immediately. Items are processed strictly in order on one background
// worker; no two items of the same playlist ever run concurrently.
func (o *Orchestrator) Run(ctx context.Context, pluginName string, items []Item, req runner.Requester, jctx job.Context, callerMax int) (uuid.UUID, error) {
	def, ok := o.svc.Definition(pluginName)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", runner.ErrUnknownPlugin, pluginName)
	}
	if !def.Enabled {
		return uuid.Nil, fmt.Errorf("%w: %s", runner.ErrPluginDisabled, pluginName)
	}
	if def.Playlist == nil || !def.Playlist.Enabled {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrPlaylistDisabled, pluginName)
	}
	if len(items) == 0 {
		return uuid.Nil, ErrNoItems
	}

	if err := o.svc.Authorize(def, req, jctx); err != nil {
		return uuid.Nil, err
	}
	if !o.jobs.CheckCooldown(req.ID, def.Name, def.Security.Cooldown) {
		return uuid.Nil, runner.ErrCooldown
	}

	maxItems := capItems(callerMax, def.Playlist.MaxItems, o.cfg.MaxItems)
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	p, err := o.jobs.CreatePlaylist(ctx, def.Name, req.ID, jctx, len(items), maxItems)
	if err != nil {
		return uuid.Nil, err
	}

	go o.supervised(p.ID, func() {
		o.process(p.ID, def, items, req, jctx)
	})
	return p.ID, nil
}

// Cancel requests cooperative cancellation. Already-completed items keep
// their results; the item currently executing runs to completion or its own
// timeout.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, cancelledBy string) error {
	return o.jobs.RequestPlaylistCancel(ctx, id, cancelledBy)
}

func capItems(callerMax, policyMax, globalMax int) int {
	max := policyMax
	if callerMax > 0 && callerMax < max {
		max = callerMax
	}
	if globalMax > 0 && globalMax < max {
		max = globalMax
	}
	if max < 1 {
		max = 1
	}
	return max
}

// process is the playlist worker loop. One item's failure never aborts the
// playlist; cancellation is polled once per item boundary.
func (o *Orchestrator) process(id uuid.UUID, def *plugin.PluginDefinition, items []Item, req runner.Requester, jctx job.Context) {
	ctx := context.Background()

	if err := o.jobs.StartPlaylist(ctx, id); err != nil {
		o.logger.Error("Failed to start playlist", zap.String("playlist_id", id.String()), zap.Error(err))
		return
	}

	var (
		combined  strings.Builder
		durations []time.Duration
		failed    int
	)

	delay := def.Playlist.ItemDelay
	if delay <= 0 {
		delay = o.cfg.ItemDelay
	}

	for i, item := range items {
		if o.jobs.PlaylistCancelRequested(id) {
			o.finishCancelled(ctx, id, len(items)-i)
			return
		}

		eta := o.estimate(durations, len(items)-i)
		outcome := o.svc.RunChild(ctx, def, id, req.ID, jctx, item.Params, func(childID uuid.UUID) {
			if err := o.jobs.PlaylistItemStarted(ctx, id, childID, item.Name, eta); err != nil {
				o.logger.Warn("Failed to record item start",
					zap.String("playlist_id", id.String()),
					zap.Error(err),
				)
			}
		})

		if outcome.Failed {
			failed++
			metrics.PlaylistItem("failed")
			fmt.Fprintf(&combined, "✗ %s: %s\n", item.Name, outcome.Error)
		} else {
			metrics.PlaylistItem("completed")
			fmt.Fprintf(&combined, "✓ %s\n%s\n", item.Name, outcome.Preview)
		}
		durations = append(durations, outcome.Duration)

		remaining := len(items) - i - 1
		if err := o.jobs.PlaylistItemFinished(ctx, id, outcome.Failed, o.estimate(durations, remaining)); err != nil {
			o.logger.Error("Failed to record item result",
				zap.String("playlist_id", id.String()),
				zap.Error(err),
			)
		}

		if remaining > 0 && delay > 0 {
			time.Sleep(delay)
		}
	}

	status := job.PlaylistCompleted
	errMsg := ""
	if failed > 0 {
		status = job.PlaylistPartialComplete
		errMsg = fmt.Sprintf("%d of %d items failed", failed, len(items))
	}
	if err := o.jobs.FinishPlaylist(ctx, id, status, errMsg, 0); err != nil {
		o.logger.Error("Failed to finish playlist", zap.String("playlist_id", id.String()), zap.Error(err))
	}
	o.logger.Info("Playlist finished",
		zap.String("playlist_id", id.String()),
		zap.String("status", string(status)),
		zap.Int("items", len(items)),
		zap.Int("failed", failed),
		zap.Int("result_bytes", combined.Len()),
	)
}

func (o *Orchestrator) finishCancelled(ctx context.Context, id uuid.UUID, skipped int) {
	if err := o.jobs.FinishPlaylist(ctx, id, job.PlaylistCancelled, "", skipped); err != nil {
		o.logger.Error("Failed to finish cancelled playlist",
			zap.String("playlist_id", id.String()),
			zap.Error(err),
		)
	}
	o.logger.Info("Playlist cancelled",
		zap.String("playlist_id", id.String()),
		zap.Int("skipped", skipped),
	)
}

// estimate derives the ETA from the running average per-item duration,
// seeded with a conservative default before the first item completes.
func (o *Orchestrator) estimate(durations []time.Duration, remaining int) time.Duration {
	if remaining <= 0 {
		return 0
	}
	perItem := o.cfg.ETASeed
	if len(durations) > 0 {
		var total time.Duration
		for _, d := range durations {
			total += d
		}
		perItem = total / time.Duration(len(durations))
	}
	return perItem * time.Duration(remaining)
}

// supervised catches worker panics: the panic is logged and the playlist is
// marked Failed rather than being silently lost.
func (o *Orchestrator) supervised(id uuid.UUID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Playlist worker panicked",
				zap.String("playlist_id", id.String()),
				zap.Any("panic", r),
			)
			_ = o.jobs.FinishPlaylist(context.Background(), id, job.PlaylistFailed, "internal worker failure", 0)
		}
	}()
	fn()
}
