package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/api"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/archive"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/executor"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/logging"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/notify"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/playlist"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/runner"
)

func main() {
	bootLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}

	configLoader := config.NewConfigLoader(bootLogger)
	cfg, err := configLoader.Load("config.yaml")
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := logging.Build(cfg.Logging)
	if err != nil {
		bootLogger.Fatal("Failed to build logger", zap.Error(err))
	}
	defer func(logger *zap.Logger) {
		if err := logger.Sync(); err != nil {
			log.Printf("error syncing logger: %v", err)
		}
	}(logger)

	ctx := context.Background()

	store, err := job.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to init job store", zap.Error(err))
	}
	defer store.Close()

	hub := notify.NewHub(logger)
	jobManager := job.NewManager(store, hub, logger)

	recoverInterrupted(ctx, jobManager, logger)

	loader := plugin.NewLoader(logger)
	defs, loadErrs, err := loader.Load(cfg.Runner.PluginPath)
	if err != nil {
		logger.Fatal("Failed to load plugin declarations", zap.Error(err))
	}
	for _, le := range loadErrs {
		logger.Warn("Skipping invalid plugin declaration",
			zap.String("file", le.File),
			zap.Error(le.Err),
		)
	}
	logger.Info("Plugins loaded", zap.Int("count", len(defs)))

	exec := executor.New(cfg.Runner.AllowedCommands, logger)

	archiver, err := archive.NewArchiver(cfg.Archive, logger)
	if err != nil {
		logger.Fatal("Failed to init output archive", zap.Error(err))
	}

	svc := runner.NewService(defs, exec, jobManager, archiver, logger)
	orch := playlist.NewOrchestrator(jobManager, svc, cfg.Playlist, logger)

	scheduler := startCleanup(cfg, store, jobManager, logger)
	defer scheduler.Stop()

	server := api.NewServer(jobManager, hub, svc, orch, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

// recoverInterrupted marks every job left non-terminal by a previous run as
// failed. Workers do not survive a restart, so there is nothing to resume.
func recoverInterrupted(ctx context.Context, jobManager *job.Manager, logger *zap.Logger) {
	jobs, err := jobManager.Recover(ctx)
	if err != nil {
		logger.Error("Job recovery scan failed", zap.Error(err))
	}
	for _, j := range jobs {
		if err := jobManager.Fail(ctx, j.ID, "interrupted by restart"); err != nil {
			logger.Error("Failed to mark recovered job",
				zap.String("job_id", j.ID.String()),
				zap.Error(err),
			)
		}
	}

	playlists, err := jobManager.RecoverPlaylists(ctx)
	if err != nil {
		logger.Error("Playlist recovery scan failed", zap.Error(err))
	}
	for _, p := range playlists {
		if err := jobManager.FinishPlaylist(ctx, p.ID, job.PlaylistFailed, "interrupted by restart", p.Total-p.Completed-p.Failed); err != nil {
			logger.Error("Failed to mark recovered playlist",
				zap.String("playlist_id", p.ID.String()),
				zap.Error(err),
			)
		}
	}

	if len(jobs) > 0 || len(playlists) > 0 {
		logger.Info("Marked interrupted work as failed",
			zap.Int("jobs", len(jobs)),
			zap.Int("playlists", len(playlists)),
		)
	}
}

// startCleanup runs the periodic eviction of terminal in-memory records and
// the much slower trim of ancient rows from the store.
func startCleanup(cfg *config.Config, store job.Store, jobManager *job.Manager, logger *zap.Logger) *cron.Cron {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Runner.CleanupSchedule, func() {
		evicted := jobManager.Cleanup(cfg.Runner.CleanupMaxAge)
		if evicted > 0 {
			logger.Info("Evicted terminal records", zap.Int("count", evicted))
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		deleted, err := store.DeleteJobsOlderThan(ctx, cfg.Runner.RetentionMaxAge)
		if err != nil {
			logger.Error("Retention trim failed", zap.Error(err))
		} else if deleted > 0 {
			logger.Info("Trimmed stored records", zap.Int64("count", deleted))
		}
	})
	if err != nil {
		logger.Fatal("Invalid cleanup schedule",
			zap.String("schedule", cfg.Runner.CleanupSchedule),
			zap.Error(err),
		)
	}
	scheduler.Start()
	return scheduler
}
