// Package api exposes machine-readable job and playlist state to operators.
// It renders the core's notification surface over HTTP; it is not the chat
// presentation layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/api/handlers"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/config"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/notify"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/playlist"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/runner"
)

type Server struct {
	router     *chi.Mux
	jobManager *job.Manager
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server
}

func NewServer(jobManager *job.Manager, hub *notify.Hub, svc *runner.Service, orch *playlist.Orchestrator, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		jobManager: jobManager,
		cfg:        cfg,
		logger:     logger,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes(hub, svc, orch)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes(hub *notify.Hub, svc *runner.Service, orch *playlist.Orchestrator) {
	invokeHandler := handlers.NewInvokeHandler(svc, orch, s.logger)
	jobsHandler := handlers.NewJobsHandler(s.jobManager, s.logger)
	playlistsHandler := handlers.NewPlaylistsHandler(s.jobManager, orch, hub, s.logger)

	s.router.With(middleware.Timeout(10*time.Second)).Get("/health", s.handleHealth)

	// Invocation endpoints return the job id immediately; the worker runs on.
	s.router.With(middleware.Timeout(30*time.Second)).Post("/invoke", invokeHandler.Invoke)
	s.router.With(middleware.Timeout(30*time.Second)).Post("/playlists", invokeHandler.RunPlaylist)

	s.router.With(middleware.Timeout(30*time.Second)).Get("/jobs/{id}", jobsHandler.GetJob)
	s.router.With(middleware.Timeout(30*time.Second)).Get("/playlists/{id}", playlistsHandler.GetPlaylist)
	s.router.With(middleware.Timeout(30*time.Second)).Post("/playlists/{id}/cancel", playlistsHandler.Cancel)

	// SSE progress stream - no timeout (long-lived connection).
	s.router.Get("/playlists/{id}/stream", playlistsHandler.StreamProgress)

	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"service": "gateway-runner",
	})
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Minute,
		WriteTimeout:      10 * time.Minute, // SSE streams
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
