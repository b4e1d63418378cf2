package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
)

// JobsHandler handles job status requests
type JobsHandler struct {
	jobManager *job.Manager
	logger     *zap.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(jobManager *job.Manager, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		jobManager: jobManager,
		logger:     logger,
	}
}

// GetJob returns the status of a job as JSON
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobIDStr := chi.URLParam(r, "id")
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		h.logger.Error("Invalid job ID", zap.String("job_id", jobIDStr), zap.Error(err))
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	j, err := h.jobManager.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get job", zap.String("job_id", jobID.String()), zap.Error(err))
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(j)
}
