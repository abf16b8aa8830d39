package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/propstack/mail-worker/internal/models"
)

// JobStore is the queue administration surface exposed over HTTP.
type JobStore interface {
	GetStats(ctx context.Context) (map[models.JobStatus]int64, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	RetryDeadJob(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) (bool, error)
}

// JobHandler exposes queue introspection and admin operations.
type JobHandler struct {
	jobs JobStore
}

func NewJobHandler(jobs JobStore) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GetStats returns per-status job counts.
func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		log.Printf("Failed to load job stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load job stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListJobs returns jobs in a given status, newest first.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobStatusDead
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	jobs, err := h.jobs.GetJobsByStatus(r.Context(), status, limit)
	if err != nil {
		log.Printf("Failed to list %s jobs: %v", status, err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// RetryJob moves a dead job back to pending for immediate pickup.
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.jobs.RetryDeadJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// CancelJob cancels a job that has not started running yet.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	cancelled, err := h.jobs.CancelJob(r.Context(), jobID)
	if err != nil {
		log.Printf("Failed to cancel job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "job is not pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Warning: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
