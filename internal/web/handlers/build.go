package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/matcher"
	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/session"
)

// BuildHandler handles album build endpoints.
type BuildHandler struct {
	builder    *pipeline.Builder
	store      session.Store
	jobManager *JobManager
	logger     *zap.Logger
}

// NewBuildHandler creates a new build handler.
func NewBuildHandler(b *pipeline.Builder, store session.Store, jm *JobManager, logger *zap.Logger) *BuildHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuildHandler{
		builder:    b,
		store:      store,
		jobManager: jm,
		logger:     logger,
	}
}

// Start kicks off an async album build for a session. The step check runs
// synchronously so out-of-order requests fail immediately instead of
// producing a failed job.
func (h *BuildHandler) Start(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	if err := s.RequireStep(session.StepBuild); err != nil {
		respondSessionError(w, err)
		return
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, s.ID)

	go h.runBuildJob(job, s)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     jobID,
		"session_id": s.ID,
		"status":     string(JobStatusPending),
	})
}

// Status returns the status of a build job.
func (h *BuildHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.snapshot())
}

// SessionStatus returns the latest build job for a session, so clients can
// poll by session ID without tracking job IDs.
func (h *BuildHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	job := h.jobManager.FindBySession(s.ID)
	if job == nil {
		respondError(w, http.StatusNotFound, "no build job for this session")
		return
	}

	respondJSON(w, http.StatusOK, job.snapshot())
}

// Events streams build job events via SSE.
func (h *BuildHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*BuildJob).snapshot()
		},
	)
}

// Cancel cancels a build job.
func (h *BuildHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runBuildJob runs the album build in the background.
func (h *BuildHandler) runBuildJob(job *BuildJob, s *session.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	total := len(s.EventPhotos())

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.TotalPhotos = total
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Album build started"})

	report, err := h.builder.Build(ctx, s, func(p matcher.Progress) {
		job.mu.Lock()
		job.ProcessedPhotos = p.Current
		if p.Total > 0 {
			job.Progress = int(float64(p.Current) / float64(p.Total) * 100)
		}
		job.mu.Unlock()
		job.SendEvent(JobEvent{
			Type: "progress",
			Data: map[string]any{
				"current": p.Current,
				"total":   p.Total,
				"photo":   p.Path,
			},
		})
	})

	if err != nil {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		h.failJob(job, err.Error())
		return
	}

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.ProcessedPhotos = report.ProcessedPhotos
	job.Progress = 100
	job.Result = report
	job.mu.Unlock()

	job.SendEvent(JobEvent{Type: "completed", Data: report})
}

func (h *BuildHandler) failJob(job *BuildJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}
