package api

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/id"
	"github.com/dunamismax/pixelopt/internal/queue"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/go-chi/chi/v5"
)

type jobResponse struct {
	domain.Job
	DownloadURL string `json:"download_url,omitempty"`
}

func newJobResponse(job domain.Job) jobResponse {
	resp := jobResponse{Job: job}
	if job.Status == domain.JobStatusSucceeded && job.OutputName != "" {
		resp.DownloadURL = "/download/" + job.OutputName
	}
	return resp
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async jobs are not enabled"})
		return
	}

	req := domain.CreateJobRequest{Options: domain.DefaultOptions()}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.deps.Presets.Has(req.Options.Preset) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown preset: " + req.Options.Preset})
		return
	}

	ctx := r.Context()
	source, err := s.deps.Files.ResolveOriginal(ctx, strings.TrimSpace(req.SafeFilename))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "original file not found, upload it first"})
			return
		}
		s.writeError(w, r, "failed to look up original", err)
		return
	}

	now := s.now().UTC()
	job := domain.Job{
		ID:           id.New(),
		Status:       domain.JobStatusCreated,
		SafeFilename: source,
		WebhookURL:   strings.TrimSpace(req.WebhookURL),
		ClientID:     clientIP(r),
		Options:      req.Options,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		s.writeError(w, r, "failed to create job", err)
		return
	}

	info, err := s.deps.Queue.EnqueueOptimize(ctx, queue.PayloadForJob(job))
	if err != nil {
		if _, uerr := s.deps.Jobs.Update(ctx, job.ID, func(j *domain.Job) {
			j.Status = domain.JobStatusFailed
			j.Error = "enqueue failed"
		}); uerr != nil {
			s.logger.Warn().Err(uerr).Str("job_id", job.ID).Msg("job update failed")
		}
		s.writeError(w, r, "failed to enqueue job", err)
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()

	updated, err := s.deps.Jobs.Update(ctx, job.ID, func(j *domain.Job) {
		if j.Status == domain.JobStatusCreated {
			j.Status = domain.JobStatusQueued
		}
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job update failed")
	} else {
		job = updated
	}

	s.logger.Info().Str("job_id", job.ID).Str("file", source).Str("task_id", info.ID).Msg("job queued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"queue":      info.Queue,
		"task_id":    info.ID,
		"status_url": "/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, ok, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, "failed to load job", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// clientIP is the rate-limit and accounting subject. RealIP has already applied proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
