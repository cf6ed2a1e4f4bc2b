package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"resume-analyzer/internal/config"
	"resume-analyzer/internal/fingerprint"
	"resume-analyzer/internal/models"
	"resume-analyzer/internal/store"
	"resume-analyzer/internal/telemetry"
)

// JobStore is the subset of the Postgres store the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.AnalysisJob, error)
	GetJob(ctx context.Context, id string) (models.AnalysisJob, error)
	FindRecentByFingerprint(ctx context.Context, fp string, window time.Duration) (models.AnalysisJob, bool, error)
}

// Queue hands a created job off for background processing.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Limiter throttles submissions per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the submission and polling API.
type Server struct {
	cfg     config.Config
	store   JobStore
	queue   Queue
	limiter Limiter
	logger  zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st JobStore, q Queue, limiter Limiter, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/api/analyses", s.handleSubmit)
	r.Get("/api/analyses/{id}", s.handleStatus)
	return r
}

type submitRequest struct {
	CVText             string `json:"cvText"`
	JobDescriptionText string `json:"jobDescriptionText"`
	Language           string `json:"language"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	cvText := strings.TrimSpace(req.CVText)
	jobText := strings.TrimSpace(req.JobDescriptionText)
	if len(cvText) < s.cfg.MinCVLength {
		writeError(w, http.StatusBadRequest, "cvText is required and too short")
		return
	}
	if len(jobText) < s.cfg.MinJobTextLength {
		writeError(w, http.StatusBadRequest, "jobDescriptionText is required and too short")
		return
	}
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = "en"
	}
	if len(language) != 2 {
		writeError(w, http.StatusBadRequest, "language must be a two-letter code")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			// The limiter shares the pipeline's fail-open stance: a broken
			// Redis must not block submissions.
			s.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	fp := fingerprint.Fingerprint(cvText, jobText, language)

	// Dedup: an identical submission inside the recency window reuses the
	// existing job instead of spending another model call.
	if recent, found, err := s.store.FindRecentByFingerprint(r.Context(), fp, s.cfg.DedupWindow); err != nil {
		s.logger.Error().Err(err).Msg("dedup lookup failed")
	} else if found {
		switch recent.Status {
		case models.StatusCompleted:
			telemetry.DedupHits.Inc()
			view := statusView(recent, s.cfg.EstimatedSeconds)
			view.Cached = true
			writeJSON(w, http.StatusOK, view)
			return
		case models.StatusPending, models.StatusProcessing:
			telemetry.DedupHits.Inc()
			writeJSON(w, http.StatusAccepted, statusView(recent, s.cfg.EstimatedSeconds))
			return
		}
		// A recent failed job does not block a retry.
	}

	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		Fingerprint: fp,
		Language:    language,
		CVText:      cvText,
		JobText:     jobText,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create analysis")
		return
	}
	telemetry.SubmissionsTotal.Inc()

	// The handoff must not block or fail the response. A lost enqueue
	// leaves the row pending; the worker sweep re-enqueues stale pending
	// jobs, so we alarm loudly and still hand the client its id.
	if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed, job pending until sweep")
	}

	writeJSON(w, http.StatusAccepted, statusView(job, s.cfg.EstimatedSeconds))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		// A known id never surfaces a store hiccup as a 500 status payload
		// ambiguity; an unknown read error is the one case left.
		s.logger.Error().Err(err).Str("job_id", id).Msg("status read failed")
		writeError(w, http.StatusInternalServerError, "failed to read analysis")
		return
	}
	writeJSON(w, http.StatusOK, statusView(job, s.cfg.EstimatedSeconds))
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
