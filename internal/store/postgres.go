package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"resume-analyzer/internal/models"
)

// ErrNotFound reports an unknown job id, distinct from any job status.
var ErrNotFound = errors.New("job not found")

// Store wraps pgxpool for Postgres persistence of analysis jobs.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Fingerprint string
	Language    string
	CVText      string
	JobText     string
}

const jobColumns = `id, fingerprint, language, cv_text, job_text, status,
	improved_cv, cover_letter, tips, changes_overview, error_message,
	cached, deliveries, created_at, started_at, completed_at, processing_ms`

// CreateJob inserts a pending job row with a fresh id.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.AnalysisJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (id, fingerprint, language, cv_text, job_text, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, p.Fingerprint, p.Language, p.CVText, p.JobText, models.StatusPending, now)
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("insert job: %w", err)
	}

	return models.AnalysisJob{
		ID:          id,
		Fingerprint: p.Fingerprint,
		Language:    p.Language,
		CVText:      p.CVText,
		JobText:     p.JobText,
		Status:      models.StatusPending,
		CreatedAt:   now,
	}, nil
}

// GetJob fetches a job by id. Safe for frequent polling.
func (s *Store) GetJob(ctx context.Context, id string) (models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindRecentByFingerprint returns the newest job sharing the fingerprint
// created within the window. Used by the submit path for deduplication.
func (s *Store) FindRecentByFingerprint(ctx context.Context, fp string, window time.Duration) (models.AnalysisJob, bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM analysis_jobs
		WHERE fingerprint = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`, fp, cutoff)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, false, nil
	}
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("find by fingerprint: %w", err)
	}
	return job, true, nil
}

// MarkProcessing transitions a job to processing, recording started_at on the
// first delivery only so a re-delivered job keeps its original start time.
// The terminal-state guard makes a late double-dispatch a harmless no-op;
// the returned delivery count lets the caller enforce an attempts cap.
func (s *Store) MarkProcessing(ctx context.Context, id string) (int, error) {
	var deliveries int
	err := s.pool.QueryRow(ctx, `
		UPDATE analysis_jobs
		SET status = $2,
		    started_at = COALESCE(started_at, NOW()),
		    deliveries = deliveries + 1
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING deliveries
	`, id, models.StatusProcessing, models.StatusPending, models.StatusProcessing).Scan(&deliveries)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}
	return deliveries, nil
}

// MarkCompleted writes the result and terminal bookkeeping. A job already in
// a terminal state is left untouched: terminal rows are immutable.
func (s *Store) MarkCompleted(ctx context.Context, id string, result models.AnalysisResult, cached bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2,
		    improved_cv = $3,
		    cover_letter = $4,
		    tips = $5,
		    changes_overview = $6,
		    cached = $7,
		    completed_at = NOW(),
		    processing_ms = (EXTRACT(EPOCH FROM (NOW() - COALESCE(started_at, created_at))) * 1000)::BIGINT,
		    error_message = NULL
		WHERE id = $1 AND status NOT IN ($8, $9)
	`, id, models.StatusCompleted,
		result.ImprovedText, result.CoverLetterText, result.TipsText, result.ChangesOverviewText,
		cached, models.StatusCompleted, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with its message, guarded the same
// way as MarkCompleted.
func (s *Store) MarkFailed(ctx context.Context, id string, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2,
		    error_message = $3,
		    completed_at = NOW(),
		    processing_ms = (EXTRACT(EPOCH FROM (NOW() - COALESCE(started_at, created_at))) * 1000)::BIGINT
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, models.StatusFailed, message, models.StatusCompleted, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// FindStalePending returns ids of pending jobs older than the age, meaning
// the submit-time enqueue was lost. The worker sweep re-enqueues them so a
// pending job is never silently dropped.
func (s *Store) FindStalePending(ctx context.Context, age time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().UTC().Add(-age)
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM analysis_jobs
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, models.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find stale pending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeOlderThan removes terminal jobs past the retention window.
func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM analysis_jobs
		WHERE status IN ($1, $2) AND created_at < $3
	`, models.StatusCompleted, models.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (models.AnalysisJob, error) {
	var job models.AnalysisJob
	var improved, letter, tips, overview, errMsg pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz
	var processingMS pgtype.Int8

	err := row.Scan(
		&job.ID, &job.Fingerprint, &job.Language, &job.CVText, &job.JobText, &job.Status,
		&improved, &letter, &tips, &overview, &errMsg,
		&job.Cached, &job.Deliveries, &job.CreatedAt, &startedAt, &completedAt, &processingMS,
	)
	if err != nil {
		return models.AnalysisJob{}, err
	}

	if job.Status == models.StatusCompleted {
		job.Result = &models.AnalysisResult{
			ImprovedText:        improved.String,
			CoverLetterText:     letter.String,
			TipsText:            tips.String,
			ChangesOverviewText: overview.String,
		}
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if processingMS.Valid {
		v := processingMS.Int64
		job.ProcessingMS = &v
	}
	return job, nil
}
