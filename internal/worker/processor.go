package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"resume-analyzer/internal/config"
	"resume-analyzer/internal/extract"
	"resume-analyzer/internal/genai"
	"resume-analyzer/internal/models"
	"resume-analyzer/internal/queue"
	"resume-analyzer/internal/telemetry"
)

// JobStore is the subset of the Postgres store the worker needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.AnalysisJob, error)
	MarkProcessing(ctx context.Context, id string) (int, error)
	MarkCompleted(ctx context.Context, id string, result models.AnalysisResult, cached bool) error
	MarkFailed(ctx context.Context, id string, message string) error
	FindStalePending(ctx context.Context, age time.Duration, limit int) ([]string, error)
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// ResultCache is the fingerprint cache consulted before any model call.
type ResultCache interface {
	Lookup(ctx context.Context, fingerprint string) (models.CacheEntry, bool)
	Store(ctx context.Context, fingerprint string, result models.AnalysisResult, language string) bool
}

// TextModel is the opaque upstream completion service.
type TextModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Archiver persists a best-effort artifact of completed results.
type Archiver interface {
	Put(ctx context.Context, jobID string, result models.AnalysisResult, meta models.ResultMetadata)
}

// Processor drives the worker execution loop: sweep, dequeue, process.
type Processor struct {
	cfg       config.Config
	queue     *queue.RedisQueue
	store     JobStore
	cache     ResultCache
	model     TextModel
	archiver  Archiver
	extractor *extract.Extractor
	logger    zerolog.Logger
	lastPurge time.Time
}

// NewProcessor wires the worker's collaborators.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, st JobStore, c ResultCache, m TextModel, a Archiver, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		queue:     q,
		store:     st,
		cache:     c,
		model:     m,
		archiver:  a,
		extractor: extract.New(cfg.MinSectionLength),
		logger:    logger,
	}
}

// Run executes the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !p.tick(ctx) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
		}
	}
}

// tick runs one sweep-and-dequeue iteration. It reports whether a job was
// processed, so Run can idle when the queue is empty.
func (p *Processor) tick(ctx context.Context) bool {
	p.sweep(ctx)

	jobID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("dequeue failed")
		return false
	}
	if jobID == "" {
		return false
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()
	p.handle(ctx, jobID)
	return true
}

// sweep reclaims expired leases, re-enqueues stale pending jobs whose
// submit-time handoff was lost, and occasionally purges old terminal rows.
func (p *Processor) sweep(ctx context.Context) {
	now := time.Now()

	if reclaimed, err := p.queue.RequeueExpired(ctx, now, 100); err != nil {
		p.logger.Warn().Err(err).Msg("lease sweep failed")
	} else {
		for _, id := range reclaimed {
			p.logger.Warn().Str("job_id", id).Msg("lease expired, job re-enqueued")
		}
	}

	if stale, err := p.store.FindStalePending(ctx, p.cfg.VisibilityTimeout, 100); err != nil {
		p.logger.Warn().Err(err).Msg("stale pending sweep failed")
	} else {
		for _, id := range stale {
			if err := p.queue.Enqueue(ctx, id); err != nil {
				p.logger.Error().Err(err).Str("job_id", id).Msg("re-enqueue of stale pending job failed")
				continue
			}
			p.logger.Warn().Str("job_id", id).Msg("stale pending job re-enqueued")
		}
	}

	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	if p.cfg.JobRetention > 0 && now.Sub(p.lastPurge) > time.Hour {
		p.lastPurge = now
		if n, err := p.store.PurgeOlderThan(ctx, p.cfg.JobRetention); err != nil {
			p.logger.Warn().Err(err).Msg("purge failed")
		} else if n > 0 {
			p.logger.Info().Int64("purged", n).Msg("purged old terminal jobs")
		}
	}
}

// handle runs one leased job to a terminal state and acks the lease.
func (p *Processor) handle(ctx context.Context, jobID string) {
	defer func() {
		if err := p.queue.Ack(ctx, jobID); err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Msg("ack failed")
		}
	}()

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("leased job not readable")
		return
	}
	if models.IsTerminal(job.Status) {
		// Double dispatch after a dedup race or lease reclaim; the first
		// writer already finished.
		return
	}

	deliveries, err := p.store.MarkProcessing(ctx, jobID)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("mark processing failed")
		return
	}
	if deliveries > p.cfg.MaxDeliveries {
		msg := fmt.Sprintf("processing attempts exhausted after %d deliveries", deliveries)
		if err := p.store.MarkFailed(ctx, jobID, msg); err != nil {
			p.logger.Error().Err(err).Str("job_id", jobID).Msg("mark failed errored")
		}
		telemetry.AnalysesFailed.Inc()
		p.logger.Error().Str("job_id", jobID).Int("deliveries", deliveries).Msg("job failed permanently")
		return
	}

	if err := p.process(ctx, job); err != nil {
		if markErr := p.store.MarkFailed(ctx, jobID, err.Error()); markErr != nil {
			p.logger.Error().Err(markErr).Str("job_id", jobID).Msg("mark failed errored")
		}
		telemetry.AnalysesFailed.Inc()
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("analysis failed")
		return
	}
	telemetry.AnalysesCompleted.Inc()
}

// process produces the job's result, from cache when possible.
func (p *Processor) process(ctx context.Context, job models.AnalysisJob) error {
	if entry, ok := p.cache.Lookup(ctx, job.Fingerprint); ok {
		telemetry.CacheHits.Inc()
		if err := p.store.MarkCompleted(ctx, job.ID, entry.Result, true); err != nil {
			return fmt.Errorf("persist cached result: %w", err)
		}
		p.logger.Info().Str("job_id", job.ID).Int64("hit_count", entry.HitCount).Msg("served from cache")
		return nil
	}
	telemetry.CacheMisses.Inc()

	// The model call routinely takes tens of seconds; push the lease
	// deadline past it so the sweep does not reclaim a live job.
	if err := p.queue.ExtendLease(ctx, job.ID, p.cfg.VisibilityTimeout); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("lease extension failed")
	}

	prompt := genai.BuildAnalysisPrompt(job.CVText, job.JobText, job.Language)
	start := time.Now()
	text, err := p.model.GenerateText(ctx, prompt)
	telemetry.ModelLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}

	result := p.extractResult(job, text)

	if err := p.store.MarkCompleted(ctx, job.ID, result, false); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}

	// Cache and archive are best-effort; the job is already completed.
	p.cache.Store(ctx, job.Fingerprint, result, job.Language)
	if p.archiver != nil {
		now := time.Now().UTC()
		p.archiver.Put(ctx, job.ID, result, models.ResultMetadata{
			Language:    job.Language,
			CreatedAt:   job.CreatedAt,
			CompletedAt: &now,
		})
	}
	return nil
}

// extractResult parses the model output into the four sections, absorbing
// per-section failures into fallback text. A job never fails on extraction.
func (p *Processor) extractResult(job models.AnalysisJob, text string) models.AnalysisResult {
	fallbacks := genai.FallbackTexts()
	sections := p.extractor.Extract(text, extract.SpecsFor(text, fallbacks))

	var result models.AnalysisResult
	for _, s := range sections {
		if !s.Success {
			telemetry.ExtractionFallbacks.Inc()
			p.logger.Warn().Str("job_id", job.ID).Str("section", s.Name).Msg("section extraction fell back")
		}
		switch s.Name {
		case extract.SectionImprovedCV:
			result.ImprovedText = s.Content
		case extract.SectionCoverLetter:
			result.CoverLetterText = s.Content
		case extract.SectionTips:
			result.TipsText = s.Content
		case extract.SectionChangesOverview:
			result.ChangesOverviewText = s.Content
		}
	}
	return result
}
