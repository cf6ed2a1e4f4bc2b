package api

import (
	"time"

	"resume-analyzer/internal/models"
)

// StatusResponse is the client-facing status contract. Fields appear only
// for the statuses that define them.
type StatusResponse struct {
	JobID                 string         `json:"jobId"`
	Status                string         `json:"status"`
	ElapsedSeconds        *int64         `json:"elapsedSeconds,omitempty"`
	EstimatedTotalSeconds *int           `json:"estimatedTotalSeconds,omitempty"`
	Result                *ResultPayload `json:"result,omitempty"`
	ProcessingTimeMs      *int64         `json:"processingTimeMs,omitempty"`
	Cached                bool           `json:"cached,omitempty"`
	ErrorMessage          *string        `json:"errorMessage,omitempty"`
}

// ResultPayload is the completed-analysis result shape.
type ResultPayload struct {
	ImprovedText        string                `json:"improvedText"`
	CoverLetterText     string                `json:"coverLetterText"`
	TipsText            string                `json:"tipsText"`
	ChangesOverviewText string                `json:"changesOverviewText"`
	Metadata            models.ResultMetadata `json:"metadata"`
}

// statusView maps an internal job row to the polling contract.
func statusView(job models.AnalysisJob, estimatedSeconds int) StatusResponse {
	resp := StatusResponse{JobID: job.ID, Status: job.Status}

	switch job.Status {
	case models.StatusProcessing:
		if job.StartedAt != nil {
			elapsed := int64(time.Since(*job.StartedAt).Seconds())
			if elapsed < 0 {
				elapsed = 0
			}
			resp.ElapsedSeconds = &elapsed
		}
		resp.EstimatedTotalSeconds = &estimatedSeconds
	case models.StatusCompleted:
		if job.Result != nil {
			resp.Result = &ResultPayload{
				ImprovedText:        job.Result.ImprovedText,
				CoverLetterText:     job.Result.CoverLetterText,
				TipsText:            job.Result.TipsText,
				ChangesOverviewText: job.Result.ChangesOverviewText,
				Metadata: models.ResultMetadata{
					Language:    job.Language,
					CreatedAt:   job.CreatedAt,
					CompletedAt: job.CompletedAt,
				},
			}
		}
		resp.ProcessingTimeMs = job.ProcessingMS
		resp.Cached = job.Cached
	case models.StatusFailed:
		resp.ErrorMessage = job.ErrorMessage
	}
	return resp
}
