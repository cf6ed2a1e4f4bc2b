package models

import (
	"time"
)

// AnalysisStatus enumerates lifecycle states persisted in Postgres.
// Transitions are strictly pending -> processing -> completed|failed;
// completed and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether a status admits no further transition.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// AnalysisResult holds the four sections extracted from the model output.
type AnalysisResult struct {
	ImprovedText        string `json:"improvedText"`
	CoverLetterText     string `json:"coverLetterText"`
	TipsText            string `json:"tipsText"`
	ChangesOverviewText string `json:"changesOverviewText"`
}

// AnalysisJob represents a submitted analysis persisted in Postgres.
type AnalysisJob struct {
	ID           string          `json:"id"`
	Fingerprint  string          `json:"fingerprint"`
	Language     string          `json:"language"`
	CVText       string          `json:"cvText"`
	JobText      string          `json:"jobText"`
	Status       string          `json:"status"`
	Result       *AnalysisResult `json:"result,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	Cached       bool            `json:"cached"`
	Deliveries   int             `json:"deliveries"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ProcessingMS *int64          `json:"processingTimeMs,omitempty"`
}

// CacheEntry is a materialized analysis result keyed by input fingerprint.
type CacheEntry struct {
	Key            string
	Result         AnalysisResult
	Language       string
	HitCount       int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// ResultMetadata travels with the result in client-facing payloads.
type ResultMetadata struct {
	Language    string     `json:"language"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
