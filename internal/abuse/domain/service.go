package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ProjectHit is a per-project occurrence count from one detector scan.
type ProjectHit struct {
	ProjectID snowflake.ID
	Count     int
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, detection PatternDetection) error
	ListByProject(ctx context.Context, projectID snowflake.ID, since time.Time) ([]PatternDetection, error)

	// Scan queries, each grouped by project over [since, now).
	CountSuspiciousRequests(ctx context.Context, since time.Time) ([]ProjectHit, error)
	CountFailedAuth(ctx context.Context, since time.Time) ([]ProjectHit, error)
	CountKeyCreations(ctx context.Context, since time.Time) ([]ProjectHit, error)
}

// DetectionSummary is the structured result of one detection sweep.
type DetectionSummary struct {
	DetectorsRun int      `json:"detectors_run"`
	Detections   int      `json:"detections"`
	Suspensions  int      `json:"suspensions"`
	Warnings     int      `json:"warnings"`
	Errors       []string `json:"errors,omitempty"`
}

type Service interface {
	// RunDetection executes every enabled detector and applies the resolved
	// actions. Failures are accumulated, never thrown past the summary.
	RunDetection(ctx context.Context) (*DetectionSummary, error)
}
