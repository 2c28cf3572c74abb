package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidProject = errors.New("invalid_project")
	ErrInvalidService = errors.New("invalid_service")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrQuotaNotFound  = errors.New("quota_not_found")
)

// Warning levels, highest threshold wins.
const (
	WarnLevelNone   = 0
	WarnLevelEighty = 80
	WarnLevelNinety = 90
)

// CheckResult is the outcome of a quota check for one (project, service).
type CheckResult struct {
	ProjectID       snowflake.ID `json:"project_id"`
	Service         string       `json:"service"`
	CurrentUsage    int64        `json:"current_usage"`
	MonthlyLimit    int64        `json:"monthly_limit"`
	HardCap         int64        `json:"hard_cap"`
	UsagePercent    float64      `json:"usage_percent"`
	WarnLevel       int          `json:"warn_level"`
	HardCapExceeded bool         `json:"hard_cap_exceeded"`
}

// ResetSummary is the structured output of the quota reset job.
type ResetSummary struct {
	QuotasChecked int           `json:"quotas_checked"`
	QuotasReset   int           `json:"quotas_reset"`
	Results       []ResetResult `json:"results"`
	ArchivedRows  int64         `json:"archived_rows"`
}

type Service interface {
	RecordUsage(ctx context.Context, projectID snowflake.ID, service string, amount int64) error
	UsageSince(ctx context.Context, projectID snowflake.ID, service string, since time.Time) (int64, error)
	GetQuota(ctx context.Context, projectID snowflake.ID, service string) (*Quota, error)
	ListQuotas(ctx context.Context, projectID snowflake.ID) ([]Quota, error)
	SetQuota(ctx context.Context, quota Quota) error

	// CheckQuota computes usage against limits and applies consequences:
	// warning dispatch (deduped per level per period, fail-open) and
	// hard-cap suspension (fail-closed).
	CheckQuota(ctx context.Context, projectID snowflake.ID, service string) (*CheckResult, error)
	// EnforceHardCaps sweeps every quota of the project.
	EnforceHardCaps(ctx context.Context, projectID snowflake.ID) ([]CheckResult, error)

	// ResetExpired rolls every expired quota period forward one month and
	// archives usage older than the retention window.
	ResetExpired(ctx context.Context, retention time.Duration) (*ResetSummary, error)
}
