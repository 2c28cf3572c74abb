package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ResetResult reports one quota rolled forward by the reset job.
type ResetResult struct {
	ProjectID   snowflake.ID `json:"project_id"`
	Service     string       `json:"service"`
	NextResetAt time.Time    `json:"next_reset_at"`
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, projectID snowflake.ID, service string) (*Quota, error)
	ListByProject(ctx context.Context, projectID snowflake.ID) ([]Quota, error)
	Upsert(ctx context.Context, quota Quota) error
	UpdateHardCap(ctx context.Context, projectID snowflake.ID, service string, hardCap int64, now time.Time) (bool, error)
	// ListExpired claims quotas whose reset_at has passed, locking the rows
	// so concurrent reset sweeps skip each other's work.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Quota, error)
	AdvanceResetAt(ctx context.Context, id snowflake.ID, from, to time.Time) (bool, error)

	InsertUsage(ctx context.Context, record UsageRecord) error
	SumUsageSince(ctx context.Context, projectID snowflake.ID, service string, since time.Time) (int64, error)
	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
