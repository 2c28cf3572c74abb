package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, project Project) error
	GetByID(ctx context.Context, id snowflake.ID) (*Project, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]Project, error)
	// UpdateStatus flips status only when the row still holds from. It bumps
	// the version counter and reports whether a row changed.
	UpdateStatus(ctx context.Context, id snowflake.ID, from, to Status, now time.Time) (bool, error)
	// SetStatus flips status from any live state. Deleted and terminal rows
	// are never touched.
	SetStatus(ctx context.Context, id snowflake.ID, to Status, now time.Time) (bool, error)
	SoftDelete(ctx context.Context, id snowflake.ID, scheduledAt, graceEndsAt time.Time) (bool, error)
	MarkHardDeleted(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
	BumpVersion(ctx context.Context, id snowflake.ID) error

	ListProvisioningSteps(ctx context.Context, projectID snowflake.ID) ([]ProvisioningStep, error)
	UpsertProvisioningStep(ctx context.Context, step ProvisioningStep) error

	ListServices(ctx context.Context, projectID snowflake.ID) ([]ProjectService, error)
	GetRateLimits(ctx context.Context, projectID snowflake.ID) (*RateLimits, error)

	// DeleteDependentResources removes data-plane resources owned by the
	// project. Each table is cleared independently; the per-table counts are
	// returned even when a later table fails.
	DeleteDependentResources(ctx context.Context, projectID snowflake.ID) (map[string]int64, error)
	// DropTenantSchema drops the tenant's isolated schema. Best-effort; the
	// schema may already be absent.
	DropTenantSchema(ctx context.Context, tenantID snowflake.ID) error
}
