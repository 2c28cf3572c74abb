// Package domain contains persistence models for tenant projects.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a project. A project holds exactly one
// status at a time; mutations go through the transition functions only.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusActive      Status = "ACTIVE"
	StatusSuspended   Status = "SUSPENDED"
	StatusArchived    Status = "ARCHIVED"
	StatusDeleted     Status = "DELETED"
	StatusHardDeleted Status = "HARD_DELETED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusHardDeleted }

// Project represents a tenant project on the platform.
type Project struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID            snowflake.ID      `gorm:"not null;index" json:"tenant_id"`
	Name                string            `gorm:"type:text;not null" json:"name"`
	Environment         string            `gorm:"type:text;not null;default:'production'" json:"environment"`
	Status              Status            `gorm:"type:text;not null;index" json:"status"`
	Version             int64             `gorm:"not null;default:1" json:"version"`
	DeletionScheduledAt *time.Time        `json:"deletion_scheduled_at,omitempty"`
	GracePeriodEndsAt   *time.Time        `json:"grace_period_ends_at,omitempty"`
	DeletedAt           *time.Time        `json:"deleted_at,omitempty"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// Provisioning step states.
const (
	StepPending   = "pending"
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// ProvisioningStep tracks one unit of initial tenant provisioning.
type ProvisioningStep struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_provisioning_project_step,priority:1" json:"project_id"`
	Step      string       `gorm:"type:text;not null;uniqueIndex:ux_provisioning_project_step,priority:2" json:"step"`
	Status    string       `gorm:"type:text;not null" json:"status"`
	Detail    string       `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ProvisioningStep) TableName() string { return "provisioning_steps" }

// ProjectService stores the per-service enablement flag for a project.
type ProjectService struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_project_service,priority:1" json:"project_id"`
	Service   string       `gorm:"type:text;not null;uniqueIndex:ux_project_service,priority:2" json:"service"`
	Enabled   bool         `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ProjectService) TableName() string { return "project_services" }

// RateLimits carries the request ceilings distributed in snapshots.
type RateLimits struct {
	ProjectID       snowflake.ID `gorm:"primaryKey" json:"project_id"`
	RequestsPerMin  int64        `gorm:"not null;default:600" json:"requests_per_min"`
	RequestsPerHour int64        `gorm:"not null;default:10000" json:"requests_per_hour"`
	RequestsPerDay  int64        `gorm:"not null;default:100000" json:"requests_per_day"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (RateLimits) TableName() string { return "project_rate_limits" }

// DefaultRateLimits returns the ceilings applied when a project has no
// explicit row. Values mirror the column defaults.
func DefaultRateLimits(projectID snowflake.ID) RateLimits {
	return RateLimits{
		ProjectID:       projectID,
		RequestsPerMin:  600,
		RequestsPerHour: 10000,
		RequestsPerDay:  100000,
	}
}
