// Package domain contains the suspension state models. A project is either
// clear (no open row) or suspended (exactly one open row).
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Suspension is one suspension episode. The open row is the one with
// ResolvedAt null; at most one exists per project at any time.
type Suspension struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProjectID   snowflake.ID      `gorm:"not null;index" json:"project_id"`
	CapExceeded string            `gorm:"type:text;not null" json:"cap_exceeded"`
	Reason      string            `gorm:"type:text;not null" json:"reason"`
	Evidence    datatypes.JSONMap `gorm:"type:jsonb" json:"evidence,omitempty"`
	SuspendedAt time.Time         `gorm:"not null" json:"suspended_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Suspension) TableName() string { return "suspensions" }

// History actions.
const (
	ActionSuspended   = "suspended"
	ActionUnsuspended = "unsuspended"
)

// SuspensionHistory is the append-only audit of suspend/unsuspend actions.
// Rows are immutable once written.
type SuspensionHistory struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProjectID    snowflake.ID      `gorm:"not null;index" json:"project_id"`
	SuspensionID snowflake.ID      `gorm:"not null;index" json:"suspension_id"`
	Action       string            `gorm:"type:text;not null" json:"action"`
	Reason       string            `gorm:"type:text;not null" json:"reason"`
	Actor        string            `gorm:"type:text;not null;default:'system'" json:"actor"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SuspensionHistory) TableName() string { return "suspension_history" }
