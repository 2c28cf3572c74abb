// Package domain contains the manual override models. An override is the
// administrative escalation path that can unsuspend a project and/or raise
// its hard caps atomically.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Cap bounds accepted by an override.
const (
	MinCapValue = 0
	MaxCapValue = 1_000_000
)

// MaxReasonLength bounds the free-form reason field.
const MaxReasonLength = 1000

// Action is the override variant. The three shapes are distinct types
// matched exhaustively; there is no string dispatch.
type Action interface {
	kind() string
}

// ActionUnsuspend clears the open suspension.
type ActionUnsuspend struct{}

// ActionIncreaseCaps raises hard caps per service.
type ActionIncreaseCaps struct {
	Caps map[string]int64
}

// ActionBoth unsuspends and raises caps in the same transaction.
type ActionBoth struct {
	Caps map[string]int64
}

func (ActionUnsuspend) kind() string    { return "unsuspend" }
func (ActionIncreaseCaps) kind() string { return "increase_caps" }
func (ActionBoth) kind() string         { return "both" }

// ActionName returns the stable name persisted on the override record.
func ActionName(action Action) string {
	if action == nil {
		return ""
	}
	return action.kind()
}

// OverrideRecord captures one applied override with its before/after state.
// Only applied actions produce a row; rejected requests leave no trace here.
type OverrideRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProjectID      snowflake.ID      `gorm:"not null;index" json:"project_id"`
	Action         string            `gorm:"type:text;not null" json:"action"`
	Reason         string            `gorm:"type:text;not null" json:"reason"`
	Notes          string            `gorm:"type:text" json:"notes,omitempty"`
	PreviousStatus string            `gorm:"type:text;not null" json:"previous_status"`
	NewStatus      string            `gorm:"type:text;not null" json:"new_status"`
	PreviousCaps   datatypes.JSONMap `gorm:"type:jsonb" json:"previous_caps,omitempty"`
	NewCaps        datatypes.JSONMap `gorm:"type:jsonb" json:"new_caps,omitempty"`
	PerformedBy    string            `gorm:"type:text;not null" json:"performed_by"`
	PerformedAt    time.Time         `gorm:"not null" json:"performed_at"`
	IPAddress      *string           `gorm:"type:text" json:"ip_address,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OverrideRecord) TableName() string { return "manual_overrides" }
