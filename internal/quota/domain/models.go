// Package domain contains quota and usage ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Services with metered quotas. Caps in manual overrides are validated
// against this set.
const (
	ServiceDBQueries           = "db_queries"
	ServiceAuthRequests        = "auth_requests"
	ServiceRealtimeMessages    = "realtime_messages"
	ServiceStorageBytes        = "storage_bytes"
	ServiceFunctionInvocations = "function_invocations"
)

// KnownServices lists every metered service.
var KnownServices = []string{
	ServiceDBQueries,
	ServiceAuthRequests,
	ServiceRealtimeMessages,
	ServiceStorageBytes,
	ServiceFunctionInvocations,
}

// IsKnownService reports whether the service name is metered.
func IsKnownService(service string) bool {
	for _, known := range KnownServices {
		if known == service {
			return true
		}
	}
	return false
}

// Quota holds the per-service limits for a project. ResetAt is the sole
// timer driving both warnings and auto-reactivation; it stays strictly in
// the future until the reset job advances it.
type Quota struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_quotas_project_service,priority:1" json:"project_id"`
	Service      string       `gorm:"type:text;not null;uniqueIndex:ux_quotas_project_service,priority:2" json:"service"`
	MonthlyLimit int64        `gorm:"not null;default:0" json:"monthly_limit"`
	HardCap      int64        `gorm:"not null;default:0" json:"hard_cap"`
	ResetAt      time.Time    `gorm:"not null;index" json:"reset_at"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Quota) TableName() string { return "quotas" }

// UsageRecord is one append-only unit of metered activity. Rows are never
// updated; usage is summed over [period start, now).
type UsageRecord struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID  snowflake.ID `gorm:"not null;index:idx_usage_project_service,priority:1" json:"project_id"`
	Service    string       `gorm:"type:text;not null;index:idx_usage_project_service,priority:2" json:"service"`
	Amount     int64        `gorm:"not null" json:"amount"`
	RecordedAt time.Time    `gorm:"not null;index" json:"recorded_at"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
