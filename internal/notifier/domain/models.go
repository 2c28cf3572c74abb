// Package domain contains the notification outbox models.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification kinds emitted by the control plane.
const (
	KindQuotaWarning = "quota_warning"
	KindSuspension   = "suspension"
	KindReactivation = "reactivation"
	KindGraceWarning = "grace_warning"
	KindAbuseWarning = "abuse_warning"
	KindHardDelete   = "hard_delete"
	KindManualAction = "manual_override"
)

// Notification is the persisted record of a dispatched message. Quota warning
// dedupe queries these rows, so insertion happens before delivery.
type Notification struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProjectID snowflake.ID      `gorm:"not null;index:idx_notifications_project_kind,priority:1" json:"project_id"`
	Kind      string            `gorm:"type:text;not null;index:idx_notifications_project_kind,priority:2" json:"kind"`
	Service   string            `gorm:"type:text" json:"service,omitempty"`
	Level     int               `gorm:"not null;default:0" json:"level,omitempty"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

// Message is one outbound notification awaiting dispatch.
type Message struct {
	ProjectID snowflake.ID
	Kind      string
	Service   string
	Level     int
	Payload   map[string]any
}

// Publisher enqueues messages for asynchronous dispatch. Enqueue never
// blocks; a full queue drops the message with a log line.
type Publisher interface {
	Enqueue(ctx context.Context, msg Message)
	// HasNotificationSince reports whether a notification of the exact
	// (project, kind, service, level) tuple exists at or after since.
	HasNotificationSince(ctx context.Context, projectID snowflake.ID, kind, service string, level int, since time.Time) (bool, error)
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, notification Notification) error
	ExistsSince(ctx context.Context, projectID snowflake.ID, kind, service string, level int, since time.Time) (bool, error)
}
