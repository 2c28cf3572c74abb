// Package domain contains abuse-pattern detection models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Pattern types emitted by the detectors.
const (
	PatternSQLInjection     = "sql_injection_attempt"
	PatternAuthBruteForce   = "auth_brute_force"
	PatternRapidKeyCreation = "rapid_key_creation"
)

// Severity levels, ordered weakest to strongest.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeveritySevere   Severity = "severe"
)

// rank orders severities for threshold comparison.
func (s Severity) rank() int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool { return s.rank() >= other.rank() }

// Actions taken on a detection.
const (
	ActionSuspension = "suspension"
	ActionWarning    = "warning"
	ActionNone       = "none"
)

// PatternDetection is one detector match for a project.
type PatternDetection struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProjectID       snowflake.ID      `gorm:"not null;index" json:"project_id"`
	PatternType     string            `gorm:"type:text;not null" json:"pattern_type"`
	Severity        Severity          `gorm:"type:text;not null" json:"severity"`
	OccurrenceCount int               `gorm:"not null" json:"occurrence_count"`
	Evidence        datatypes.JSONMap `gorm:"type:jsonb" json:"evidence,omitempty"`
	DetectedAt      time.Time         `gorm:"not null;index" json:"detected_at"`
	ActionTaken     string            `gorm:"type:text;not null" json:"action_taken"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PatternDetection) TableName() string { return "pattern_detections" }

// RequestLog is a data-plane request record scanned by the SQL-injection
// detector. The data plane appends these; the control plane only reads.
type RequestLog struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID snowflake.ID `gorm:"not null;index" json:"project_id"`
	Method    string       `gorm:"type:text;not null" json:"method"`
	Path      string       `gorm:"type:text;not null" json:"path"`
	Query     string       `gorm:"type:text" json:"query,omitempty"`
	Status    int          `gorm:"not null" json:"status"`
	CreatedAt time.Time    `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (RequestLog) TableName() string { return "request_logs" }

// AuthEvent is one authentication attempt scanned by the brute-force
// detector.
type AuthEvent struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID snowflake.ID `gorm:"not null;index" json:"project_id"`
	Event     string       `gorm:"type:text;not null" json:"event"`
	Success   bool         `gorm:"not null" json:"success"`
	IPAddress string       `gorm:"type:text" json:"ip_address,omitempty"`
	CreatedAt time.Time    `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuthEvent) TableName() string { return "auth_events" }
