package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidProject = errors.New("invalid_project")
	ErrInvalidReason  = errors.New("invalid_reason")
)

// Cause describes why a project is being suspended. CapExceeded carries the
// service name for hard-cap breaches or the pattern type for abuse matches.
type Cause struct {
	CapExceeded string
	Reason      string
	Actor       string
	Evidence    map[string]any
}

type Service interface {
	// WithTx binds the service to an existing transaction so callers can
	// compose suspend/unsuspend with their own mutations atomically.
	WithTx(tx *gorm.DB) Service
	// Suspend opens a suspension for the project. Idempotent: when an open
	// row already exists it is returned unchanged.
	Suspend(ctx context.Context, projectID snowflake.ID, cause Cause) (*Suspension, error)
	// Unsuspend resolves the open suspension. Idempotent: a clear project is
	// a no-op returning nil.
	Unsuspend(ctx context.Context, projectID snowflake.ID, reason, actor string) (*Suspension, error)
	GetOpen(ctx context.Context, projectID snowflake.ID) (*Suspension, error)
	ListOpen(ctx context.Context) ([]Suspension, error)
	History(ctx context.Context, projectID snowflake.ID) ([]SuspensionHistory, error)
}
