package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetOpenByProject(ctx context.Context, projectID snowflake.ID) (*Suspension, error)
	ListOpen(ctx context.Context) ([]Suspension, error)
	Insert(ctx context.Context, suspension Suspension) error
	// Resolve stamps resolved_at on the open row and reports whether a row
	// changed. The WHERE resolved_at IS NULL guard makes it idempotent.
	Resolve(ctx context.Context, projectID snowflake.ID, resolvedAt time.Time) (bool, error)
	AppendHistory(ctx context.Context, entry SuspensionHistory) error
	ListHistory(ctx context.Context, projectID snowflake.ID) ([]SuspensionHistory, error)
}
