package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrProjectNotFound   = errors.New("project_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrProjectTerminal   = errors.New("project_terminal")
	ErrGraceExpired      = errors.New("grace_period_expired")
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Project, error)
	// SoftDelete schedules the project for hard deletion after the grace
	// period. Idempotent for already soft-deleted projects.
	SoftDelete(ctx context.Context, id snowflake.ID, gracePeriod time.Duration) (*Project, error)
	// Restore cancels a pending deletion while the grace period is still open.
	Restore(ctx context.Context, id snowflake.ID) (*Project, error)
}
