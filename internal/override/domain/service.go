package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidProject = errors.New("invalid_project")
	ErrInvalidAction  = errors.New("invalid_action")
	ErrInvalidReason  = errors.New("invalid_reason")
	ErrUnknownCapType = errors.New("unknown_cap_type")
	ErrCapOutOfRange  = errors.New("cap_out_of_range")
	ErrMissingCaps    = errors.New("missing_caps")
)

// Request is a manual override to apply.
type Request struct {
	ProjectID snowflake.ID
	Action    Action
	Reason    string
	Notes     string
}

// ProjectState is the before/after view returned to the caller so the
// effect of an override can be diffed.
type ProjectState struct {
	Status string           `json:"status"`
	Caps   map[string]int64 `json:"caps"`
}

// Result is the outcome of an applied override.
type Result struct {
	Record        OverrideRecord `json:"override_record"`
	PreviousState ProjectState   `json:"previous_state"`
	CurrentState  ProjectState   `json:"current_state"`
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, record OverrideRecord) error
	ListByProject(ctx context.Context, projectID snowflake.ID) ([]OverrideRecord, error)
}

type Service interface {
	// Perform validates and applies the override in one transaction. Any
	// failure rolls the whole override back; no record row is written and
	// no cap is mutated.
	Perform(ctx context.Context, req Request, performedBy string) (*Result, error)
}
