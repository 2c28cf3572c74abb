package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/clock"
	obscontext "github.com/nimbase/controlplane/internal/observability/context"
	"github.com/nimbase/controlplane/internal/observability/logger"
	"github.com/nimbase/controlplane/internal/override/domain"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Projects  projectdomain.Repository
	Quotas    quotadomain.Repository
	Suspender suspensiondomain.Service
	Audit     auditdomain.Service
	Snapshots snapshotdomain.Service
}

type service struct {
	db        *gorm.DB
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	projects  projectdomain.Repository
	quotas    quotadomain.Repository
	suspender suspensiondomain.Service
	audit     auditdomain.Service
	snapshots snapshotdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		projects:  p.Projects,
		quotas:    p.Quotas,
		suspender: p.Suspender,
		audit:     p.Audit,
		snapshots: p.Snapshots,
	}
}

func (s *service) Perform(ctx context.Context, req domain.Request, performedBy string) (*domain.Result, error) {
	if req.ProjectID == 0 {
		return nil, domain.ErrInvalidProject
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" || len(reason) > domain.MaxReasonLength {
		return nil, domain.ErrInvalidReason
	}
	performedBy = strings.TrimSpace(performedBy)
	if performedBy == "" {
		return nil, domain.ErrInvalidAction
	}

	var (
		unsuspend bool
		caps      map[string]int64
	)
	switch action := req.Action.(type) {
	case domain.ActionUnsuspend:
		unsuspend = true
	case domain.ActionIncreaseCaps:
		caps = action.Caps
	case domain.ActionBoth:
		unsuspend = true
		caps = action.Caps
	default:
		return nil, domain.ErrInvalidAction
	}
	// Cap-bearing actions must say which caps to raise.
	if _, plain := req.Action.(domain.ActionUnsuspend); !plain && len(caps) == 0 {
		return nil, domain.ErrMissingCaps
	}
	if err := validateCaps(caps); err != nil {
		return nil, err
	}

	project, err := s.projects.GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status.Terminal() {
		return nil, projectdomain.ErrProjectTerminal
	}

	// Snapshot prior state before any mutation.
	previousCaps, err := s.currentCaps(ctx, s.quotas, req.ProjectID)
	if err != nil {
		return nil, err
	}
	previousState := domain.ProjectState{
		Status: string(project.Status),
		Caps:   previousCaps,
	}

	now := s.clock.Now()
	record := domain.OverrideRecord{
		ID:             s.genID.Generate(),
		ProjectID:      req.ProjectID,
		Action:         domain.ActionName(req.Action),
		Reason:         reason,
		Notes:          strings.TrimSpace(req.Notes),
		PreviousStatus: string(project.Status),
		PreviousCaps:   capsToJSON(previousCaps),
		PerformedBy:    performedBy,
		PerformedAt:    now,
		CreatedAt:      now,
	}
	if ip := obscontext.IPAddressFromContext(ctx); ip != "" {
		record.IPAddress = &ip
	}

	var currentState domain.ProjectState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotas := s.quotas.WithTx(tx)
		projects := s.projects.WithTx(tx)

		if unsuspend {
			if _, err := s.suspender.WithTx(tx).Unsuspend(ctx, req.ProjectID, "manual override: "+reason, performedBy); err != nil {
				return fmt.Errorf("unsuspend: %w", err)
			}
		}

		for capType, value := range caps {
			applied, err := quotas.UpdateHardCap(ctx, req.ProjectID, capType, value, now)
			if err != nil {
				return fmt.Errorf("update cap %s: %w", capType, err)
			}
			if !applied {
				return fmt.Errorf("update cap %s: %w", capType, quotadomain.ErrQuotaNotFound)
			}
		}
		if len(caps) > 0 {
			if err := projects.BumpVersion(ctx, req.ProjectID); err != nil {
				return err
			}
		}

		after, err := projects.GetByID(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		newCaps, err := s.currentCaps(ctx, quotas, req.ProjectID)
		if err != nil {
			return err
		}
		currentState = domain.ProjectState{
			Status: string(after.Status),
			Caps:   newCaps,
		}

		record.NewStatus = string(after.Status)
		record.NewCaps = capsToJSON(newCaps)
		return s.repo.WithTx(tx).Insert(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	// Cap changes bypass the suspension service, so drop the cached
	// snapshot here once the transaction commits.
	if s.snapshots != nil {
		s.snapshots.Invalidate(req.ProjectID)
	}

	logger.FromContext(ctx).Info("manual override applied",
		zap.Int64("project_id", int64(req.ProjectID)),
		zap.String("action", record.Action),
		zap.String("performed_by", performedBy),
		zap.String("previous_status", record.PreviousStatus),
		zap.String("new_status", record.NewStatus),
	)

	targetID := record.ID.String()
	if err := s.audit.AuditLog(ctx, &req.ProjectID, string(auditdomain.ActorTypeOperator), &performedBy, "override.performed", "manual_override", &targetID, map[string]any{
		"action":          record.Action,
		"reason":          reason,
		"previous_status": record.PreviousStatus,
		"new_status":      record.NewStatus,
	}); err != nil {
		logger.FromContext(ctx).Warn("override audit write failed", zap.Error(err))
	}

	return &domain.Result{
		Record:        record,
		PreviousState: previousState,
		CurrentState:  currentState,
	}, nil
}

func validateCaps(caps map[string]int64) error {
	for capType, value := range caps {
		if !quotadomain.IsKnownService(capType) {
			return fmt.Errorf("%w: %s", domain.ErrUnknownCapType, capType)
		}
		if value < domain.MinCapValue || value > domain.MaxCapValue {
			return fmt.Errorf("%w: %s=%d", domain.ErrCapOutOfRange, capType, value)
		}
	}
	return nil
}

func (s *service) currentCaps(ctx context.Context, quotas quotadomain.Repository, projectID snowflake.ID) (map[string]int64, error) {
	rows, err := quotas.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	caps := make(map[string]int64, len(rows))
	for _, quota := range rows {
		caps[quota.Service] = quota.HardCap
	}
	return caps, nil
}

func capsToJSON(caps map[string]int64) datatypes.JSONMap {
	if len(caps) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(caps))
	for capType, value := range caps {
		out[capType] = value
	}
	return out
}
