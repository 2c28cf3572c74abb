package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/clock"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	"github.com/nimbase/controlplane/internal/observability/logger"
	"github.com/nimbase/controlplane/internal/observability/metrics"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	"github.com/nimbase/controlplane/internal/suspension/domain"
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
	Audit     auditdomain.Service
	Publisher notifierdomain.Publisher
	Snapshots snapshotdomain.Service
}

type service struct {
	db        *gorm.DB
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	projects  projectdomain.Repository
	audit     auditdomain.Service
	publisher notifierdomain.Publisher
	snapshots snapshotdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		projects:  p.Projects,
		audit:     p.Audit,
		publisher: p.Publisher,
		snapshots: p.Snapshots,
	}
}

func (s *service) WithTx(tx *gorm.DB) domain.Service {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *service) Suspend(ctx context.Context, projectID snowflake.ID, cause domain.Cause) (*domain.Suspension, error) {
	if projectID == 0 {
		return nil, domain.ErrInvalidProject
	}
	reason := strings.TrimSpace(cause.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	capExceeded := strings.TrimSpace(cause.CapExceeded)
	if capExceeded == "" {
		capExceeded = "unspecified"
	}
	actor := strings.TrimSpace(cause.Actor)
	if actor == "" {
		actor = "system"
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status.Terminal() {
		return nil, projectdomain.ErrProjectTerminal
	}

	now := s.clock.Now()
	var (
		suspension *domain.Suspension
		existing   bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		projects := s.projects.WithTx(tx)

		// Existence check enforces the single-open-row invariant; the
		// partial unique index backs it up under concurrency.
		open, err := repo.GetOpenByProject(ctx, projectID)
		if err != nil {
			return err
		}
		if open != nil {
			suspension = open
			existing = true
			return nil
		}

		row := domain.Suspension{
			ID:          s.genID.Generate(),
			ProjectID:   projectID,
			CapExceeded: capExceeded,
			Reason:      reason,
			Evidence:    datatypes.JSONMap(cause.Evidence),
			SuspendedAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Insert(ctx, row); err != nil {
			return err
		}
		if err := repo.AppendHistory(ctx, domain.SuspensionHistory{
			ID:           s.genID.Generate(),
			ProjectID:    projectID,
			SuspensionID: row.ID,
			Action:       domain.ActionSuspended,
			Reason:       reason,
			Actor:        actor,
			Metadata:     datatypes.JSONMap{"cap_exceeded": capExceeded},
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if _, err := projects.SetStatus(ctx, projectID, projectdomain.StatusSuspended, now); err != nil {
			return err
		}
		suspension = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing {
		return suspension, nil
	}

	// The data plane must not keep serving the ACTIVE snapshot for the
	// remainder of its TTL.
	if s.snapshots != nil {
		s.snapshots.Invalidate(projectID)
	}
	metrics.Reconciler().IncProjectTransition(string(project.Status), string(projectdomain.StatusSuspended))
	logger.FromContext(ctx).Info("project suspended",
		zap.Int64("project_id", int64(projectID)),
		zap.String("project_name", project.Name),
		zap.String("cap_exceeded", capExceeded),
		zap.String("reason", reason),
	)

	s.publisher.Enqueue(ctx, notifierdomain.Message{
		ProjectID: projectID,
		Kind:      notifierdomain.KindSuspension,
		Service:   capExceeded,
		Payload: map[string]any{
			"reason":   reason,
			"evidence": cause.Evidence,
		},
	})
	targetID := suspension.ID.String()
	if err := s.audit.AuditLog(ctx, &projectID, actor, nil, "suspension.suspended", "suspension", &targetID, map[string]any{
		"cap_exceeded": capExceeded,
		"reason":       reason,
	}); err != nil {
		logger.FromContext(ctx).Warn("suspension audit write failed", zap.Error(err))
	}

	return suspension, nil
}

func (s *service) Unsuspend(ctx context.Context, projectID snowflake.ID, reason, actor string) (*domain.Suspension, error) {
	if projectID == 0 {
		return nil, domain.ErrInvalidProject
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}

	now := s.clock.Now()
	var resolved *domain.Suspension
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		projects := s.projects.WithTx(tx)

		open, err := repo.GetOpenByProject(ctx, projectID)
		if err != nil {
			return err
		}
		if open == nil {
			// Already clear.
			return nil
		}

		applied, err := repo.Resolve(ctx, projectID, now)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		if err := repo.AppendHistory(ctx, domain.SuspensionHistory{
			ID:           s.genID.Generate(),
			ProjectID:    projectID,
			SuspensionID: open.ID,
			Action:       domain.ActionUnsuspended,
			Reason:       reason,
			Actor:        actor,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if _, err := projects.UpdateStatus(ctx, projectID, projectdomain.StatusSuspended, projectdomain.StatusActive, now); err != nil {
			return err
		}

		open.ResolvedAt = &now
		resolved = open
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, nil
	}

	if s.snapshots != nil {
		s.snapshots.Invalidate(projectID)
	}
	metrics.Reconciler().IncProjectTransition(string(projectdomain.StatusSuspended), string(projectdomain.StatusActive))
	logger.FromContext(ctx).Info("project unsuspended",
		zap.Int64("project_id", int64(projectID)),
		zap.String("reason", reason),
	)

	s.publisher.Enqueue(ctx, notifierdomain.Message{
		ProjectID: projectID,
		Kind:      notifierdomain.KindReactivation,
		Payload:   map[string]any{"reason": reason},
	})
	targetID := resolved.ID.String()
	if err := s.audit.AuditLog(ctx, &projectID, actor, nil, "suspension.unsuspended", "suspension", &targetID, map[string]any{
		"reason": reason,
	}); err != nil {
		logger.FromContext(ctx).Warn("suspension audit write failed", zap.Error(err))
	}

	return resolved, nil
}

func (s *service) GetOpen(ctx context.Context, projectID snowflake.ID) (*domain.Suspension, error) {
	return s.repo.GetOpenByProject(ctx, projectID)
}

func (s *service) ListOpen(ctx context.Context) ([]domain.Suspension, error) {
	return s.repo.ListOpen(ctx)
}

func (s *service) History(ctx context.Context, projectID snowflake.ID) ([]domain.SuspensionHistory, error) {
	return s.repo.ListHistory(ctx, projectID)
}
