package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/observability/logger"
	"github.com/nimbase/controlplane/internal/project/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	repo  domain.Repository
	clock clock.Clock
}

func NewService(db *gorm.DB, repo domain.Repository, clk clock.Clock) domain.Service {
	return &service{db: db, repo: repo, clock: clk}
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Project, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) SoftDelete(ctx context.Context, id snowflake.ID, gracePeriod time.Duration) (*domain.Project, error) {
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.Status.Terminal() {
		return nil, domain.ErrProjectTerminal
	}
	if project.Status == domain.StatusDeleted {
		return project, nil
	}

	now := s.clock.Now()
	graceEnds := now.Add(gracePeriod)
	applied, err := s.repo.SoftDelete(ctx, id, now, graceEnds)
	if err != nil {
		return nil, fmt.Errorf("soft delete project: %w", err)
	}
	if !applied {
		// Raced with another writer; re-read the authoritative row.
		return s.repo.GetByID(ctx, id)
	}

	logger.FromContext(ctx).Info("project soft deleted",
		zap.Int64("project_id", int64(id)),
		zap.String("previous_status", string(project.Status)),
		zap.Time("grace_period_ends_at", graceEnds),
	)
	return s.repo.GetByID(ctx, id)
}

func (s *service) Restore(ctx context.Context, id snowflake.ID) (*domain.Project, error) {
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.Status.Terminal() {
		return nil, domain.ErrProjectTerminal
	}
	if project.Status != domain.StatusDeleted {
		return nil, domain.ErrInvalidTransition
	}
	if project.GracePeriodEndsAt != nil && s.clock.Now().After(*project.GracePeriodEndsAt) {
		return nil, domain.ErrGraceExpired
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		applied, err := repo.UpdateStatus(ctx, id, domain.StatusDeleted, domain.StatusActive, s.clock.Now())
		if err != nil {
			return err
		}
		if !applied {
			return domain.ErrInvalidTransition
		}
		return tx.Exec(
			`UPDATE projects SET deletion_scheduled_at = NULL, grace_period_ends_at = NULL WHERE id = ?`,
			id,
		).Error
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("project restored from pending deletion",
		zap.Int64("project_id", int64(id)),
	)
	return s.repo.GetByID(ctx, id)
}
