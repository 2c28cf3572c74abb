package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/clock"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	"github.com/nimbase/controlplane/internal/observability/logger"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	"github.com/nimbase/controlplane/internal/quota/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const resetBatchSize = 200

type Params struct {
	fx.In

	DB        *gorm.DB
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Projects  projectdomain.Repository
	Suspender suspensiondomain.Service
	Publisher notifierdomain.Publisher
}

type service struct {
	db        *gorm.DB
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	projects  projectdomain.Repository
	suspender suspensiondomain.Service
	publisher notifierdomain.Publisher
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		projects:  p.Projects,
		suspender: p.Suspender,
		publisher: p.Publisher,
	}
}

func (s *service) RecordUsage(ctx context.Context, projectID snowflake.ID, serviceName string, amount int64) error {
	if projectID == 0 {
		return domain.ErrInvalidProject
	}
	if !domain.IsKnownService(serviceName) {
		return domain.ErrInvalidService
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return s.repo.InsertUsage(ctx, domain.UsageRecord{
		ID:         s.genID.Generate(),
		ProjectID:  projectID,
		Service:    serviceName,
		Amount:     amount,
		RecordedAt: s.clock.Now(),
	})
}

func (s *service) UsageSince(ctx context.Context, projectID snowflake.ID, serviceName string, since time.Time) (int64, error) {
	return s.repo.SumUsageSince(ctx, projectID, serviceName, since)
}

func (s *service) GetQuota(ctx context.Context, projectID snowflake.ID, serviceName string) (*domain.Quota, error) {
	return s.repo.Get(ctx, projectID, serviceName)
}

func (s *service) ListQuotas(ctx context.Context, projectID snowflake.ID) ([]domain.Quota, error) {
	return s.repo.ListByProject(ctx, projectID)
}

func (s *service) SetQuota(ctx context.Context, quota domain.Quota) error {
	if quota.ProjectID == 0 {
		return domain.ErrInvalidProject
	}
	if !domain.IsKnownService(quota.Service) {
		return domain.ErrInvalidService
	}
	now := s.clock.Now()
	if quota.ID == 0 {
		quota.ID = s.genID.Generate()
	}
	if quota.CreatedAt.IsZero() {
		quota.CreatedAt = now
	}
	quota.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Upsert(ctx, quota); err != nil {
			return err
		}
		// Quota changes invalidate distributed snapshots.
		return s.projects.WithTx(tx).BumpVersion(ctx, quota.ProjectID)
	})
	return err
}

func (s *service) CheckQuota(ctx context.Context, projectID snowflake.ID, serviceName string) (*domain.CheckResult, error) {
	if projectID == 0 {
		return nil, domain.ErrInvalidProject
	}
	if !domain.IsKnownService(serviceName) {
		return nil, domain.ErrInvalidService
	}

	quota, err := s.repo.Get(ctx, projectID, serviceName)
	if err != nil {
		return nil, err
	}

	periodStart := quota.ResetAt.AddDate(0, -1, 0)
	usage, err := s.repo.SumUsageSince(ctx, projectID, serviceName, periodStart)
	if err != nil {
		return nil, err
	}

	result := &domain.CheckResult{
		ProjectID:    projectID,
		Service:      serviceName,
		CurrentUsage: usage,
		MonthlyLimit: quota.MonthlyLimit,
		HardCap:      quota.HardCap,
	}
	if quota.MonthlyLimit > 0 {
		result.UsagePercent = float64(usage) / float64(quota.MonthlyLimit) * 100
	}
	// Highest threshold wins, never both.
	switch {
	case result.UsagePercent >= 90:
		result.WarnLevel = domain.WarnLevelNinety
	case result.UsagePercent >= 80:
		result.WarnLevel = domain.WarnLevelEighty
	}
	result.HardCapExceeded = quota.HardCap > 0 && usage >= quota.HardCap

	if result.HardCapExceeded {
		// Suspension never fails open: any error here propagates.
		_, err := s.suspender.Suspend(ctx, projectID, suspensiondomain.Cause{
			CapExceeded: serviceName,
			Reason:      fmt.Sprintf("hard cap exceeded for %s: %d of %d", serviceName, usage, quota.HardCap),
			Evidence: map[string]any{
				"service":       serviceName,
				"current_usage": usage,
				"hard_cap":      quota.HardCap,
				"monthly_limit": quota.MonthlyLimit,
			},
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	if result.WarnLevel != domain.WarnLevelNone {
		s.dispatchWarning(ctx, result)
	}
	return result, nil
}

// dispatchWarning sends at most one warning per (project, service, level) per
// reset period. The dedupe query fails open: warnings are best-effort and
// never enforce anything.
func (s *service) dispatchWarning(ctx context.Context, result *domain.CheckResult) {
	now := s.clock.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	sent, err := s.publisher.HasNotificationSince(ctx, result.ProjectID, notifierdomain.KindQuotaWarning, result.Service, result.WarnLevel, monthStart)
	if err != nil {
		logger.FromContext(ctx).Warn("quota warning dedupe query failed, sending anyway",
			zap.Int64("project_id", int64(result.ProjectID)),
			zap.String("service", result.Service),
			zap.Error(err),
		)
	}
	if sent {
		return
	}

	s.publisher.Enqueue(ctx, notifierdomain.Message{
		ProjectID: result.ProjectID,
		Kind:      notifierdomain.KindQuotaWarning,
		Service:   result.Service,
		Level:     result.WarnLevel,
		Payload: map[string]any{
			"usage_percent": result.UsagePercent,
			"current_usage": result.CurrentUsage,
			"monthly_limit": result.MonthlyLimit,
		},
	})
}

func (s *service) EnforceHardCaps(ctx context.Context, projectID snowflake.ID) ([]domain.CheckResult, error) {
	quotas, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	results := make([]domain.CheckResult, 0, len(quotas))
	var errs error
	for _, quota := range quotas {
		result, err := s.CheckQuota(ctx, projectID, quota.Service)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("check %s: %w", quota.Service, err))
			continue
		}
		results = append(results, *result)
	}
	return results, errs
}

func (s *service) ResetExpired(ctx context.Context, retention time.Duration) (*domain.ResetSummary, error) {
	now := s.clock.Now()
	summary := &domain.ResetSummary{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		projects := s.projects.WithTx(tx)

		expired, err := repo.ListExpired(ctx, now, resetBatchSize)
		if err != nil {
			return err
		}
		summary.QuotasChecked = len(expired)

		var errs error
		for _, quota := range expired {
			next := quota.ResetAt
			for !next.After(now) {
				next = next.AddDate(0, 1, 0)
			}
			applied, err := repo.AdvanceResetAt(ctx, quota.ID, quota.ResetAt, next)
			if err != nil {
				errs = errors.Join(errs, fmt.Errorf("advance quota %d: %w", quota.ID, err))
				continue
			}
			if !applied {
				continue
			}
			if err := projects.BumpVersion(ctx, quota.ProjectID); err != nil {
				errs = errors.Join(errs, fmt.Errorf("bump project %d: %w", quota.ProjectID, err))
				continue
			}
			summary.QuotasReset++
			summary.Results = append(summary.Results, domain.ResetResult{
				ProjectID:   quota.ProjectID,
				Service:     quota.Service,
				NextResetAt: next,
			})
		}
		return errs
	})
	if err != nil {
		return summary, err
	}

	archived, err := s.repo.DeleteUsageBefore(ctx, now.Add(-retention))
	if err != nil {
		return summary, fmt.Errorf("archive usage: %w", err)
	}
	summary.ArchivedRows = archived

	logger.FromContext(ctx).Info("quota reset sweep complete",
		zap.Int("quotas_checked", summary.QuotasChecked),
		zap.Int("quotas_reset", summary.QuotasReset),
		zap.Int64("archived_rows", archived),
	)
	return summary, nil
}
