package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/observability/logger"
	"github.com/nimbase/controlplane/internal/project/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tables swept by the hard-delete cascade. Each is cleared independently so
// one failing table does not leave the others behind.
var dependentTables = []string{
	"api_keys",
	"webhooks",
	"functions",
	"storage_buckets",
	"secrets",
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, project domain.Project) error {
	return r.db.WithContext(ctx).Create(&project).Error
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *repository) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("id ASC").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id snowflake.ID, from, to domain.Status, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE projects
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetStatus(ctx context.Context, id snowflake.ID, to domain.Status, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE projects
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status NOT IN ? AND status <> ?`,
		to, now, id,
		[]domain.Status{domain.StatusDeleted, domain.StatusHardDeleted}, to,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SoftDelete(ctx context.Context, id snowflake.ID, scheduledAt, graceEndsAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE projects
		 SET status = ?, deletion_scheduled_at = ?, grace_period_ends_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.StatusDeleted, scheduledAt, graceEndsAt, scheduledAt,
		id, []domain.Status{domain.StatusCreated, domain.StatusActive, domain.StatusSuspended, domain.StatusArchived},
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkHardDeleted(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE projects
		 SET status = ?, deleted_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusHardDeleted, now, now, id, domain.StatusDeleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) BumpVersion(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE projects SET version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	).Error
}

func (r *repository) ListProvisioningSteps(ctx context.Context, projectID snowflake.ID) ([]domain.ProvisioningStep, error) {
	var steps []domain.ProvisioningStep
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *repository) UpsertProvisioningStep(ctx context.Context, step domain.ProvisioningStep) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO provisioning_steps (id, project_id, step, status, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, step) DO UPDATE SET status = EXCLUDED.status, detail = EXCLUDED.detail, updated_at = EXCLUDED.updated_at`,
		step.ID, step.ProjectID, step.Step, step.Status, step.Detail, step.CreatedAt, step.UpdatedAt,
	).Error
}

func (r *repository) ListServices(ctx context.Context, projectID snowflake.ID) ([]domain.ProjectService, error) {
	var services []domain.ProjectService
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("service ASC").
		Find(&services).Error
	if err != nil {
		return nil, err
	}
	return services, nil
}

func (r *repository) GetRateLimits(ctx context.Context, projectID snowflake.ID) (*domain.RateLimits, error) {
	var limits domain.RateLimits
	err := r.db.WithContext(ctx).First(&limits, "project_id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &limits, nil
}

func (r *repository) DeleteDependentResources(ctx context.Context, projectID snowflake.ID) (map[string]int64, error) {
	counts := make(map[string]int64, len(dependentTables))
	var errs error
	for _, table := range dependentTables {
		res := r.db.WithContext(ctx).Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE project_id = ?`, table),
			projectID,
		)
		if res.Error != nil {
			errs = errors.Join(errs, fmt.Errorf("delete %s: %w", table, res.Error))
			continue
		}
		counts[table] = res.RowsAffected
	}
	return counts, errs
}

func (r *repository) DropTenantSchema(ctx context.Context, tenantID snowflake.ID) error {
	schema := fmt.Sprintf("tenant_%d", tenantID)
	err := r.db.WithContext(ctx).Exec(
		fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schema),
	).Error
	if err != nil {
		logger.FromContext(ctx).Warn("tenant schema drop failed",
			zap.String("schema", schema),
			zap.Error(err),
		)
	}
	return err
}
