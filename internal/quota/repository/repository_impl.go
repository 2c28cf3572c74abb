package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/observability/metrics"
	"github.com/nimbase/controlplane/internal/quota/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, projectID snowflake.ID, service string) (*domain.Quota, error) {
	var quota domain.Quota
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND service = ?", projectID, service).
		First(&quota).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrQuotaNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

func (r *repository) ListByProject(ctx context.Context, projectID snowflake.ID) ([]domain.Quota, error) {
	var quotas []domain.Quota
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("service ASC").
		Find(&quotas).Error
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

func (r *repository) Upsert(ctx context.Context, quota domain.Quota) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO quotas (id, project_id, service, monthly_limit, hard_cap, reset_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, service) DO UPDATE SET
		   monthly_limit = EXCLUDED.monthly_limit,
		   hard_cap = EXCLUDED.hard_cap,
		   reset_at = EXCLUDED.reset_at,
		   updated_at = EXCLUDED.updated_at`,
		quota.ID, quota.ProjectID, quota.Service,
		quota.MonthlyLimit, quota.HardCap, quota.ResetAt,
		quota.CreatedAt, quota.UpdatedAt,
	).Error
}

func (r *repository) UpdateHardCap(ctx context.Context, projectID snowflake.ID, service string, hardCap int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE quotas SET hard_cap = ?, updated_at = ? WHERE project_id = ? AND service = ?`,
		hardCap, now, projectID, service,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Quota, error) {
	if limit <= 0 {
		limit = 100
	}
	var quotas []domain.Quota
	lockStart := time.Now()
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, project_id, service, monthly_limit, hard_cap, reset_at, created_at, updated_at
		 FROM quotas
		 WHERE reset_at <= ?
		 ORDER BY reset_at ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		now,
		limit,
	).Scan(&quotas).Error
	metrics.Reconciler().ObserveDBLockWait(metrics.LockResourceQuotasForReset, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

func (r *repository) AdvanceResetAt(ctx context.Context, id snowflake.ID, from, to time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE quotas SET reset_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND reset_at = ?`,
		to, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) InsertUsage(ctx context.Context, record domain.UsageRecord) error {
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *repository) SumUsageSince(ctx context.Context, projectID snowflake.ID, service string, since time.Time) (int64, error) {
	var total *int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT SUM(amount) FROM usage_records
		 WHERE project_id = ? AND service = ? AND recorded_at >= ?`,
		projectID, service, since,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *repository) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM usage_records WHERE recorded_at < ?`,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
