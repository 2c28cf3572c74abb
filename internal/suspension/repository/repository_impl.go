package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/suspension/domain"
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

func (r *repository) GetOpenByProject(ctx context.Context, projectID snowflake.ID) (*domain.Suspension, error) {
	var suspension domain.Suspension
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND resolved_at IS NULL", projectID).
		First(&suspension).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &suspension, nil
}

func (r *repository) ListOpen(ctx context.Context) ([]domain.Suspension, error) {
	var suspensions []domain.Suspension
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("project_id ASC").
		Find(&suspensions).Error
	if err != nil {
		return nil, err
	}
	return suspensions, nil
}

func (r *repository) Insert(ctx context.Context, suspension domain.Suspension) error {
	return r.db.WithContext(ctx).Create(&suspension).Error
}

func (r *repository) Resolve(ctx context.Context, projectID snowflake.ID, resolvedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE suspensions
		 SET resolved_at = ?, updated_at = ?
		 WHERE project_id = ? AND resolved_at IS NULL`,
		resolvedAt, resolvedAt, projectID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) AppendHistory(ctx context.Context, entry domain.SuspensionHistory) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *repository) ListHistory(ctx context.Context, projectID snowflake.ID) ([]domain.SuspensionHistory, error) {
	var history []domain.SuspensionHistory
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}
