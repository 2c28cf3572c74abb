package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/override/domain"
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

func (r *repository) Insert(ctx context.Context, record domain.OverrideRecord) error {
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *repository) ListByProject(ctx context.Context, projectID snowflake.ID) ([]domain.OverrideRecord, error) {
	var records []domain.OverrideRecord
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("performed_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
