package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/notifier/domain"
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

func (r *repository) Insert(ctx context.Context, notification domain.Notification) error {
	return r.db.WithContext(ctx).Create(&notification).Error
}

func (r *repository) ExistsSince(ctx context.Context, projectID snowflake.ID, kind, service string, level int, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("project_id = ? AND kind = ? AND service = ? AND level = ? AND created_at >= ?",
			projectID, kind, service, level, since).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
