package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/abuse/domain"
	"gorm.io/gorm"
)

// Injection markers matched against request paths and query strings. The
// data plane lowercases both columns on ingest.
var injectionMarkers = []string{
	"%union%select%",
	"%or 1=1%",
	"%'; drop table%",
	"%sleep(%",
	"%information_schema%",
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

func (r *repository) Insert(ctx context.Context, detection domain.PatternDetection) error {
	return r.db.WithContext(ctx).Create(&detection).Error
}

func (r *repository) ListByProject(ctx context.Context, projectID snowflake.ID, since time.Time) ([]domain.PatternDetection, error) {
	var detections []domain.PatternDetection
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND detected_at >= ?", projectID, since).
		Order("detected_at DESC").
		Find(&detections).Error
	if err != nil {
		return nil, err
	}
	return detections, nil
}

func (r *repository) CountSuspiciousRequests(ctx context.Context, since time.Time) ([]domain.ProjectHit, error) {
	where := "(query LIKE ? OR path LIKE ?)"
	args := []any{}
	for i, marker := range injectionMarkers {
		if i > 0 {
			where += " OR (query LIKE ? OR path LIKE ?)"
		}
		args = append(args, marker, marker)
	}

	var hits []domain.ProjectHit
	query := `SELECT project_id, COUNT(*) AS count
		 FROM request_logs
		 WHERE created_at >= ? AND (` + where + `)
		 GROUP BY project_id`
	err := r.db.WithContext(ctx).Raw(query, append([]any{since}, args...)...).Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (r *repository) CountFailedAuth(ctx context.Context, since time.Time) ([]domain.ProjectHit, error) {
	var hits []domain.ProjectHit
	err := r.db.WithContext(ctx).Raw(
		`SELECT project_id, COUNT(*) AS count
		 FROM auth_events
		 WHERE created_at >= ? AND success = ?
		 GROUP BY project_id`,
		since, false,
	).Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (r *repository) CountKeyCreations(ctx context.Context, since time.Time) ([]domain.ProjectHit, error) {
	var hits []domain.ProjectHit
	err := r.db.WithContext(ctx).Raw(
		`SELECT project_id, COUNT(*) AS count
		 FROM audit_logs
		 WHERE created_at >= ? AND action = ?
		 GROUP BY project_id`,
		since, "api_key.created",
	).Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}
