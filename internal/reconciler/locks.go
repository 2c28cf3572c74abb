package reconciler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/nimbase/controlplane/internal/observability/metrics"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	"gorm.io/gorm"
)

// WorkProject is the claimed view of a project row the reconciler operates on.
type WorkProject struct {
	ID                  snowflake.ID
	TenantID            snowflake.ID
	Status              projectdomain.Status
	Version             int64
	DeletionScheduledAt *time.Time
	GracePeriodEndsAt   *time.Time
}

// openSuspensionRow joins an open suspension with its project's current
// status so drift between the two tables is visible in one scan.
type openSuspensionRow struct {
	SuspensionID  snowflake.ID
	ProjectID     snowflake.ID
	ProjectStatus projectdomain.Status
	CapExceeded   string
	SuspendedAt   time.Time
}

// FetchProjectsForWork claims up to limit projects in the given status. Rows
// are locked for the claim so concurrent sweeps skip each other's work.
func (r *Reconciler) FetchProjectsForWork(ctx context.Context, status projectdomain.Status, limit int) ([]WorkProject, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var projects []WorkProject
	err := r.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		projects, err = r.fetchProjectsForWork(claimCtx, tx, status, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *Reconciler) fetchProjectsForWork(ctx context.Context, tx *gorm.DB, status projectdomain.Status, limit int) ([]WorkProject, error) {
	if limit <= 0 {
		limit = r.cfg.BatchSize
	}
	var projects []WorkProject
	recMetrics := obsmetrics.Reconciler()
	lockStart := time.Now()
	err := tx.WithContext(ctx).Raw(
		`SELECT id, tenant_id, status, version, deletion_scheduled_at, grace_period_ends_at
		 FROM projects
		 WHERE status = ?
		 ORDER BY id
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		status,
		limit,
	).Scan(&projects).Error
	recMetrics.ObserveDBLockWait(obsmetrics.LockResourceProjectsForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// fetchProjectsPastGrace claims soft-deleted projects whose grace period has
// fully elapsed.
func (r *Reconciler) fetchProjectsPastGrace(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]WorkProject, error) {
	if limit <= 0 {
		limit = r.cfg.BatchSize
	}
	var projects []WorkProject
	recMetrics := obsmetrics.Reconciler()
	lockStart := time.Now()
	err := tx.WithContext(ctx).Raw(
		`SELECT id, tenant_id, status, version, deletion_scheduled_at, grace_period_ends_at
		 FROM projects
		 WHERE status = ?
		   AND grace_period_ends_at IS NOT NULL
		   AND grace_period_ends_at <= ?
		 ORDER BY grace_period_ends_at ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		projectdomain.StatusDeleted,
		now,
		limit,
	).Scan(&projects).Error
	recMetrics.ObserveDBLockWait(obsmetrics.LockResourceProjectsForDelete, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// fetchProjectsInGraceWindow lists soft-deleted projects whose grace period
// ends within the warning window. Read-only, no claim needed.
func (r *Reconciler) fetchProjectsInGraceWindow(ctx context.Context, now, windowEnd time.Time) ([]WorkProject, error) {
	var projects []WorkProject
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, status, version, deletion_scheduled_at, grace_period_ends_at
		 FROM projects
		 WHERE status = ?
		   AND grace_period_ends_at IS NOT NULL
		   AND grace_period_ends_at > ?
		   AND grace_period_ends_at <= ?
		 ORDER BY grace_period_ends_at ASC, id ASC`,
		projectdomain.StatusDeleted,
		now,
		windowEnd,
	).Scan(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// fetchOpenSuspensions scans open suspensions joined with the project row.
// Hard-deleted projects are excluded; their suspensions are moot.
func (r *Reconciler) fetchOpenSuspensions(ctx context.Context, limit int) ([]openSuspensionRow, error) {
	if limit <= 0 {
		limit = r.cfg.BatchSize
	}
	var rows []openSuspensionRow
	recMetrics := obsmetrics.Reconciler()
	lockStart := time.Now()
	err := r.db.WithContext(ctx).Raw(
		`SELECT s.id AS suspension_id, s.project_id, p.status AS project_status,
		        s.cap_exceeded, s.suspended_at
		 FROM suspensions s
		 JOIN projects p ON p.id = s.project_id
		 WHERE s.resolved_at IS NULL
		   AND p.status NOT IN (?, ?)
		 ORDER BY s.id
		 LIMIT ?`,
		projectdomain.StatusDeleted,
		projectdomain.StatusHardDeleted,
		limit,
	).Scan(&rows).Error
	recMetrics.ObserveDBLockWait(obsmetrics.LockResourceOpenSuspensionScan, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// fetchSuspendedProjectsWithoutOpen lists projects stuck in SUSPENDED with no
// open suspension backing the status.
func (r *Reconciler) fetchSuspendedProjectsWithoutOpen(ctx context.Context, limit int) ([]WorkProject, error) {
	if limit <= 0 {
		limit = r.cfg.BatchSize
	}
	var projects []WorkProject
	err := r.db.WithContext(ctx).Raw(
		`SELECT p.id, p.tenant_id, p.status, p.version, p.deletion_scheduled_at, p.grace_period_ends_at
		 FROM projects p
		 WHERE p.status = ?
		   AND NOT EXISTS (
			   SELECT 1 FROM suspensions s
			   WHERE s.project_id = p.id
				 AND s.resolved_at IS NULL
		   )
		 ORDER BY p.id
		 LIMIT ?`,
		projectdomain.StatusSuspended,
		limit,
	).Scan(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}
