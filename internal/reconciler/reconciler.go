// Package reconciler converges project lifecycle state in the background.
// Every job is idempotent; a crashed sweep is simply retried on the next
// interval.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	abusedomain "github.com/nimbase/controlplane/internal/abuse/domain"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/authorization"
	"github.com/nimbase/controlplane/internal/clock"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	obsmetrics "github.com/nimbase/controlplane/internal/observability/metrics"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	"github.com/nimbase/controlplane/internal/ratelimit"
	"github.com/nimbase/controlplane/internal/reconciler/guard"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_reconciler_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Projects    projectdomain.Repository
	Quotas      quotadomain.Repository
	QuotaSvc    quotadomain.Service
	Suspender   suspensiondomain.Service
	AbuseSvc    abusedomain.Service
	AuditSvc    auditdomain.Service
	AuthzSvc    authorization.Service
	Publisher   notifierdomain.Publisher
	SnapshotSvc snapshotdomain.Service

	SweepLock *ratelimit.SweepLock `optional:"true"`
	Config    Config               `optional:"true"`
}

type Reconciler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	projects    projectdomain.Repository
	quotas      quotadomain.Repository
	quotaSvc    quotadomain.Service
	suspender   suspensiondomain.Service
	abuseSvc    abusedomain.Service
	auditSvc    auditdomain.Service
	authzSvc    authorization.Service
	publisher   notifierdomain.Publisher
	snapshotSvc snapshotdomain.Service
	sweepLock   *ratelimit.SweepLock
}

type auditEvent struct {
	ProjectID  snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.Projects == nil || p.Quotas == nil || p.QuotaSvc == nil ||
		p.Suspender == nil || p.AbuseSvc == nil || p.AuditSvc == nil ||
		p.AuthzSvc == nil || p.Publisher == nil || p.SnapshotSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Reconciler{
		db:          p.DB,
		log:         p.Log.Named("reconciler").With(zap.String("component", "reconciler")),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		projects:    p.Projects,
		quotas:      p.Quotas,
		quotaSvc:    p.QuotaSvc,
		suspender:   p.Suspender,
		abuseSvc:    p.AbuseSvc,
		auditSvc:    p.AuditSvc,
		authzSvc:    p.AuthzSvc,
		publisher:   p.Publisher,
		snapshotSvc: p.SnapshotSvc,
		sweepLock:   p.SweepLock,
	}, nil
}

func (r *Reconciler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := r.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = r.withLogContext(ctx, 0)
	ctx, run, owner := r.ensureJobRun(ctx, name, batchSize)
	if owner {
		r.logJobStart(ctx, run)
	}
	log := r.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	recMetrics := obsmetrics.Reconciler()
	recMetrics.IncJobRun(name)

	err := fn(ctx)
	recMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		r.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next sweep picks up where this one
	// stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		recMetrics.IncJobTimeout(name)
	}
	recMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one full sweep. When a shared sweep lock is configured
// and another instance holds it, the sweep is skipped.
func (r *Reconciler) RunOnce(parent context.Context) error {
	token, acquired, lockErr := r.sweepLock.TryLock(parent)
	if lockErr != nil {
		r.log.Warn("sweep lock unavailable, running unlocked", zap.Error(lockErr))
	} else if !acquired {
		r.log.Debug("sweep skipped, lock held elsewhere")
		return nil
	} else if token != "" {
		defer func() {
			if err := r.sweepLock.Release(parent, token); err != nil {
				r.log.Warn("sweep lock release failed", zap.Error(err))
			}
		}()
	}

	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"activate_provisioned", r.isJobEnabled("activate_provisioned"), func(ctx context.Context) error {
			return r.runJob(ctx, "activate_provisioned", r.cfg.BatchSize, 30*time.Second, r.ActivateProvisionedJob)
		}},
		{"sync_suspended", r.isJobEnabled("sync_suspended"), func(ctx context.Context) error {
			return r.runJob(ctx, "sync_suspended", r.cfg.BatchSize, 30*time.Second, r.SyncSuspendedJob)
		}},
		{"reactivate_reset", r.isJobEnabled("reactivate_reset"), func(ctx context.Context) error {
			return r.runJob(ctx, "reactivate_reset", r.cfg.BatchSize, 30*time.Second, r.ReactivateResetJob)
		}},
		{"quota_reset", r.isJobEnabled("quota_reset"), func(ctx context.Context) error {
			return r.runJob(ctx, "quota_reset", r.cfg.BatchSize, 60*time.Second, r.QuotaResetJob)
		}},
		{"abuse_detection", r.isJobEnabled("abuse_detection"), func(ctx context.Context) error {
			return r.runJob(ctx, "abuse_detection", r.cfg.BatchSize, 60*time.Second, r.AbuseDetectionJob)
		}},
		{"grace_warnings", r.isJobEnabled("grace_warnings"), func(ctx context.Context) error {
			return r.runJob(ctx, "grace_warnings", r.cfg.BatchSize, 30*time.Second, r.GraceWarningsJob)
		}},
		{"hard_delete", r.isJobEnabled("hard_delete"), func(ctx context.Context) error {
			return r.runJob(ctx, "hard_delete", r.cfg.BatchSize, 60*time.Second, r.HardDeleteJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := r.clock.Now().Add(r.cfg.RunInterval)
	recMetrics := obsmetrics.Reconciler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			recMetrics.ObserveRunLoopLag(runLag)
		}
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(r.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything (monolith mode).
	if len(r.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range r.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ActivateProvisionedJob promotes CREATED projects whose provisioning steps
// have all finished.
func (r *Reconciler) ActivateProvisionedJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "activate_provisioned", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}
	now := r.clock.Now()
	var jobErr error

	projects, err := r.FetchProjectsForWork(ctx, projectdomain.StatusCreated, r.cfg.BatchSize)
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.project.claim.failed", "activate_provisioned", 0, err)
		return err
	}

	for _, project := range projects {
		r.logProjectClaimed(ctx, "activate_provisioned", project)
		if err := r.authorizeSystem(ctx, authorization.ObjectProject, authorization.ActionProjectActivate); err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.authorize.failed", "activate_provisioned", project.ID, err)
			continue
		}

		steps, err := r.projects.ListProvisioningSteps(ctx, project.ID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.process.failed", "activate_provisioned", project.ID, err)
			continue
		}
		if err := guard.EnsureProjectCanActivate(project.Status, steps); err != nil {
			// Still provisioning or a step failed; leave the project alone.
			r.logger(r.withLogContext(ctx, project.ID)).Debug("project not ready for activation",
				zap.String("job", "activate_provisioned"),
				zap.String("project_id", idString(project.ID)),
				zap.String("reason", err.Error()),
			)
			continue
		}

		updated, err := r.projects.UpdateStatus(ctx, project.ID, projectdomain.StatusCreated, projectdomain.StatusActive, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.process.failed", "activate_provisioned", project.ID, err)
			continue
		}
		if !updated {
			continue
		}
		run.AddProcessed(1)
		obsmetrics.Reconciler().IncProjectTransition(string(projectdomain.StatusCreated), string(projectdomain.StatusActive))
		obsmetrics.Reconciler().AddBatchProcessed("activate_provisioned", "projects", 1)
		r.snapshotSvc.Invalidate(project.ID)
		r.emitAuditEvent(ctx, auditEvent{
			ProjectID:  project.ID,
			Action:     "project.activated",
			TargetType: "project",
			TargetID:   project.ID.String(),
			Metadata: map[string]any{
				"from": string(projectdomain.StatusCreated),
				"to":   string(projectdomain.StatusActive),
			},
		})
	}

	return jobErr
}

// SyncSuspendedJob repairs drift between the suspensions table and the
// project status column in both directions.
func (r *Reconciler) SyncSuspendedJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "sync_suspended", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}
	now := r.clock.Now()
	var jobErr error

	open, err := r.fetchOpenSuspensions(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.suspension.scan.failed", "sync_suspended", 0, err)
		return err
	}
	for _, row := range open {
		if row.ProjectStatus == projectdomain.StatusSuspended {
			continue
		}
		if err := r.authorizeSystem(ctx, authorization.ObjectProject, authorization.ActionProjectSuspend); err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.authorize.failed", "sync_suspended", row.ProjectID, err)
			continue
		}
		updated, err := r.projects.SetStatus(ctx, row.ProjectID, projectdomain.StatusSuspended, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.process.failed", "sync_suspended", row.ProjectID, err)
			continue
		}
		if !updated {
			continue
		}
		run.AddProcessed(1)
		obsmetrics.Reconciler().IncProjectTransition(string(row.ProjectStatus), string(projectdomain.StatusSuspended))
		obsmetrics.Reconciler().AddBatchProcessed("sync_suspended", "projects", 1)
		r.snapshotSvc.Invalidate(row.ProjectID)
		r.emitAuditEvent(ctx, auditEvent{
			ProjectID:  row.ProjectID,
			Action:     "project.suspension_synced",
			TargetType: "project",
			TargetID:   row.ProjectID.String(),
			Metadata: map[string]any{
				"suspension_id": row.SuspensionID.String(),
				"from":          string(row.ProjectStatus),
			},
		})
	}

	orphaned, err := r.fetchSuspendedProjectsWithoutOpen(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.suspension.scan.failed", "sync_suspended", 0, err)
		return errors.Join(jobErr, err)
	}
	for _, project := range orphaned {
		if err := r.authorizeSystem(ctx, authorization.ObjectProject, authorization.ActionProjectRestore); err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.authorize.failed", "sync_suspended", project.ID, err)
			continue
		}
		updated, err := r.projects.UpdateStatus(ctx, project.ID, projectdomain.StatusSuspended, projectdomain.StatusActive, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.process.failed", "sync_suspended", project.ID, err)
			continue
		}
		if !updated {
			continue
		}
		run.AddProcessed(1)
		obsmetrics.Reconciler().IncProjectTransition(string(projectdomain.StatusSuspended), string(projectdomain.StatusActive))
		obsmetrics.Reconciler().AddBatchProcessed("sync_suspended", "projects", 1)
		r.snapshotSvc.Invalidate(project.ID)
		r.emitAuditEvent(ctx, auditEvent{
			ProjectID:  project.ID,
			Action:     "project.suspension_synced",
			TargetType: "project",
			TargetID:   project.ID.String(),
			Metadata: map[string]any{
				"from": string(projectdomain.StatusSuspended),
				"to":   string(projectdomain.StatusActive),
			},
		})
	}

	return jobErr
}

// ReactivateResetJob lifts quota suspensions whose quota reset deadline has
// passed, or whose counter has already rolled into a fresh period.
func (r *Reconciler) ReactivateResetJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "reactivate_reset", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}
	var jobErr error
	now := r.clock.Now()

	open, err := r.fetchOpenSuspensions(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.suspension.scan.failed", "reactivate_reset", 0, err)
		return err
	}

	for _, row := range open {
		// Abuse suspensions never auto-lift; only metered-service caps do.
		if !quotadomain.IsKnownService(row.CapExceeded) {
			continue
		}
		quota, err := r.quotas.Get(ctx, row.ProjectID, row.CapExceeded)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.quota.lookup.failed", "reactivate_reset", row.ProjectID, err,
				zap.String("service", row.CapExceeded),
			)
			continue
		}
		if quota == nil || !guard.QuotaPeriodHasReset(quota.ResetAt, row.SuspendedAt, now) {
			continue
		}

		if err := r.authorizeSystem(ctx, authorization.ObjectProject, authorization.ActionProjectRestore); err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.authorize.failed", "reactivate_reset", row.ProjectID, err)
			continue
		}

		resolved, err := r.suspender.Unsuspend(ctx, row.ProjectID, "quota period reset", "system")
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.process.failed", "reactivate_reset", row.ProjectID, err,
				zap.String("suspension_id", idString(row.SuspensionID)),
			)
			continue
		}
		if resolved == nil {
			continue
		}
		run.AddProcessed(1)
		obsmetrics.Reconciler().AddBatchProcessed("reactivate_reset", "suspensions", 1)
		r.snapshotSvc.Invalidate(row.ProjectID)
		r.emitAuditEvent(ctx, auditEvent{
			ProjectID:  row.ProjectID,
			Action:     "project.reactivated",
			TargetType: "suspension",
			TargetID:   row.SuspensionID.String(),
			Metadata: map[string]any{
				"cap_exceeded":   row.CapExceeded,
				"suspended_at":   row.SuspendedAt.Format(time.RFC3339),
				"quota_reset_at": quota.ResetAt.Format(time.RFC3339),
			},
		})
	}

	return jobErr
}

// QuotaResetJob rolls expired quota periods forward and archives stale usage.
func (r *Reconciler) QuotaResetJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "quota_reset", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}

	summary, err := r.quotaSvc.ResetExpired(ctx, r.cfg.UsageRetention)
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.quota.reset.failed", "quota_reset", 0, err)
		return err
	}
	run.AddProcessed(summary.QuotasReset)
	obsmetrics.Reconciler().AddBatchProcessed("quota_reset", "quotas", summary.QuotasReset)
	return nil
}

// AbuseDetectionJob runs the pattern detectors and applies their actions.
func (r *Reconciler) AbuseDetectionJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "abuse_detection", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}

	summary, err := r.abuseSvc.RunDetection(ctx)
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.abuse.detection.failed", "abuse_detection", 0, err)
		return err
	}
	run.AddProcessed(summary.Detections)
	obsmetrics.Reconciler().AddBatchProcessed("abuse_detection", "detections", summary.Detections)
	for _, msg := range summary.Errors {
		run.IncError()
		r.logger(ctx).Warn("detector error",
			zap.String("job", "abuse_detection"),
			zap.String("error", msg),
		)
	}
	return nil
}

// GraceWarningsJob notifies owners of soft-deleted projects approaching
// permanent deletion. Dispatch failures never block the sweep.
func (r *Reconciler) GraceWarningsJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "grace_warnings", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}
	now := r.clock.Now()

	projects, err := r.fetchProjectsInGraceWindow(ctx, now, now.Add(r.cfg.GraceWarningWindow))
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.project.claim.failed", "grace_warnings", 0, err)
		return err
	}

	for _, project := range projects {
		if project.GracePeriodEndsAt == nil || project.DeletionScheduledAt == nil {
			continue
		}
		// One warning per deletion request; a restore and re-delete starts a
		// fresh deadline and a fresh warning.
		sent, err := r.publisher.HasNotificationSince(ctx, project.ID, notifierdomain.KindGraceWarning, "", 0, *project.DeletionScheduledAt)
		if err != nil {
			r.logReconcilerError(ctx, run, "reconciler.notification.lookup.failed", "grace_warnings", project.ID, err)
			continue
		}
		if sent {
			continue
		}
		r.publisher.Enqueue(ctx, notifierdomain.Message{
			ProjectID: project.ID,
			Kind:      notifierdomain.KindGraceWarning,
			Payload: map[string]any{
				"deletion_scheduled_at": project.DeletionScheduledAt.Format(time.RFC3339),
				"grace_period_ends_at":  project.GracePeriodEndsAt.Format(time.RFC3339),
			},
		})
		run.AddProcessed(1)
		obsmetrics.Reconciler().AddBatchProcessed("grace_warnings", "projects", 1)
	}

	return nil
}

// HardDeleteJob permanently removes projects whose grace period has elapsed.
// Dependent resources go first; the status flips only after every table is
// cleared.
func (r *Reconciler) HardDeleteJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "hard_delete", r.cfg.BatchSize)
	if owner {
		r.logJobStart(ctx, run)
		defer r.logJobFinish(ctx, run)
	}
	now := r.clock.Now()
	var jobErr error

	var projects []WorkProject
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		projects, err = r.fetchProjectsPastGrace(ctx, tx, now, r.cfg.BatchSize)
		return err
	})
	if err != nil {
		r.logReconcilerError(ctx, run, "reconciler.project.claim.failed", "hard_delete", 0, err)
		return err
	}

	for _, project := range projects {
		r.logProjectClaimed(ctx, "hard_delete", project)
		if err := r.authorizeSystem(ctx, authorization.ObjectProject, authorization.ActionProjectDelete); err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.authorize.failed", "hard_delete", project.ID, err)
			continue
		}
		if err := guard.EnsureProjectCanHardDelete(project.Status, project.GracePeriodEndsAt, now); err != nil {
			r.logger(r.withLogContext(ctx, project.ID)).Debug("project not eligible for hard delete",
				zap.String("job", "hard_delete"),
				zap.String("project_id", idString(project.ID)),
				zap.String("reason", err.Error()),
			)
			continue
		}

		counts, err := r.projects.DeleteDependentResources(ctx, project.ID)
		if err != nil {
			// Leave the project soft-deleted; the next sweep retries the
			// remaining tables.
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.purge.failed", "hard_delete", project.ID, err)
			continue
		}
		if err := r.projects.DropTenantSchema(ctx, project.TenantID); err != nil {
			r.logger(r.withLogContext(ctx, project.ID)).Warn("tenant schema drop failed",
				zap.String("job", "hard_delete"),
				zap.String("tenant_id", idString(project.TenantID)),
				zap.Error(err),
			)
		}

		updated, err := r.projects.MarkHardDeleted(ctx, project.ID, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			r.logReconcilerError(ctx, run, "reconciler.project.process.failed", "hard_delete", project.ID, err)
			continue
		}
		if !updated {
			continue
		}
		run.AddProcessed(1)
		obsmetrics.Reconciler().IncProjectTransition(string(projectdomain.StatusDeleted), string(projectdomain.StatusHardDeleted))
		obsmetrics.Reconciler().AddBatchProcessed("hard_delete", "projects", 1)
		r.snapshotSvc.Invalidate(project.ID)

		resourceCounts := make(map[string]any, len(counts))
		for table, count := range counts {
			resourceCounts[table] = count
		}
		r.emitAuditEvent(ctx, auditEvent{
			ProjectID:  project.ID,
			Action:     "project.hard_deleted",
			TargetType: "project",
			TargetID:   project.ID.String(),
			Metadata: map[string]any{
				"tenant_id":         project.TenantID.String(),
				"resources_deleted": resourceCounts,
			},
		})
		r.publisher.Enqueue(ctx, notifierdomain.Message{
			ProjectID: project.ID,
			Kind:      notifierdomain.KindHardDelete,
			Payload: map[string]any{
				"deleted_at": now.Format(time.RFC3339),
			},
		})
	}

	return jobErr
}

// QuotaReset runs the quota reset job on demand and returns its summary.
// Used by the manual job trigger endpoint.
func (r *Reconciler) QuotaReset(ctx context.Context) (*quotadomain.ResetSummary, error) {
	recMetrics := obsmetrics.Reconciler()
	recMetrics.IncJobRun("quota_reset")
	start := r.clock.Now()
	summary, err := r.quotaSvc.ResetExpired(ctx, r.cfg.UsageRetention)
	recMetrics.ObserveJobDuration("quota_reset", time.Since(start))
	if err != nil {
		recMetrics.IncJobError("quota_reset", err)
		return nil, err
	}
	recMetrics.AddBatchProcessed("quota_reset", "quotas", summary.QuotasReset)
	return summary, nil
}

// AbuseDetection runs the detection sweep on demand and returns its summary.
func (r *Reconciler) AbuseDetection(ctx context.Context) (*abusedomain.DetectionSummary, error) {
	recMetrics := obsmetrics.Reconciler()
	recMetrics.IncJobRun("abuse_detection")
	start := r.clock.Now()
	summary, err := r.abuseSvc.RunDetection(ctx)
	recMetrics.ObserveJobDuration("abuse_detection", time.Since(start))
	if err != nil {
		recMetrics.IncJobError("abuse_detection", err)
		return nil, err
	}
	recMetrics.AddBatchProcessed("abuse_detection", "detections", summary.Detections)
	return summary, nil
}

func (r *Reconciler) emitAuditEvent(ctx context.Context, event auditEvent) {
	if r.auditSvc == nil {
		return
	}
	projectID := event.ProjectID
	targetID := event.TargetID
	if err := r.auditSvc.AuditLog(ctx, &projectID, string(auditdomain.ActorTypeSystem), nil, event.Action, event.TargetType, &targetID, event.Metadata); err != nil {
		r.log.Warn("reconciler audit write failed",
			zap.String("action", event.Action),
			zap.Int64("project_id", int64(projectID)),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) authorizeSystem(ctx context.Context, object string, action string) error {
	if r.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return r.authzSvc.Authorize(ctx, "system", object, action)
}
