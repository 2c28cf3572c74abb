package reconciler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	abusedomain "github.com/nimbase/controlplane/internal/abuse/domain"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/clock"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	obsmetrics "github.com/nimbase/controlplane/internal/observability/metrics"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	projectrepository "github.com/nimbase/controlplane/internal/project/repository"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	quotarepository "github.com/nimbase/controlplane/internal/quota/repository"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	suspensionrepository "github.com/nimbase/controlplane/internal/suspension/repository"
	suspensionservice "github.com/nimbase/controlplane/internal/suspension/service"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubQuotaSvc struct {
	resetCalls int
	summary    *quotadomain.ResetSummary
	resetErr   error
}

func (s *stubQuotaSvc) RecordUsage(context.Context, snowflake.ID, string, int64) error { return nil }
func (s *stubQuotaSvc) UsageSince(context.Context, snowflake.ID, string, time.Time) (int64, error) {
	return 0, nil
}
func (s *stubQuotaSvc) GetQuota(context.Context, snowflake.ID, string) (*quotadomain.Quota, error) {
	return nil, nil
}
func (s *stubQuotaSvc) ListQuotas(context.Context, snowflake.ID) ([]quotadomain.Quota, error) {
	return nil, nil
}
func (s *stubQuotaSvc) SetQuota(context.Context, quotadomain.Quota) error { return nil }
func (s *stubQuotaSvc) CheckQuota(context.Context, snowflake.ID, string) (*quotadomain.CheckResult, error) {
	return nil, nil
}
func (s *stubQuotaSvc) EnforceHardCaps(context.Context, snowflake.ID) ([]quotadomain.CheckResult, error) {
	return nil, nil
}
func (s *stubQuotaSvc) ResetExpired(ctx context.Context, retention time.Duration) (*quotadomain.ResetSummary, error) {
	s.resetCalls++
	if s.resetErr != nil {
		return nil, s.resetErr
	}
	if s.summary != nil {
		return s.summary, nil
	}
	return &quotadomain.ResetSummary{}, nil
}

type stubAbuseSvc struct {
	runCalls int
	summary  *abusedomain.DetectionSummary
}

func (s *stubAbuseSvc) RunDetection(ctx context.Context) (*abusedomain.DetectionSummary, error) {
	s.runCalls++
	if s.summary != nil {
		return s.summary, nil
	}
	return &abusedomain.DetectionSummary{}, nil
}

type stubAuditSvc struct {
	actions []string
	err     error
}

func (s *stubAuditSvc) AuditLog(ctx context.Context, projectID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	if s.err != nil {
		return s.err
	}
	s.actions = append(s.actions, action)
	return nil
}

func (s *stubAuditSvc) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type stubAuthzSvc struct {
	denied map[string]bool
}

func (s *stubAuthzSvc) Authorize(ctx context.Context, actor, object, action string) error {
	if s.denied[action] {
		return obsmetrics.ErrForbidden
	}
	return nil
}

type stubSnapshotSvc struct {
	invalidated []snowflake.ID
}

func (s *stubSnapshotSvc) Get(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, snapshotdomain.Meta, error) {
	return nil, snapshotdomain.Meta{}, nil
}
func (s *stubSnapshotSvc) Build(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, error) {
	return nil, nil
}
func (s *stubSnapshotSvc) Invalidate(projectID snowflake.ID) {
	s.invalidated = append(s.invalidated, projectID)
}
func (s *stubSnapshotSvc) Sweep() {}

type sentMessage struct {
	msg notifierdomain.Message
	at  time.Time
}

// recordingPublisher answers dedupe lookups from its own sent log, matching
// the persistence-backed behavior of the real outbox.
type recordingPublisher struct {
	clock    *clock.FakeClock
	messages []sentMessage
}

func (p *recordingPublisher) Enqueue(ctx context.Context, msg notifierdomain.Message) {
	p.messages = append(p.messages, sentMessage{msg: msg, at: p.clock.Now()})
}

func (p *recordingPublisher) HasNotificationSince(ctx context.Context, projectID snowflake.ID, kind, service string, level int, since time.Time) (bool, error) {
	for _, sent := range p.messages {
		if sent.msg.ProjectID == projectID && sent.msg.Kind == kind &&
			sent.msg.Service == service && sent.msg.Level == level &&
			!sent.at.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (p *recordingPublisher) byKind(kind string) []sentMessage {
	var out []sentMessage
	for _, sent := range p.messages {
		if sent.msg.Kind == kind {
			out = append(out, sent)
		}
	}
	return out
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetReconcilerMetricsForTest()
	}
}

type reconcilerTestEnv struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	rec       *Reconciler
	projects  projectdomain.Repository
	quotas    quotadomain.Repository
	suspender suspensiondomain.Service
	quotaSvc  *stubQuotaSvc
	abuseSvc  *stubAbuseSvc
	audit     *stubAuditSvc
	snapshots *stubSnapshotSvc
	publisher *recordingPublisher
}

func newReconcilerTestEnv(t *testing.T, dsn string) *reconcilerTestEnv {
	t.Helper()

	obsmetrics.ResetReconcilerMetricsForTest()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// SQLite has no row locks; strip the clauses the raw claims use.
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&projectdomain.Project{},
		&projectdomain.ProvisioningStep{},
		&suspensiondomain.Suspension{},
		&suspensiondomain.SuspensionHistory{},
		&quotadomain.Quota{},
		&quotadomain.UsageRecord{},
	))
	for _, table := range []string{"api_keys", "webhooks", "functions", "storage_buckets", "secrets"} {
		require.NoError(t, db.Exec(
			`CREATE TABLE `+table+` (id INTEGER PRIMARY KEY, project_id INTEGER, created_at DATETIME)`,
		).Error)
	}

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{clock: fakeClock}
	audit := &stubAuditSvc{}
	snapshots := &stubSnapshotSvc{}
	projects := projectrepository.NewRepository(db)
	quotas := quotarepository.NewRepository(db)
	suspender := suspensionservice.NewService(suspensionservice.Params{
		DB:        db,
		GenID:     node,
		Clock:     fakeClock,
		Repo:      suspensionrepository.NewRepository(db),
		Projects:  projects,
		Audit:     audit,
		Publisher: publisher,
		Snapshots: snapshots,
	})

	quotaSvc := &stubQuotaSvc{}
	abuseSvc := &stubAbuseSvc{}

	rec, err := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Projects:    projects,
		Quotas:      quotas,
		QuotaSvc:    quotaSvc,
		Suspender:   suspender,
		AbuseSvc:    abuseSvc,
		AuditSvc:    audit,
		AuthzSvc:    &stubAuthzSvc{},
		Publisher:   publisher,
		SnapshotSvc: snapshots,
		Config: Config{
			RunInterval:        time.Minute,
			BatchSize:          10,
			GraceWarningWindow: 7 * 24 * time.Hour,
			UsageRetention:     90 * 24 * time.Hour,
		},
	})
	require.NoError(t, err)

	return &reconcilerTestEnv{
		db:        db,
		node:      node,
		clock:     fakeClock,
		rec:       rec,
		projects:  projects,
		quotas:    quotas,
		suspender: suspender,
		quotaSvc:  quotaSvc,
		abuseSvc:  abuseSvc,
		audit:     audit,
		snapshots: snapshots,
		publisher: publisher,
	}
}

func (e *reconcilerTestEnv) seedProject(t *testing.T, status projectdomain.Status) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	require.NoError(t, e.db.Create(&projectdomain.Project{
		ID:          id,
		TenantID:    e.node.Generate(),
		Name:        "acme",
		Environment: "production",
		Status:      status,
		Version:     1,
	}).Error)
	return id
}

func (e *reconcilerTestEnv) seedStep(t *testing.T, projectID snowflake.ID, step, status string) {
	t.Helper()
	require.NoError(t, e.db.Create(&projectdomain.ProvisioningStep{
		ID:        e.node.Generate(),
		ProjectID: projectID,
		Step:      step,
		Status:    status,
	}).Error)
}

func TestActivateProvisionedPromotesCompletedProjects(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_activate?mode=memory&cache=shared")
	ctx := context.Background()

	ready := env.seedProject(t, projectdomain.StatusCreated)
	env.seedStep(t, ready, "schema", projectdomain.StepSucceeded)
	env.seedStep(t, ready, "auth", projectdomain.StepSucceeded)
	env.seedStep(t, ready, "storage", projectdomain.StepSkipped)

	pending := env.seedProject(t, projectdomain.StatusCreated)
	env.seedStep(t, pending, "schema", projectdomain.StepSucceeded)
	env.seedStep(t, pending, "auth", projectdomain.StepPending)

	require.NoError(t, env.rec.ActivateProvisionedJob(ctx))

	project, err := env.projects.GetByID(ctx, ready)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusActive, project.Status)
	assert.EqualValues(t, 2, project.Version, "activation bumps the version")
	assert.Contains(t, env.snapshots.invalidated, ready)
	assert.Contains(t, env.audit.actions, "project.activated")

	waiting, err := env.projects.GetByID(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusCreated, waiting.Status, "incomplete provisioning stays put")
	assert.NotContains(t, env.snapshots.invalidated, pending)
}

func TestReactivateWhenResetDeadlinePasses(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_reactivate_deadline?mode=memory&cache=shared")
	ctx := context.Background()

	projectID := env.seedProject(t, projectdomain.StatusActive)
	_, err := env.suspender.Suspend(ctx, projectID, suspensiondomain.Cause{
		CapExceeded: quotadomain.ServiceDBQueries,
		Reason:      "hard cap exceeded",
	})
	require.NoError(t, err)

	// Quota resets one hour after the suspension opens.
	require.NoError(t, env.quotas.Upsert(ctx, quotadomain.Quota{
		ID:           env.node.Generate(),
		ProjectID:    projectID,
		Service:      quotadomain.ServiceDBQueries,
		MonthlyLimit: 1000,
		HardCap:      2000,
		ResetAt:      env.clock.Now().Add(time.Hour),
	}))

	// One hour before the deadline nothing lifts.
	require.NoError(t, env.rec.ReactivateResetJob(ctx))
	project, err := env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusSuspended, project.Status)

	// Two hours in, the deadline has passed and a single full sweep
	// reactivates the project.
	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.rec.RunOnce(ctx))

	project, err = env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusActive, project.Status)

	open, err := env.suspender.GetOpen(ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, open)

	history, err := env.suspender.History(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, suspensiondomain.ActionSuspended, history[0].Action)
	assert.Equal(t, suspensiondomain.ActionUnsuspended, history[1].Action)
	assert.Equal(t, "system", history[1].Actor)
	assert.Contains(t, env.snapshots.invalidated, projectID)
}

func TestReactivateAfterQuotaCounterRolled(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_reactivate?mode=memory&cache=shared")
	ctx := context.Background()

	projectID := env.seedProject(t, projectdomain.StatusActive)
	_, err := env.suspender.Suspend(ctx, projectID, suspensiondomain.Cause{
		CapExceeded: quotadomain.ServiceDBQueries,
		Reason:      "hard cap exceeded",
	})
	require.NoError(t, err)

	// An earlier sweep already rolled the counter: reset_at sits in the
	// future but the period it closes began after the suspension opened.
	require.NoError(t, env.quotas.Upsert(ctx, quotadomain.Quota{
		ID:           env.node.Generate(),
		ProjectID:    projectID,
		Service:      quotadomain.ServiceDBQueries,
		MonthlyLimit: 1000,
		HardCap:      2000,
		ResetAt:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}))

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.rec.ReactivateResetJob(ctx))

	project, err := env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusActive, project.Status)

	open, err := env.suspender.GetOpen(ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, open)

	history, err := env.suspender.History(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, suspensiondomain.ActionSuspended, history[0].Action)
	assert.Equal(t, suspensiondomain.ActionUnsuspended, history[1].Action)
	assert.Equal(t, "system", history[1].Actor)

	// Second sweep finds nothing to lift.
	require.NoError(t, env.rec.ReactivateResetJob(ctx))
	history, err = env.suspender.History(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "reactivation is idempotent")
	assert.Contains(t, env.snapshots.invalidated, projectID)
}

func TestReactivateSkipsCurrentPeriodSuspension(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_skip_current?mode=memory&cache=shared")
	ctx := context.Background()

	projectID := env.seedProject(t, projectdomain.StatusActive)
	_, err := env.suspender.Suspend(ctx, projectID, suspensiondomain.Cause{
		CapExceeded: quotadomain.ServiceAuthRequests,
		Reason:      "hard cap exceeded",
	})
	require.NoError(t, err)

	// Reset deadline still ahead and the suspension opened inside the
	// period it closes, so the cap still stands.
	require.NoError(t, env.quotas.Upsert(ctx, quotadomain.Quota{
		ID:        env.node.Generate(),
		ProjectID: projectID,
		Service:   quotadomain.ServiceAuthRequests,
		HardCap:   100,
		ResetAt:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}))

	require.NoError(t, env.rec.ReactivateResetJob(ctx))

	project, err := env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusSuspended, project.Status)

	open, err := env.suspender.GetOpen(ctx, projectID)
	require.NoError(t, err)
	assert.NotNil(t, open)
}

func TestReactivateIgnoresAbuseSuspensions(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_skip_abuse?mode=memory&cache=shared")
	ctx := context.Background()

	projectID := env.seedProject(t, projectdomain.StatusActive)
	_, err := env.suspender.Suspend(ctx, projectID, suspensiondomain.Cause{
		CapExceeded: "rapid_key_creation",
		Reason:      "abuse pattern detected",
	})
	require.NoError(t, err)

	require.NoError(t, env.rec.ReactivateResetJob(ctx))

	open, err := env.suspender.GetOpen(ctx, projectID)
	require.NoError(t, err)
	assert.NotNil(t, open, "abuse suspensions only lift via manual override")
}

func TestSyncSuspendedRepairsDrift(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_sync?mode=memory&cache=shared")
	ctx := context.Background()
	now := env.clock.Now()

	// Open suspension but the status column never flipped.
	drifted := env.seedProject(t, projectdomain.StatusActive)
	require.NoError(t, env.db.Create(&suspensiondomain.Suspension{
		ID:          env.node.Generate(),
		ProjectID:   drifted,
		CapExceeded: quotadomain.ServiceDBQueries,
		Reason:      "hard cap exceeded",
		SuspendedAt: now,
	}).Error)

	// SUSPENDED status with no open row backing it.
	orphaned := env.seedProject(t, projectdomain.StatusSuspended)

	require.NoError(t, env.rec.SyncSuspendedJob(ctx))

	project, err := env.projects.GetByID(ctx, drifted)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusSuspended, project.Status)

	project, err = env.projects.GetByID(ctx, orphaned)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusActive, project.Status)

	assert.Contains(t, env.snapshots.invalidated, drifted)
	assert.Contains(t, env.snapshots.invalidated, orphaned)
}

func TestGraceWarningAndHardDeleteLifecycle(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_grace?mode=memory&cache=shared")
	ctx := context.Background()
	now := env.clock.Now()

	graceEnds := now.Add(30 * 24 * time.Hour)
	projectID := env.node.Generate()
	tenantID := env.node.Generate()
	require.NoError(t, env.db.Create(&projectdomain.Project{
		ID:                  projectID,
		TenantID:            tenantID,
		Name:                "doomed",
		Environment:         "production",
		Status:              projectdomain.StatusDeleted,
		Version:             3,
		DeletionScheduledAt: &now,
		GracePeriodEndsAt:   &graceEnds,
	}).Error)
	require.NoError(t, env.db.Exec(
		`INSERT INTO api_keys (id, project_id, created_at) VALUES (?, ?, ?)`,
		env.node.Generate(), projectID, now,
	).Error)

	// Day 10: grace ends in 20 days, outside the warning window.
	env.clock.Advance(10 * 24 * time.Hour)
	require.NoError(t, env.rec.GraceWarningsJob(ctx))
	assert.Empty(t, env.publisher.byKind(notifierdomain.KindGraceWarning))

	// Day 25: inside the 7-day window, exactly one warning.
	env.clock.Advance(15 * 24 * time.Hour)
	require.NoError(t, env.rec.GraceWarningsJob(ctx))
	require.NoError(t, env.rec.GraceWarningsJob(ctx))
	warnings := env.publisher.byKind(notifierdomain.KindGraceWarning)
	require.Len(t, warnings, 1, "warning is sent once per deletion request")
	assert.Equal(t, projectID, warnings[0].msg.ProjectID)

	// Day 29: grace still open, hard delete refuses.
	env.clock.Advance(4 * 24 * time.Hour)
	require.NoError(t, env.rec.HardDeleteJob(ctx))
	project, err := env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusDeleted, project.Status)

	// Day 31: grace elapsed, project and dependents go.
	env.clock.Advance(2 * 24 * time.Hour)
	require.NoError(t, env.rec.HardDeleteJob(ctx))

	project, err = env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusHardDeleted, project.Status)

	var keyCount int64
	require.NoError(t, env.db.Raw(
		`SELECT COUNT(1) FROM api_keys WHERE project_id = ?`, projectID,
	).Scan(&keyCount).Error)
	assert.Zero(t, keyCount, "dependent resources are purged before the flip")

	assert.Contains(t, env.audit.actions, "project.hard_deleted")
	assert.Contains(t, env.snapshots.invalidated, projectID)
	require.Len(t, env.publisher.byKind(notifierdomain.KindHardDelete), 1)

	// Day 32: nothing left to do.
	env.clock.Advance(24 * time.Hour)
	require.NoError(t, env.rec.HardDeleteJob(ctx))
	require.Len(t, env.publisher.byKind(notifierdomain.KindHardDelete), 1)
}

func TestRunOnceRespectsEnabledJobs(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_enabled?mode=memory&cache=shared")
	env.rec.cfg.EnabledJobs = []string{"quota_reset"}

	require.NoError(t, env.rec.RunOnce(context.Background()))

	assert.Equal(t, 1, env.quotaSvc.resetCalls)
	assert.Zero(t, env.abuseSvc.runCalls, "disabled jobs never run")
}

func TestRunOnceRunsEverythingByDefault(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_all?mode=memory&cache=shared")
	env.quotaSvc.summary = &quotadomain.ResetSummary{QuotasChecked: 4, QuotasReset: 2}
	env.abuseSvc.summary = &abusedomain.DetectionSummary{DetectorsRun: 3, Detections: 1}

	require.NoError(t, env.rec.RunOnce(context.Background()))

	assert.Equal(t, 1, env.quotaSvc.resetCalls)
	assert.Equal(t, 1, env.abuseSvc.runCalls)
}

func TestManualTriggerReturnsSummaries(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_trigger?mode=memory&cache=shared")
	env.quotaSvc.summary = &quotadomain.ResetSummary{QuotasChecked: 5, QuotasReset: 3}
	env.abuseSvc.summary = &abusedomain.DetectionSummary{DetectorsRun: 3, Detections: 2, Suspensions: 1}

	reset, err := env.rec.QuotaReset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, reset.QuotasReset)

	detection, err := env.rec.AbuseDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, detection.Detections)
	assert.Equal(t, 1, detection.Suspensions)
}

func TestActivateProvisionedSurvivesAuditFailure(t *testing.T) {
	env := newReconcilerTestEnv(t, "file:rec_audit_fail?mode=memory&cache=shared")
	ctx := context.Background()

	ready := env.seedProject(t, projectdomain.StatusCreated)
	env.seedStep(t, ready, "schema", projectdomain.StepSucceeded)

	env.audit.err = errors.New("audit store down")
	require.NoError(t, env.rec.ActivateProvisionedJob(ctx), "audit failures must not fail the job")

	project, err := env.projects.GetByID(ctx, ready)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusActive, project.Status)
}
