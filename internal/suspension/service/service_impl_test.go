package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/clock"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	projectrepository "github.com/nimbase/controlplane/internal/project/repository"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	"github.com/nimbase/controlplane/internal/suspension/domain"
	"github.com/nimbase/controlplane/internal/suspension/repository"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type auditStub struct {
	actions []string
}

func (a *auditStub) AuditLog(ctx context.Context, projectID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.actions = append(a.actions, action)
	return nil
}

func (a *auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type publisherStub struct {
	messages []notifierdomain.Message
}

func (p *publisherStub) Enqueue(ctx context.Context, msg notifierdomain.Message) {
	p.messages = append(p.messages, msg)
}

func (p *publisherStub) HasNotificationSince(ctx context.Context, projectID snowflake.ID, kind, service string, level int, since time.Time) (bool, error) {
	return false, nil
}

type snapshotStub struct {
	invalidated []snowflake.ID
}

func (s *snapshotStub) Get(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, snapshotdomain.Meta, error) {
	return nil, snapshotdomain.Meta{}, nil
}

func (s *snapshotStub) Build(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, error) {
	return nil, nil
}

func (s *snapshotStub) Invalidate(projectID snowflake.ID) {
	s.invalidated = append(s.invalidated, projectID)
}

func (s *snapshotStub) Sweep() {}

type testEnv struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	svc       domain.Service
	repo      domain.Repository
	projects  projectdomain.Repository
	audit     *auditStub
	publisher *publisherStub
	snapshots *snapshotStub
}

func newTestEnv(t *testing.T, dsn string) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&projectdomain.Project{},
		&domain.Suspension{},
		&domain.SuspensionHistory{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	audit := &auditStub{}
	publisher := &publisherStub{}
	snapshots := &snapshotStub{}
	repo := repository.NewRepository(db)
	projects := projectrepository.NewRepository(db)

	svc := NewService(Params{
		DB:        db,
		GenID:     node,
		Clock:     fakeClock,
		Repo:      repo,
		Projects:  projects,
		Audit:     audit,
		Publisher: publisher,
		Snapshots: snapshots,
	})

	return &testEnv{
		db:        db,
		node:      node,
		clock:     fakeClock,
		svc:       svc,
		repo:      repo,
		projects:  projects,
		audit:     audit,
		publisher: publisher,
		snapshots: snapshots,
	}
}

func (e *testEnv) seedProject(t *testing.T, status projectdomain.Status) snowflake.ID {
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

func TestSuspendIdempotent(t *testing.T) {
	env := newTestEnv(t, "file:suspend_idem?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)

	first, err := env.svc.Suspend(ctx, projectID, domain.Cause{
		CapExceeded: "db_queries",
		Reason:      "hard cap exceeded",
	})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := env.svc.Suspend(ctx, projectID, domain.Cause{
		CapExceeded: "db_queries",
		Reason:      "hard cap exceeded again",
	})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "second suspend must return the existing episode")

	var count int64
	require.NoError(t, env.db.Model(&domain.Suspension{}).
		Where("project_id = ? AND resolved_at IS NULL", projectID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count, "at most one open suspension per project")

	history, err := env.repo.ListHistory(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "idempotent retry must not append history")
	assert.Equal(t, domain.ActionSuspended, history[0].Action)

	project, err := env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusSuspended, project.Status)
	assert.EqualValues(t, 2, project.Version, "status change bumps version once")
	assert.Len(t, env.snapshots.invalidated, 1, "only the first suspend drops the cached snapshot")
	assert.Contains(t, env.snapshots.invalidated, projectID)
}

func TestUnsuspendOnClearProjectIsNoop(t *testing.T) {
	env := newTestEnv(t, "file:unsuspend_noop?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)

	resolved, err := env.svc.Unsuspend(ctx, projectID, "nothing to do", "operator:1")
	require.NoError(t, err)
	assert.Nil(t, resolved)

	history, err := env.repo.ListHistory(ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, env.publisher.messages)
	assert.Empty(t, env.snapshots.invalidated, "no-op unsuspend keeps the cache warm")
}

func TestSuspendThenUnsuspend(t *testing.T) {
	env := newTestEnv(t, "file:suspend_cycle?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)

	open, err := env.svc.Suspend(ctx, projectID, domain.Cause{
		CapExceeded: "auth_requests",
		Reason:      "hard cap exceeded",
	})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	resolved, err := env.svc.Unsuspend(ctx, projectID, "quota period reset", "system")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, open.ID, resolved.ID)
	require.NotNil(t, resolved.ResolvedAt)

	project, err := env.projects.GetByID(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectdomain.StatusActive, project.Status)

	history, err := env.repo.ListHistory(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionSuspended, history[0].Action)
	assert.Equal(t, domain.ActionUnsuspended, history[1].Action)

	stillOpen, err := env.repo.GetOpenByProject(ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, stillOpen)

	// Both transitions must force the next snapshot read to rebuild.
	assert.Equal(t, []snowflake.ID{projectID, projectID}, env.snapshots.invalidated)
}

func TestSuspendUnknownProject(t *testing.T) {
	env := newTestEnv(t, "file:suspend_unknown?mode=memory&cache=shared")

	_, err := env.svc.Suspend(context.Background(), env.node.Generate(), domain.Cause{
		CapExceeded: "db_queries",
		Reason:      "hard cap exceeded",
	})
	assert.ErrorIs(t, err, projectdomain.ErrProjectNotFound)
}

func TestSuspendNotifiesAndAudits(t *testing.T) {
	env := newTestEnv(t, "file:suspend_notify?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)

	_, err := env.svc.Suspend(ctx, projectID, domain.Cause{
		CapExceeded: "storage_bytes",
		Reason:      "hard cap exceeded",
	})
	require.NoError(t, err)

	require.Len(t, env.publisher.messages, 1)
	assert.Equal(t, notifierdomain.KindSuspension, env.publisher.messages[0].Kind)
	assert.Equal(t, "storage_bytes", env.publisher.messages[0].Service)
	assert.Contains(t, env.audit.actions, "suspension.suspended")
}
