package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	projectrepository "github.com/nimbase/controlplane/internal/project/repository"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	quotarepository "github.com/nimbase/controlplane/internal/quota/repository"
	"github.com/nimbase/controlplane/internal/snapshot/domain"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type snapshotTestEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	projects projectdomain.Repository
	quotas   quotadomain.Repository
	svc      domain.Service
}

func newSnapshotTestEnv(t *testing.T, dsn string) *snapshotTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&projectdomain.Project{},
		&projectdomain.ProjectService{},
		&projectdomain.RateLimits{},
		&quotadomain.Quota{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	projects := projectrepository.NewRepository(db)
	quotas := quotarepository.NewRepository(db)

	svc := NewService(Params{
		Cfg:      config.Config{SnapshotTTL: time.Minute, SnapshotSweepEvery: time.Minute},
		Clock:    fakeClock,
		Projects: projects,
		Quotas:   quotas,
	})

	return &snapshotTestEnv{
		db:       db,
		node:     node,
		clock:    fakeClock,
		projects: projects,
		quotas:   quotas,
		svc:      svc,
	}
}

func (e *snapshotTestEnv) seedProject(t *testing.T, status projectdomain.Status) snowflake.ID {
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

func (e *snapshotTestEnv) seedService(t *testing.T, projectID snowflake.ID, name string, enabled bool) {
	t.Helper()
	require.NoError(t, e.db.Create(&projectdomain.ProjectService{
		ID:        e.node.Generate(),
		ProjectID: projectID,
		Service:   name,
		Enabled:   enabled,
	}).Error)
}

func (e *snapshotTestEnv) seedQuota(t *testing.T, projectID snowflake.ID, name string, hardCap int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&quotadomain.Quota{
		ID:           e.node.Generate(),
		ProjectID:    projectID,
		Service:      name,
		MonthlyLimit: hardCap / 2,
		HardCap:      hardCap,
		ResetAt:      e.clock.Now().AddDate(0, 1, 0),
	}).Error)
}

func TestGetBuildsAndCaches(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_cache?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)
	env.seedService(t, projectID, quotadomain.ServiceDBQueries, true)
	env.seedService(t, projectID, quotadomain.ServiceStorageBytes, false)
	env.seedQuota(t, projectID, quotadomain.ServiceDBQueries, 100000)

	first, meta, err := env.svc.Get(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, meta.CacheHit)
	assert.Equal(t, time.Minute, meta.TTL)
	assert.EqualValues(t, 1, first.Version)
	assert.Equal(t, "ACTIVE", first.Project.Status)
	assert.True(t, first.ServiceEnabled(quotadomain.ServiceDBQueries))
	assert.False(t, first.ServiceEnabled(quotadomain.ServiceStorageBytes))
	assert.EqualValues(t, 100000, first.Quotas[quotadomain.ServiceDBQueries])

	second, meta, err := env.svc.Get(ctx, projectID)
	require.NoError(t, err)
	assert.True(t, meta.CacheHit)
	assert.Same(t, first, second)
}

func TestGetRebuildsPastTTL(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_ttl?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)

	_, meta, err := env.svc.Get(ctx, projectID)
	require.NoError(t, err)
	require.False(t, meta.CacheHit)

	env.clock.Advance(2 * time.Minute)
	_, meta, err = env.svc.Get(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, meta.CacheHit, "expired entry must be rebuilt")
}

func TestInvalidateForcesRebuild(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_invalidate?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)

	_, _, err := env.svc.Get(ctx, projectID)
	require.NoError(t, err)

	env.svc.Invalidate(projectID)
	_, meta, err := env.svc.Get(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, meta.CacheHit)
}

func TestBuildUnknownProject(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_unknown?mode=memory&cache=shared")

	_, err := env.svc.Build(context.Background(), env.node.Generate())
	assert.ErrorIs(t, err, snapshotclient.ErrProjectNotFound)
}

func TestBuildHardDeletedProject(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_harddeleted?mode=memory&cache=shared")
	projectID := env.seedProject(t, projectdomain.StatusHardDeleted)

	_, err := env.svc.Build(context.Background(), projectID)
	assert.ErrorIs(t, err, snapshotclient.ErrProjectNotFound)
}

func TestBuildAppliesDefaultLimits(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_defaults?mode=memory&cache=shared")
	projectID := env.seedProject(t, projectdomain.StatusActive)

	snapshot, err := env.svc.Build(context.Background(), projectID)
	require.NoError(t, err)

	assert.EqualValues(t, 600, snapshot.Limits.RequestsPerMin)
	assert.EqualValues(t, 10000, snapshot.Limits.RequestsPerHour)
	assert.EqualValues(t, 100000, snapshot.Limits.RequestsPerDay)
	assert.Empty(t, snapshot.Services)
	assert.Empty(t, snapshot.Quotas)
}

func TestVersionIncreasesAfterQuotaMutation(t *testing.T) {
	env := newSnapshotTestEnv(t, "file:snapshot_version?mode=memory&cache=shared")
	ctx := context.Background()
	projectID := env.seedProject(t, projectdomain.StatusActive)
	env.seedQuota(t, projectID, quotadomain.ServiceDBQueries, 100000)

	before, err := env.svc.Build(ctx, projectID)
	require.NoError(t, err)

	applied, err := env.quotas.UpdateHardCap(ctx, projectID, quotadomain.ServiceDBQueries, 200000, env.clock.Now())
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, env.projects.BumpVersion(ctx, projectID))

	after, err := env.svc.Build(ctx, projectID)
	require.NoError(t, err)

	assert.Greater(t, after.Version, before.Version)
	assert.EqualValues(t, 200000, after.Quotas[quotadomain.ServiceDBQueries])
}
