package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nimbase/controlplane/internal/abuse/domain"
	"github.com/nimbase/controlplane/internal/abuse/repository"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type suspenderStub struct {
	suspended []snowflake.ID
	causes    []suspensiondomain.Cause
}

func (s *suspenderStub) WithTx(tx *gorm.DB) suspensiondomain.Service { return s }

func (s *suspenderStub) Suspend(ctx context.Context, projectID snowflake.ID, cause suspensiondomain.Cause) (*suspensiondomain.Suspension, error) {
	s.suspended = append(s.suspended, projectID)
	s.causes = append(s.causes, cause)
	return &suspensiondomain.Suspension{ProjectID: projectID}, nil
}

func (s *suspenderStub) Unsuspend(ctx context.Context, projectID snowflake.ID, reason, actor string) (*suspensiondomain.Suspension, error) {
	return nil, nil
}

func (s *suspenderStub) GetOpen(ctx context.Context, projectID snowflake.ID) (*suspensiondomain.Suspension, error) {
	return nil, nil
}

func (s *suspenderStub) ListOpen(ctx context.Context) ([]suspensiondomain.Suspension, error) {
	return nil, nil
}

func (s *suspenderStub) History(ctx context.Context, projectID snowflake.ID) ([]suspensiondomain.SuspensionHistory, error) {
	return nil, nil
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

type abuseTestEnv struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	suspender *suspenderStub
	publisher *publisherStub
	cfg       config.DetectorsConfig
}

func newAbuseTestEnv(t *testing.T, dsn string) *abuseTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.PatternDetection{},
		&domain.RequestLog{},
		&domain.AuthEvent{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	return &abuseTestEnv{
		db:        db,
		node:      node,
		clock:     clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)),
		suspender: &suspenderStub{},
		publisher: &publisherStub{},
		cfg:       config.DefaultDetectorsConfig(),
	}
}

func (e *abuseTestEnv) service() domain.Service {
	return NewService(Params{
		DB:        e.db,
		GenID:     e.node,
		Clock:     e.clock,
		Holder:    config.NewStaticDetectorConfigHolder(e.cfg),
		Repo:      repository.NewRepository(e.db),
		Suspender: e.suspender,
		Publisher: e.publisher,
	})
}

func (e *abuseTestEnv) seedFailedAuth(t *testing.T, projectID snowflake.ID, count int, at time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, e.db.Create(&domain.AuthEvent{
			ID:        e.node.Generate(),
			ProjectID: projectID,
			Event:     "password_login",
			Success:   false,
			CreatedAt: at,
		}).Error)
	}
}

func (e *abuseTestEnv) seedKeyCreations(t *testing.T, projectID snowflake.ID, count int, at time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, e.db.Create(&auditdomain.AuditLog{
			ID:         e.node.Generate(),
			ProjectID:  &projectID,
			ActorType:  "service",
			Action:     "api_key.created",
			TargetType: "api_key",
			CreatedAt:  at,
		}).Error)
	}
}

func TestRunDetectionBruteForceSuspends(t *testing.T) {
	env := newAbuseTestEnv(t, "file:abuse_brute?mode=memory&cache=shared")
	projectID := env.node.Generate()
	env.seedFailedAuth(t, projectID, 25, env.clock.Now().Add(-5*time.Minute))

	summary, err := env.service().RunDetection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.DetectorsRun)
	assert.Equal(t, 1, summary.Detections)
	assert.Equal(t, 1, summary.Suspensions)
	assert.Empty(t, summary.Errors)

	require.Len(t, env.suspender.suspended, 1)
	assert.Equal(t, projectID, env.suspender.suspended[0])
	assert.Equal(t, domain.PatternAuthBruteForce, env.suspender.causes[0].CapExceeded)

	var detection domain.PatternDetection
	require.NoError(t, env.db.First(&detection, "project_id = ?", projectID).Error)
	assert.Equal(t, domain.SeverityCritical, detection.Severity)
	assert.Equal(t, 25, detection.OccurrenceCount)
	assert.Equal(t, domain.ActionSuspension, detection.ActionTaken)
}

func TestRunDetectionOutsideWindowIgnored(t *testing.T) {
	env := newAbuseTestEnv(t, "file:abuse_window?mode=memory&cache=shared")
	projectID := env.node.Generate()
	env.seedFailedAuth(t, projectID, 25, env.clock.Now().Add(-time.Hour))

	summary, err := env.service().RunDetection(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Detections)
	assert.Empty(t, env.suspender.suspended)
}

func TestRunDetectionRapidKeysWarnsWithoutSuspending(t *testing.T) {
	env := newAbuseTestEnv(t, "file:abuse_keys?mode=memory&cache=shared")
	projectID := env.node.Generate()
	env.seedKeyCreations(t, projectID, 12, env.clock.Now().Add(-30*time.Minute))

	summary, err := env.service().RunDetection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Detections)
	assert.Equal(t, 1, summary.Warnings)
	assert.Zero(t, summary.Suspensions)
	assert.Empty(t, env.suspender.suspended)

	require.Len(t, env.publisher.messages, 1)
	assert.Equal(t, notifierdomain.KindAbuseWarning, env.publisher.messages[0].Kind)
	assert.Equal(t, domain.PatternRapidKeyCreation, env.publisher.messages[0].Service)
}

func TestRunDetectionEscalatedKeysStillCappedByAutoSuspend(t *testing.T) {
	env := newAbuseTestEnv(t, "file:abuse_keys_escalated?mode=memory&cache=shared")
	projectID := env.node.Generate()
	// 3x the threshold escalates severity to critical, but the detector has
	// auto-suspend off so the outcome stays a warning.
	env.seedKeyCreations(t, projectID, 35, env.clock.Now().Add(-30*time.Minute))

	summary, err := env.service().RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Warnings)
	assert.Zero(t, summary.Suspensions)

	var detection domain.PatternDetection
	require.NoError(t, env.db.First(&detection, "project_id = ?", projectID).Error)
	assert.Equal(t, domain.SeverityCritical, detection.Severity)
	assert.Equal(t, domain.ActionWarning, detection.ActionTaken)
}

func TestRunDetectionDisabledDetectorSkipped(t *testing.T) {
	env := newAbuseTestEnv(t, "file:abuse_disabled?mode=memory&cache=shared")
	projectID := env.node.Generate()
	env.seedFailedAuth(t, projectID, 25, env.clock.Now().Add(-5*time.Minute))

	env.cfg.AuthBruteForce.Enabled = false
	summary, err := env.service().RunDetection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.DetectorsRun)
	assert.Zero(t, summary.Detections)
	assert.Empty(t, env.suspender.suspended)
}
