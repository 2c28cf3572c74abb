package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	abusedomain "github.com/nimbase/controlplane/internal/abuse/domain"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/authorization"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	overridedomain "github.com/nimbase/controlplane/internal/override/domain"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubSnapshotSvc struct {
	snap        *snapshotclient.Snapshot
	meta        snapshotdomain.Meta
	err         error
	invalidated []snowflake.ID
}

func (s *stubSnapshotSvc) Get(context.Context, snowflake.ID) (*snapshotclient.Snapshot, snapshotdomain.Meta, error) {
	return s.snap, s.meta, s.err
}

func (s *stubSnapshotSvc) Build(context.Context, snowflake.ID) (*snapshotclient.Snapshot, error) {
	return s.snap, s.err
}

func (s *stubSnapshotSvc) Invalidate(projectID snowflake.ID) {
	s.invalidated = append(s.invalidated, projectID)
}

func (s *stubSnapshotSvc) Sweep() {}

type stubOverrideSvc struct {
	result      *overridedomain.Result
	err         error
	lastReq     overridedomain.Request
	performedBy string
}

func (s *stubOverrideSvc) Perform(_ context.Context, req overridedomain.Request, performedBy string) (*overridedomain.Result, error) {
	s.lastReq = req
	s.performedBy = performedBy
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type recordedAudit struct {
	action    string
	actorType string
	actorID   string
}

type stubAuditSvc struct {
	entries  []recordedAudit
	listReq  auditdomain.ListAuditLogRequest
	listResp auditdomain.ListAuditLogResponse
}

func (s *stubAuditSvc) AuditLog(_ context.Context, _ *snowflake.ID, actorType string, actorID *string, action string, _ string, _ *string, _ map[string]any) error {
	entry := recordedAudit{action: action, actorType: actorType}
	if actorID != nil {
		entry.actorID = *actorID
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditSvc) List(_ context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	s.listReq = req
	return s.listResp, nil
}

type stubAuthzSvc struct {
	denied map[string]bool
}

func (s *stubAuthzSvc) Authorize(_ context.Context, actor, object, action string) error {
	if s.denied[actor+"|"+object+"|"+action] {
		return authorization.ErrForbidden
	}
	return nil
}

type stubProjectSvc struct {
	project *projectdomain.Project
	err     error
}

func (s *stubProjectSvc) GetByID(context.Context, snowflake.ID) (*projectdomain.Project, error) {
	return s.project, s.err
}

func (s *stubProjectSvc) SoftDelete(context.Context, snowflake.ID, time.Duration) (*projectdomain.Project, error) {
	return s.project, s.err
}

func (s *stubProjectSvc) Restore(context.Context, snowflake.ID) (*projectdomain.Project, error) {
	return s.project, s.err
}

type stubQuotaSvc struct {
	quotas      []quotadomain.Quota
	check       *quotadomain.CheckResult
	recorded    []string
	recordErr   error
	lastService string
	lastAmount  int64
}

func (s *stubQuotaSvc) RecordUsage(_ context.Context, _ snowflake.ID, service string, amount int64) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recorded = append(s.recorded, service)
	s.lastService = service
	s.lastAmount = amount
	return nil
}

func (s *stubQuotaSvc) UsageSince(context.Context, snowflake.ID, string, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubQuotaSvc) GetQuota(context.Context, snowflake.ID, string) (*quotadomain.Quota, error) {
	return nil, quotadomain.ErrQuotaNotFound
}

func (s *stubQuotaSvc) ListQuotas(context.Context, snowflake.ID) ([]quotadomain.Quota, error) {
	return s.quotas, nil
}

func (s *stubQuotaSvc) SetQuota(context.Context, quotadomain.Quota) error { return nil }

func (s *stubQuotaSvc) CheckQuota(context.Context, snowflake.ID, string) (*quotadomain.CheckResult, error) {
	return s.check, nil
}

func (s *stubQuotaSvc) EnforceHardCaps(context.Context, snowflake.ID) ([]quotadomain.CheckResult, error) {
	return nil, nil
}

func (s *stubQuotaSvc) ResetExpired(context.Context, time.Duration) (*quotadomain.ResetSummary, error) {
	return &quotadomain.ResetSummary{}, nil
}

type stubSuspensionSvc struct {
	open    *suspensiondomain.Suspension
	history []suspensiondomain.SuspensionHistory
}

func (s *stubSuspensionSvc) WithTx(*gorm.DB) suspensiondomain.Service { return s }

func (s *stubSuspensionSvc) Suspend(context.Context, snowflake.ID, suspensiondomain.Cause) (*suspensiondomain.Suspension, error) {
	return nil, nil
}

func (s *stubSuspensionSvc) Unsuspend(context.Context, snowflake.ID, string, string) (*suspensiondomain.Suspension, error) {
	return nil, nil
}

func (s *stubSuspensionSvc) GetOpen(context.Context, snowflake.ID) (*suspensiondomain.Suspension, error) {
	return s.open, nil
}

func (s *stubSuspensionSvc) ListOpen(context.Context) ([]suspensiondomain.Suspension, error) {
	return nil, nil
}

func (s *stubSuspensionSvc) History(context.Context, snowflake.ID) ([]suspensiondomain.SuspensionHistory, error) {
	return s.history, nil
}

type stubJobTrigger struct {
	resetSummary     *quotadomain.ResetSummary
	resetErr         error
	detectionSummary *abusedomain.DetectionSummary
	detectionErr     error
	resetCalls       int
	detectionCalls   int
}

func (s *stubJobTrigger) QuotaReset(context.Context) (*quotadomain.ResetSummary, error) {
	s.resetCalls++
	return s.resetSummary, s.resetErr
}

func (s *stubJobTrigger) AbuseDetection(context.Context) (*abusedomain.DetectionSummary, error) {
	s.detectionCalls++
	return s.detectionSummary, s.detectionErr
}

type serverTestEnv struct {
	server    *Server
	snapshots *stubSnapshotSvc
	overrides *stubOverrideSvc
	audits    *stubAuditSvc
	authz     *stubAuthzSvc
	projects  *stubProjectSvc
	quotas    *stubQuotaSvc
	suspender *stubSuspensionSvc
	jobs      *stubJobTrigger
	clock     *clock.FakeClock
}

func newServerTestEnv(t *testing.T) *serverTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	env := &serverTestEnv{
		snapshots: &stubSnapshotSvc{},
		overrides: &stubOverrideSvc{},
		audits:    &stubAuditSvc{},
		authz:     &stubAuthzSvc{denied: map[string]bool{}},
		projects:  &stubProjectSvc{},
		quotas:    &stubQuotaSvc{},
		suspender: &stubSuspensionSvc{},
		jobs:      &stubJobTrigger{},
		clock:     clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}

	env.server = &Server{
		engine:      engine,
		cfg:         config.Config{ListenAddr: ":0"},
		log:         zap.NewNop(),
		clock:       env.clock,
		authzSvc:    env.authz,
		auditSvc:    env.audits,
		projectSvc:  env.projects,
		quotaSvc:    env.quotas,
		suspender:   env.suspender,
		overrideSvc: env.overrides,
		snapshotSvc: env.snapshots,
		jobs:        env.jobs,
	}
	env.server.registerInternalRoutes()
	env.server.registerAdminRoutes()

	return env
}

func (env *serverTestEnv) do(t *testing.T, method, path, operator string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if operator != "" {
		req.Header.Set("X-Operator-Id", operator)
	}

	rec := httptest.NewRecorder()
	env.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSnapshotEndpointServesSnapshot(t *testing.T) {
	env := newServerTestEnv(t)
	env.snapshots.snap = &snapshotclient.Snapshot{
		Version: 7,
		Project: snapshotclient.ProjectInfo{ID: 1001, Status: "ACTIVE"},
		Services: map[string]bool{
			"auth": true,
		},
	}
	env.snapshots.meta = snapshotdomain.Meta{
		GeneratedAt: env.clock.Now(),
		TTL:         time.Minute,
		CacheHit:    true,
	}

	rec := env.do(t, http.MethodGet, "/internal/v1/projects/1001/snapshot", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	snap := body["snapshot"].(map[string]any)
	assert.Equal(t, float64(7), snap["version"])
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Equal(t, float64(60), meta["ttl_seconds"])
}

func TestSnapshotEndpointUnknownProject(t *testing.T) {
	env := newServerTestEnv(t)
	env.snapshots.err = snapshotclient.ErrProjectNotFound

	rec := env.do(t, http.MethodGet, "/internal/v1/projects/1001/snapshot", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	errPayload := body["error"].(map[string]any)
	assert.Equal(t, "project_not_found", errPayload["type"])
}

func TestSnapshotEndpointUnavailableSetsRetryAfter(t *testing.T) {
	env := newServerTestEnv(t)
	env.snapshots.err = snapshotclient.Unavailable(errors.New("db down"), 30*time.Second)

	rec := env.do(t, http.MethodGet, "/internal/v1/projects/1001/snapshot", "", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	errPayload := body["error"].(map[string]any)
	assert.Equal(t, "service_unavailable", errPayload["type"])
}

func TestSnapshotEndpointRejectsBadID(t *testing.T) {
	env := newServerTestEnv(t)

	rec := env.do(t, http.MethodGet, "/internal/v1/projects/not-a-number/snapshot", "", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresOperatorHeader(t *testing.T) {
	env := newServerTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/v1/jobs/quota-reset", "", nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.jobs.resetCalls)
}

func TestAdminForbiddenOperator(t *testing.T) {
	env := newServerTestEnv(t)
	env.authz.denied["operator:eve|job|job.trigger"] = true

	rec := env.do(t, http.MethodPost, "/admin/v1/jobs/quota-reset", "eve", nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.jobs.resetCalls)
}

func TestTriggerQuotaResetReturnsEnvelope(t *testing.T) {
	env := newServerTestEnv(t)
	env.jobs.resetSummary = &quotadomain.ResetSummary{QuotasChecked: 4, QuotasReset: 2}

	rec := env.do(t, http.MethodPost, "/admin/v1/jobs/quota-reset", "alice", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "quota_reset", body["job"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["quotas_reset"])
	assert.Equal(t, 1, env.jobs.resetCalls)

	require.Len(t, env.audits.entries, 1)
	assert.Equal(t, "job.triggered", env.audits.entries[0].action)
	assert.Equal(t, "alice", env.audits.entries[0].actorID)
}

func TestTriggerAbuseDetectionReportsFailure(t *testing.T) {
	env := newServerTestEnv(t)
	env.jobs.detectionErr = errors.New("detector exploded")

	rec := env.do(t, http.MethodPost, "/admin/v1/jobs/abuse-detection", "alice", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "detector exploded", body["error"])
}

func TestOverrideRejectsUnknownAction(t *testing.T) {
	env := newServerTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/v1/projects/1001/override", "alice", map[string]any{
		"action": "make_it_go_away",
		"reason": "because",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	errPayload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", errPayload["type"])
}

func TestOverrideAppliesWithOperatorActor(t *testing.T) {
	env := newServerTestEnv(t)
	env.overrides.result = &overridedomain.Result{
		PreviousState: overridedomain.ProjectState{Status: "SUSPENDED"},
		CurrentState:  overridedomain.ProjectState{Status: "ACTIVE"},
	}

	rec := env.do(t, http.MethodPost, "/admin/v1/projects/1001/override", "alice", map[string]any{
		"action": "both",
		"reason": "support escalation",
		"new_caps": map[string]int64{
			"db_queries": 200000,
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator:alice", env.overrides.performedBy)
	assert.Equal(t, "support escalation", env.overrides.lastReq.Reason)

	action, ok := env.overrides.lastReq.Action.(overridedomain.ActionBoth)
	require.True(t, ok)
	assert.Equal(t, int64(200000), action.Caps["db_queries"])

	body := decodeBody(t, rec)
	prev := body["previous_state"].(map[string]any)
	assert.Equal(t, "SUSPENDED", prev["status"])
}

func TestOverrideValidationFailurePassesThrough(t *testing.T) {
	env := newServerTestEnv(t)
	env.overrides.err = overridedomain.ErrCapOutOfRange

	rec := env.do(t, http.MethodPost, "/admin/v1/projects/1001/override", "alice", map[string]any{
		"action": "increase_caps",
		"reason": "support escalation",
		"new_caps": map[string]int64{
			"db_queries": -5,
		},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrideEmptyCapSetRejected(t *testing.T) {
	env := newServerTestEnv(t)
	env.overrides.err = overridedomain.ErrMissingCaps

	rec := env.do(t, http.MethodPost, "/admin/v1/projects/1001/override", "alice", map[string]any{
		"action": "increase_caps",
		"reason": "support escalation",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	errPayload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", errPayload["type"])
}

func TestRecordUsageReturnsCheckResult(t *testing.T) {
	env := newServerTestEnv(t)
	env.quotas.check = &quotadomain.CheckResult{
		Service:         "db_queries",
		CurrentUsage:    90,
		MonthlyLimit:    100,
		UsagePercent:    90,
		WarnLevel:       quotadomain.WarnLevelNinety,
		HardCapExceeded: false,
	}

	rec := env.do(t, http.MethodPost, "/internal/v1/usage", "", map[string]any{
		"project_id": "1001",
		"service":    "db_queries",
		"amount":     5,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "db_queries", env.quotas.lastService)
	assert.Equal(t, int64(5), env.quotas.lastAmount)

	body := decodeBody(t, rec)
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(90), result["warn_level"])
}

func TestRecordUsageRejectsBadAmount(t *testing.T) {
	env := newServerTestEnv(t)
	env.quotas.recordErr = quotadomain.ErrInvalidAmount

	rec := env.do(t, http.MethodPost, "/internal/v1/usage", "", map[string]any{
		"project_id": "1001",
		"service":    "db_queries",
		"amount":     -1,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAuditLogsParsesFilters(t *testing.T) {
	env := newServerTestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/admin/v1/projects/1001/audit-logs?action=project.restored&start_at=2026-05-01T00:00:00Z&page_size=10",
		"alice", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "project.restored", env.audits.listReq.Action)
	assert.Equal(t, 10, env.audits.listReq.PageSize)
	require.NotNil(t, env.audits.listReq.StartAt)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), env.audits.listReq.StartAt.UTC())
}

func TestListAuditLogsRejectsBadTime(t *testing.T) {
	env := newServerTestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/admin/v1/projects/1001/audit-logs?start_at=yesterday", "alice", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAndRestoreInvalidateSnapshot(t *testing.T) {
	env := newServerTestEnv(t)
	now := env.clock.Now()
	graceEnds := now.Add(30 * 24 * time.Hour)
	env.projects.project = &projectdomain.Project{
		ID:                  1001,
		Status:              projectdomain.StatusDeleted,
		DeletionScheduledAt: &now,
		GracePeriodEndsAt:   &graceEnds,
	}

	rec := env.do(t, http.MethodDelete, "/admin/v1/projects/1001", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env.projects.project = &projectdomain.Project{ID: 1001, Status: projectdomain.StatusActive}
	rec = env.do(t, http.MethodPost, "/admin/v1/projects/1001/restore", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []snowflake.ID{1001, 1001}, env.snapshots.invalidated)

	require.Len(t, env.audits.entries, 2)
	assert.Equal(t, "project.deletion_scheduled", env.audits.entries[0].action)
	assert.Equal(t, "project.restored", env.audits.entries[1].action)
}

func TestGraceExpiredRestoreMapsToValidationError(t *testing.T) {
	env := newServerTestEnv(t)
	env.projects.err = projectdomain.ErrGraceExpired

	rec := env.do(t, http.MethodPost, "/admin/v1/projects/1001/restore", "alice", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.snapshots.invalidated)
}
