package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/nimbase/controlplane/internal/abuse"
	abusedomain "github.com/nimbase/controlplane/internal/abuse/domain"
	"github.com/nimbase/controlplane/internal/audit"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/authorization"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	"github.com/nimbase/controlplane/internal/notifier"
	"github.com/nimbase/controlplane/internal/observability"
	obsmiddleware "github.com/nimbase/controlplane/internal/observability/logger"
	obsmetrics "github.com/nimbase/controlplane/internal/observability/metrics"
	obstracing "github.com/nimbase/controlplane/internal/observability/tracing"
	"github.com/nimbase/controlplane/internal/override"
	overridedomain "github.com/nimbase/controlplane/internal/override/domain"
	"github.com/nimbase/controlplane/internal/project"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	"github.com/nimbase/controlplane/internal/quota"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	"github.com/nimbase/controlplane/internal/ratelimit"
	"github.com/nimbase/controlplane/internal/reconciler"
	"github.com/nimbase/controlplane/internal/snapshot"
	snapshotdomain "github.com/nimbase/controlplane/internal/snapshot/domain"
	"github.com/nimbase/controlplane/internal/suspension"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	notifier.Module,
	project.Module,
	quota.Module,
	suspension.Module,
	abuse.Module,
	override.Module,
	snapshot.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// JobTrigger is the manual-run surface the reconciler exposes to operators.
type JobTrigger interface {
	QuotaReset(ctx context.Context) (*quotadomain.ResetSummary, error)
	AbuseDetection(ctx context.Context) (*abusedomain.DetectionSummary, error)
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	clock        clock.Clock
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	projectSvc   projectdomain.Service
	quotaSvc     quotadomain.Service
	suspender    suspensiondomain.Service
	overrideSvc  overridedomain.Service
	snapshotSvc  snapshotdomain.Service
	jobs         JobTrigger
	adminLimiter *ratelimit.AdminJobLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	ProjectSvc   projectdomain.Service
	QuotaSvc     quotadomain.Service
	Suspender    suspensiondomain.Service
	OverrideSvc  overridedomain.Service
	SnapshotSvc  snapshotdomain.Service
	Reconciler   *reconciler.Reconciler
	AdminLimiter *ratelimit.AdminJobLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log,
		clock:        p.Clock,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		projectSvc:   p.ProjectSvc,
		quotaSvc:     p.QuotaSvc,
		suspender:    p.Suspender,
		overrideSvc:  p.OverrideSvc,
		snapshotSvc:  p.SnapshotSvc,
		jobs:         p.Reconciler,
		adminLimiter: p.AdminLimiter,
	}

	svc.registerInternalRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerInternalRoutes wires the data-plane surface. It is reachable only
// from inside the deployment network; the gateway never forwards it.
func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal/v1")

	internal.GET("/projects/:project_id/snapshot", s.GetProjectSnapshot)
	internal.GET("/projects/:project_id/quotas", s.GetQuotaUsage)
	internal.POST("/usage", s.RecordUsage)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1")
	admin.Use(s.OperatorAuthRequired())

	projects := admin.Group("/projects")
	projects.GET("/:project_id",
		s.RequireAuthorization(authorization.ObjectProject, authorization.ActionProjectView), s.GetProject)
	projects.DELETE("/:project_id",
		s.RequireAuthorization(authorization.ObjectProject, authorization.ActionProjectDelete), s.DeleteProject)
	projects.POST("/:project_id/restore",
		s.RequireAuthorization(authorization.ObjectProject, authorization.ActionProjectRestore), s.RestoreProject)
	projects.POST("/:project_id/override",
		s.RequireAuthorization(authorization.ObjectOverride, authorization.ActionOverridePerform), s.PerformOverride)
	projects.GET("/:project_id/audit-logs",
		s.RequireAuthorization(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	projects.GET("/:project_id/suspensions",
		s.RequireAuthorization(authorization.ObjectProject, authorization.ActionProjectView), s.ListSuspensionHistory)

	jobs := admin.Group("/jobs")
	jobs.Use(
		s.RequireAuthorization(authorization.ObjectJob, authorization.ActionJobTrigger),
		s.AdminJobRateLimit(),
	)
	jobs.POST("/quota-reset", s.TriggerQuotaReset)
	jobs.POST("/abuse-detection", s.TriggerAbuseDetection)
}

func parseProjectID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, newValidationError("project_id", "invalid_project", "must be a valid project id")
	}
	return id, nil
}

func (s *Server) emitProjectAudit(c *gin.Context, projectID snowflake.ID, action string, metadata map[string]any) {
	actorID := operatorID(c)
	targetID := projectID.String()
	err := s.auditSvc.AuditLog(c.Request.Context(), &projectID, string(auditdomain.ActorTypeOperator), &actorID,
		action, "project", &targetID, metadata)
	if err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("project_id", projectID.String()),
			zap.Error(err),
		)
	}
}
