package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/cache"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	"github.com/nimbase/controlplane/internal/observability/logger"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	"github.com/nimbase/controlplane/internal/snapshot/domain"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// snapshotRetryAfter is the delay suggested to consumers when a build fails
// on a transient database error.
const snapshotRetryAfter = 30 * time.Second

type Params struct {
	fx.In

	Cfg      config.Config
	Clock    clock.Clock
	Projects projectdomain.Repository
	Quotas   quotadomain.Repository
}

type cached struct {
	snapshot    *snapshotclient.Snapshot
	generatedAt time.Time
}

type service struct {
	cfg      config.Config
	clock    clock.Clock
	projects projectdomain.Repository
	quotas   quotadomain.Repository
	cache    cache.Cache[snowflake.ID, cached]
}

func NewService(p Params) domain.Service {
	return &service{
		cfg:      p.Cfg,
		clock:    p.Clock,
		projects: p.Projects,
		quotas:   p.Quotas,
		cache:    cache.NewTTLCacheWithNow[snowflake.ID, cached](p.Clock.Now),
	}
}

func (s *service) Get(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, domain.Meta, error) {
	if entry, ok := s.cache.Get(projectID); ok {
		return entry.snapshot, domain.Meta{
			GeneratedAt: entry.generatedAt,
			TTL:         s.cfg.SnapshotTTL,
			CacheHit:    true,
		}, nil
	}

	snapshot, err := s.Build(ctx, projectID)
	if err != nil {
		return nil, domain.Meta{}, err
	}

	now := s.clock.Now()
	s.cache.Set(projectID, cached{snapshot: snapshot, generatedAt: now}, s.cfg.SnapshotTTL)
	return snapshot, domain.Meta{
		GeneratedAt: now,
		TTL:         s.cfg.SnapshotTTL,
		CacheHit:    false,
	}, nil
}

func (s *service) Build(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, projectdomain.ErrProjectNotFound) {
			return nil, snapshotclient.ErrProjectNotFound
		}
		return nil, snapshotclient.Unavailable(err, snapshotRetryAfter)
	}
	// A hard-deleted project no longer exists as far as the data plane is
	// concerned.
	if project.Status == projectdomain.StatusHardDeleted {
		return nil, snapshotclient.ErrProjectNotFound
	}

	services, err := s.projects.ListServices(ctx, projectID)
	if err != nil {
		return nil, snapshotclient.Unavailable(err, snapshotRetryAfter)
	}
	enabled := make(map[string]bool, len(services))
	for _, svc := range services {
		enabled[svc.Service] = svc.Enabled
	}

	limits, err := s.projects.GetRateLimits(ctx, projectID)
	if err != nil {
		return nil, snapshotclient.Unavailable(err, snapshotRetryAfter)
	}
	if limits == nil {
		defaults := projectdomain.DefaultRateLimits(projectID)
		limits = &defaults
	}

	quotas, err := s.quotas.ListByProject(ctx, projectID)
	if err != nil {
		return nil, snapshotclient.Unavailable(err, snapshotRetryAfter)
	}
	hardCaps := make(map[string]int64, len(quotas))
	for _, quota := range quotas {
		hardCaps[quota.Service] = quota.HardCap
	}

	snapshot := &snapshotclient.Snapshot{
		Version: project.Version,
		Project: snapshotclient.ProjectInfo{
			ID:          int64(project.ID),
			TenantID:    int64(project.TenantID),
			Status:      string(project.Status),
			Environment: project.Environment,
		},
		Services: enabled,
		Limits: snapshotclient.Limits{
			RequestsPerMin:  limits.RequestsPerMin,
			RequestsPerHour: limits.RequestsPerHour,
			RequestsPerDay:  limits.RequestsPerDay,
		},
		Quotas: hardCaps,
	}

	logger.FromContext(ctx).Debug("snapshot built",
		zap.Int64("project_id", int64(projectID)),
		zap.Int64("version", snapshot.Version),
		zap.String("status", snapshot.Project.Status),
	)
	return snapshot, nil
}

func (s *service) Invalidate(projectID snowflake.ID) {
	s.cache.Delete(projectID)
}

func (s *service) Sweep() {
	s.cache.Sweep()
}
