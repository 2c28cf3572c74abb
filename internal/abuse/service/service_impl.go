package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/abuse/domain"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	notifierdomain "github.com/nimbase/controlplane/internal/notifier/domain"
	"github.com/nimbase/controlplane/internal/observability/logger"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// escalationFactor bumps a detector's severity one level once the count
// reaches this multiple of its occurrence threshold.
const escalationFactor = 3

type Params struct {
	fx.In

	DB        *gorm.DB
	GenID     *snowflake.Node
	Clock     clock.Clock
	Holder    *config.DetectorConfigHolder
	Repo      domain.Repository
	Suspender suspensiondomain.Service
	Publisher notifierdomain.Publisher
}

type service struct {
	db        *gorm.DB
	genID     *snowflake.Node
	clock     clock.Clock
	holder    *config.DetectorConfigHolder
	repo      domain.Repository
	suspender suspensiondomain.Service
	publisher notifierdomain.Publisher
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		genID:     p.GenID,
		clock:     p.Clock,
		holder:    p.Holder,
		repo:      p.Repo,
		suspender: p.Suspender,
		publisher: p.Publisher,
	}
}

type detector struct {
	patternType  string
	baseSeverity domain.Severity
	escalated    domain.Severity
	cfg          config.DetectorConfig
	scan         func(ctx context.Context, since time.Time) ([]domain.ProjectHit, error)
}

func (s *service) detectors() []detector {
	cfg := s.holder.Get()
	return []detector{
		{
			patternType:  domain.PatternSQLInjection,
			baseSeverity: domain.SeverityCritical,
			escalated:    domain.SeveritySevere,
			cfg:          cfg.SQLInjection,
			scan:         s.repo.CountSuspiciousRequests,
		},
		{
			patternType:  domain.PatternAuthBruteForce,
			baseSeverity: domain.SeverityCritical,
			escalated:    domain.SeveritySevere,
			cfg:          cfg.AuthBruteForce,
			scan:         s.repo.CountFailedAuth,
		},
		{
			patternType:  domain.PatternRapidKeyCreation,
			baseSeverity: domain.SeverityWarning,
			escalated:    domain.SeverityCritical,
			cfg:          cfg.RapidKeyCreation,
			scan:         s.repo.CountKeyCreations,
		},
	}
}

func (s *service) RunDetection(ctx context.Context) (*domain.DetectionSummary, error) {
	summary := &domain.DetectionSummary{}
	now := s.clock.Now()

	for _, det := range s.detectors() {
		if !det.cfg.Enabled {
			continue
		}
		summary.DetectorsRun++

		hits, err := det.scan(ctx, now.Add(-det.cfg.Window))
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: scan: %v", det.patternType, err))
			continue
		}

		for _, hit := range hits {
			if hit.Count < det.cfg.MinOccurrences {
				continue
			}
			if err := s.handleDetection(ctx, det, hit, now, summary); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: project %d: %v", det.patternType, hit.ProjectID, err))
			}
		}
	}

	logger.FromContext(ctx).Info("abuse detection sweep complete",
		zap.Int("detectors_run", summary.DetectorsRun),
		zap.Int("detections", summary.Detections),
		zap.Int("suspensions", summary.Suspensions),
		zap.Int("warnings", summary.Warnings),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

func (s *service) handleDetection(ctx context.Context, det detector, hit domain.ProjectHit, now time.Time, summary *domain.DetectionSummary) error {
	severity := det.baseSeverity
	if det.cfg.MinOccurrences > 0 && hit.Count >= det.cfg.MinOccurrences*escalationFactor {
		severity = det.escalated
	}

	action := domain.DetermineAction(severity, hit.Count)
	if action == domain.ActionSuspension && !det.cfg.AutoSuspend {
		// Operators opted this detector out of auto-suspension.
		action = domain.ActionWarning
	}

	evidence := map[string]any{
		"occurrences": hit.Count,
		"window":      det.cfg.Window.String(),
		"threshold":   det.cfg.MinOccurrences,
	}

	switch action {
	case domain.ActionSuspension:
		_, err := s.suspender.Suspend(ctx, hit.ProjectID, suspensiondomain.Cause{
			CapExceeded: det.patternType,
			Reason:      fmt.Sprintf("abuse pattern %s: %d occurrences in %s", det.patternType, hit.Count, det.cfg.Window),
			Evidence:    evidence,
		})
		if err != nil {
			return err
		}
		summary.Suspensions++
	case domain.ActionWarning:
		s.publisher.Enqueue(ctx, notifierdomain.Message{
			ProjectID: hit.ProjectID,
			Kind:      notifierdomain.KindAbuseWarning,
			Service:   det.patternType,
			Payload:   evidence,
		})
		summary.Warnings++
	}

	summary.Detections++
	return s.repo.Insert(ctx, domain.PatternDetection{
		ID:              s.genID.Generate(),
		ProjectID:       hit.ProjectID,
		PatternType:     det.patternType,
		Severity:        severity,
		OccurrenceCount: hit.Count,
		Evidence:        datatypes.JSONMap(evidence),
		DetectedAt:      now,
		ActionTaken:     action,
		CreatedAt:       now,
	})
}
