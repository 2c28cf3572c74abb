package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// policyDomain scopes every rule. Operator access is platform-wide, not
// per project, so a single domain suffices.
const policyDomain = "global"

const (
	ObjectProject  = "project"
	ObjectOverride = "override"
	ObjectJob      = "job"
	ObjectAuditLog = "audit_log"
	ObjectSnapshot = "snapshot"
)

const (
	ActionProjectView     = "project.view"
	ActionProjectActivate = "project.activate"
	ActionProjectSuspend  = "project.suspend"
	ActionProjectDelete   = "project.delete"
	ActionProjectRestore  = "project.restore"

	ActionOverridePerform = "override.perform"

	ActionJobTrigger = "job.trigger"

	ActionAuditLogView = "audit_log.view"

	ActionSnapshotView = "snapshot.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return err
	}

	if err := s.ensureGrouping(subject, roleName, policyDomain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, policyDomain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, string, *string, error) {
	if actor == "system" {
		return actor, "role:system", "system", nil, nil
	}
	if strings.HasPrefix(actor, "operator:") {
		operatorID := strings.TrimSpace(strings.TrimPrefix(actor, "operator:"))
		if operatorID == "" {
			return "", "", "", nil, ErrInvalidActor
		}
		role, err := s.roleForOperator(ctx, operatorID)
		if err != nil {
			return actor, "", "operator", &operatorID, err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), "operator", &operatorID, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForOperator(ctx context.Context, operatorID string) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM operator_roles
		 WHERE operator_id = ?
		 LIMIT 1`,
		operatorID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, nil, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"actor":  actorType,
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, nil, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"actor":  actorType,
	})
}

// Grants on destructive actions are audited alongside denials.
func shouldAuditGrant(action string) bool {
	switch action {
	case ActionOverridePerform, ActionProjectDelete, ActionJobTrigger:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Support is read-only.
		{"role:support", ObjectProject, ActionProjectView},
		{"role:support", ObjectAuditLog, ActionAuditLogView},
		{"role:support", ObjectSnapshot, ActionSnapshotView},

		// Operators run jobs and perform overrides.
		{"role:operator", ObjectProject, ActionProjectView},
		{"role:operator", ObjectProject, ActionProjectRestore},
		{"role:operator", ObjectOverride, ActionOverridePerform},
		{"role:operator", ObjectJob, ActionJobTrigger},
		{"role:operator", ObjectAuditLog, ActionAuditLogView},
		{"role:operator", ObjectSnapshot, ActionSnapshotView},

		// Admins additionally delete projects.
		{"role:admin", ObjectProject, ActionProjectView},
		{"role:admin", ObjectProject, ActionProjectDelete},
		{"role:admin", ObjectProject, ActionProjectRestore},
		{"role:admin", ObjectOverride, ActionOverridePerform},
		{"role:admin", ObjectJob, ActionJobTrigger},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectSnapshot, ActionSnapshotView},

		// Automated processes.
		{"role:system", ObjectProject, ActionProjectView},
		{"role:system", ObjectProject, ActionProjectActivate},
		{"role:system", ObjectProject, ActionProjectSuspend},
		{"role:system", ObjectProject, ActionProjectDelete},
		{"role:system", ObjectProject, ActionProjectRestore},
		{"role:system", ObjectJob, ActionJobTrigger},
		{"role:system", ObjectSnapshot, ActionSnapshotView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
