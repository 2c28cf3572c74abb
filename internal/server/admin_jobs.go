package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"go.uber.org/zap"
)

type jobTriggerResponse struct {
	Success     bool      `json:"success"`
	Job         string    `json:"job"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Summary     any       `json:"summary,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// TriggerQuotaReset runs the quota reset job synchronously on behalf of the
// operator. The result envelope reports the outcome either way; a failed run
// is still a successful trigger.
func (s *Server) TriggerQuotaReset(c *gin.Context) {
	started := s.clock.Now()
	summary, err := s.jobs.QuotaReset(c.Request.Context())
	s.writeJobResult(c, "quota_reset", started, summary, err)
}

// TriggerAbuseDetection runs every enabled abuse detector synchronously.
func (s *Server) TriggerAbuseDetection(c *gin.Context) {
	started := s.clock.Now()
	summary, err := s.jobs.AbuseDetection(c.Request.Context())
	s.writeJobResult(c, "abuse_detection", started, summary, err)
}

func (s *Server) writeJobResult(c *gin.Context, job string, started time.Time, summary any, err error) {
	completed := s.clock.Now()
	resp := jobTriggerResponse{
		Success:     err == nil,
		Job:         job,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		Summary:     summary,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	s.emitJobAudit(c, job, resp.Success)

	c.JSON(http.StatusOK, resp)
}

func (s *Server) emitJobAudit(c *gin.Context, job string, success bool) {
	actorID := operatorID(c)
	err := s.auditSvc.AuditLog(c.Request.Context(), nil, string(auditdomain.ActorTypeOperator), &actorID,
		"job.triggered", "job", &job, map[string]any{
			"success": success,
		})
	if err != nil {
		s.log.Warn("job trigger audit write failed",
			zap.String("job", job),
			zap.Error(err),
		)
	}
}
