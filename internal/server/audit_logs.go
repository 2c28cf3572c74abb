package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

// ListAuditLogs pages through the project's audit trail, newest first.
func (s *Server) ListAuditLogs(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		ProjectID:  projectID,
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		ActorType:  query.ActorType,
	}

	if req.StartAt, err = parseTimeParam(query.StartAt, "start_at"); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.EndAt, err = parseTimeParam(query.EndAt, "end_at"); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseTimeParam(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, newValidationError(field, "invalid_time", "must be RFC3339")
	}
	return &t, nil
}
