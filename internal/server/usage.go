package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type recordUsageRequest struct {
	ProjectID string `json:"project_id"`
	Service   string `json:"service"`
	Amount    int64  `json:"amount"`
}

// RecordUsage ingests one usage delta from a data-plane service and returns
// the post-ingest quota check. Hard-cap consequences fire inside the check,
// so a caller seeing hard_cap_exceeded can stop serving immediately instead
// of waiting for the next snapshot refresh.
func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	if err := s.quotaSvc.RecordUsage(ctx, projectID, req.Service, req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.quotaSvc.CheckQuota(ctx, projectID, req.Service)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetQuotaUsage reports current usage against limits for every service of
// the project. Read-only; no consequences fire.
func (s *Server) GetQuotaUsage(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quotas, err := s.quotaSvc.ListQuotas(c.Request.Context(), projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quotas": quotas})
}
