package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// defaultGracePeriod is how long a soft-deleted project stays recoverable
// before the reconciler purges it.
const defaultGracePeriod = 30 * 24 * time.Hour

// GetProject returns the project with its quotas and any open suspension.
func (s *Server) GetProject(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	project, err := s.projectSvc.GetByID(ctx, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quotas, err := s.quotaSvc.ListQuotas(ctx, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	suspension, err := s.suspender.GetOpen(ctx, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"project": project,
		"quotas":  quotas,
	}
	if suspension != nil {
		resp["open_suspension"] = suspension
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteProject schedules the project for hard deletion after the grace
// period. Idempotent for projects already soft-deleted.
func (s *Server) DeleteProject(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	project, err := s.projectSvc.SoftDelete(c.Request.Context(), projectID, defaultGracePeriod)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.snapshotSvc.Invalidate(projectID)
	s.emitProjectAudit(c, projectID, "project.deletion_scheduled", map[string]any{
		"deletion_scheduled_at": project.DeletionScheduledAt,
		"grace_period_ends_at":  project.GracePeriodEndsAt,
	})

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// RestoreProject cancels a pending deletion while the grace period is open.
func (s *Server) RestoreProject(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	project, err := s.projectSvc.Restore(c.Request.Context(), projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.snapshotSvc.Invalidate(projectID)
	s.emitProjectAudit(c, projectID, "project.restored", map[string]any{
		"status": project.Status,
	})

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// ListSuspensionHistory returns the full suspend/unsuspend trail for the
// project, oldest first.
func (s *Server) ListSuspensionHistory(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	history, err := s.suspender.History(c.Request.Context(), projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}
