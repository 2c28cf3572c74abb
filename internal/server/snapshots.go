package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type snapshotMeta struct {
	GeneratedAt time.Time `json:"generated_at"`
	TTLSeconds  int64     `json:"ttl_seconds"`
	CacheHit    bool      `json:"cache_hit"`
}

// GetProjectSnapshot serves the versioned enforcement snapshot for one
// project. Build failures surface as 503 with a Retry-After hint so
// data-plane callers fail closed instead of caching a stale answer.
func (s *Server) GetProjectSnapshot(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snap, meta, err := s.snapshotSvc.Get(c.Request.Context(), projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshot": snap,
		"metadata": snapshotMeta{
			GeneratedAt: meta.GeneratedAt,
			TTLSeconds:  int64(meta.TTL.Seconds()),
			CacheHit:    meta.CacheHit,
		},
	})
}
