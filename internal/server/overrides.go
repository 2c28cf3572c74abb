package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	overridedomain "github.com/nimbase/controlplane/internal/override/domain"
)

type overrideRequest struct {
	Action  string           `json:"action"`
	Reason  string           `json:"reason"`
	NewCaps map[string]int64 `json:"new_caps,omitempty"`
	Notes   string           `json:"notes,omitempty"`
}

// PerformOverride applies a manual override to the project. The whole
// override is transactional; a rejected request mutates nothing and leaves
// no override record.
func (s *Server) PerformOverride(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	action, err := parseOverrideAction(req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.overrideSvc.Perform(c.Request.Context(), overridedomain.Request{
		ProjectID: projectID,
		Action:    action,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}, operatorActor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func parseOverrideAction(req overrideRequest) (overridedomain.Action, error) {
	switch req.Action {
	case "unsuspend":
		return overridedomain.ActionUnsuspend{}, nil
	case "increase_caps":
		return overridedomain.ActionIncreaseCaps{Caps: req.NewCaps}, nil
	case "both":
		return overridedomain.ActionBoth{Caps: req.NewCaps}, nil
	default:
		return nil, overridedomain.ErrInvalidAction
	}
}
