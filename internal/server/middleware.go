package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/nimbase/controlplane/internal/observability/context"
	"go.uber.org/zap"
)

const operatorHeader = "X-Operator-Id"

const operatorContextKey = "operator_id"

// OperatorAuthRequired gates the admin surface. The operator identity comes
// from the gateway-injected header; requests without one are rejected before
// any authorization check runs.
func (s *Server) OperatorAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(operatorHeader))
		if id == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(operatorContextKey, id)
		ctx := obscontext.WithActor(c.Request.Context(), "operator", id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func operatorID(c *gin.Context) string {
	return c.GetString(operatorContextKey)
}

// operatorActor is the casbin subject for the authenticated operator.
func operatorActor(c *gin.Context) string {
	return "operator:" + operatorID(c)
}

// RequireAuthorization enforces the (object, action) policy for the
// authenticated operator. Runs after OperatorAuthRequired.
func (s *Server) RequireAuthorization(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), operatorActor(c), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// AdminJobRateLimit bounds manual job triggers per operator. Limiter outages
// fail open; the trigger itself is still authorized and audited.
func (s *Server) AdminJobRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.adminLimiter.Enabled() {
			c.Next()
			return
		}

		res, err := s.adminLimiter.AllowOperator(c.Request.Context(), operatorID(c))
		if err != nil {
			s.log.Warn("admin job rate limit check failed, allowing request",
				zap.String("operator_id", operatorID(c)),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}
