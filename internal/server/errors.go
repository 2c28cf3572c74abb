package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/nimbase/controlplane/internal/audit/domain"
	"github.com/nimbase/controlplane/internal/authorization"
	overridedomain "github.com/nimbase/controlplane/internal/override/domain"
	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
	quotadomain "github.com/nimbase/controlplane/internal/quota/domain"
	suspensiondomain "github.com/nimbase/controlplane/internal/suspension/domain"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if retryAfter := retryAfterSeconds(lastErr.Err); retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, snapshotclient.ErrProjectNotFound),
		errors.Is(err, projectdomain.ErrProjectNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "project_not_found",
			Message: "project not found",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, snapshotclient.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// retryAfterSeconds extracts the suggested delay from a fail-closed snapshot
// error, rounded up to whole seconds.
func retryAfterSeconds(err error) int {
	var uErr *snapshotclient.UnavailableError
	if !errors.As(err, &uErr) || uErr == nil {
		return 0
	}
	secs := int(uErr.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isOverrideValidationError(err),
		isQuotaValidationError(err),
		isAuditValidationError(err),
		isLifecycleValidationError(err):
		return true
	default:
		return false
	}
}

func isOverrideValidationError(err error) bool {
	switch {
	case errors.Is(err, overridedomain.ErrInvalidProject),
		errors.Is(err, overridedomain.ErrInvalidAction),
		errors.Is(err, overridedomain.ErrInvalidReason),
		errors.Is(err, overridedomain.ErrUnknownCapType),
		errors.Is(err, overridedomain.ErrCapOutOfRange),
		errors.Is(err, overridedomain.ErrMissingCaps):
		return true
	default:
		return false
	}
}

func isQuotaValidationError(err error) bool {
	switch {
	case errors.Is(err, quotadomain.ErrInvalidProject),
		errors.Is(err, quotadomain.ErrInvalidService),
		errors.Is(err, quotadomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidProject),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isLifecycleValidationError(err error) bool {
	switch {
	case errors.Is(err, projectdomain.ErrInvalidTransition),
		errors.Is(err, projectdomain.ErrProjectTerminal),
		errors.Is(err, projectdomain.ErrGraceExpired),
		errors.Is(err, suspensiondomain.ErrInvalidProject),
		errors.Is(err, suspensiondomain.ErrInvalidReason):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, projectdomain.ErrProjectNotFound),
		errors.Is(err, snapshotclient.ErrProjectNotFound),
		errors.Is(err, quotadomain.ErrQuotaNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog labels request errors for the access log.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", code
	case status >= http.StatusBadRequest:
		return "client_error", code
	default:
		return "", ""
	}
}
