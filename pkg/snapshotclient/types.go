// Package snapshotclient holds the control-plane snapshot value object and
// the fail-closed cache data-plane services use to consume it.
package snapshotclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrProjectNotFound is definitive: the project does not exist and the
// caller should not retry.
var ErrProjectNotFound = errors.New("project_not_found")

// ErrUnavailable marks a retryable control-plane failure. Consumers must
// treat any authorization question as "no" while it persists.
var ErrUnavailable = errors.New("control_plane_unavailable")

// UnavailableError wraps ErrUnavailable with a suggested retry delay.
type UnavailableError struct {
	Cause      error
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("control plane unavailable (retry after %s): %v", e.RetryAfter, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// Unavailable wraps cause as a retryable control-plane failure.
func Unavailable(cause error, retryAfter time.Duration) error {
	return &UnavailableError{Cause: cause, RetryAfter: retryAfter}
}

// ProjectInfo is the project subset distributed in snapshots.
type ProjectInfo struct {
	ID          int64  `json:"id,string"`
	TenantID    int64  `json:"tenant_id,string"`
	Status      string `json:"status"`
	Environment string `json:"environment"`
}

// Limits carries the request ceilings for the project.
type Limits struct {
	RequestsPerMin  int64 `json:"requests_per_min"`
	RequestsPerHour int64 `json:"requests_per_hour"`
	RequestsPerDay  int64 `json:"requests_per_day"`
}

// Snapshot is an immutable, versioned projection of a project's
// control-plane state. Version increases monotonically per project whenever
// project or quota state changes.
type Snapshot struct {
	Version  int64            `json:"version"`
	Project  ProjectInfo      `json:"project"`
	Services map[string]bool  `json:"services"`
	Limits   Limits           `json:"limits"`
	Quotas   map[string]int64 `json:"quotas"`
}

// Active reports whether the project may serve traffic.
func (s *Snapshot) Active() bool {
	return s != nil && s.Project.Status == "ACTIVE"
}

// ServiceEnabled reports whether the named service is enabled.
func (s *Snapshot) ServiceEnabled(service string) bool {
	if s == nil {
		return false
	}
	return s.Services[service]
}
