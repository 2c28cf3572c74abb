// Package guard holds the pure transition preconditions checked by the
// reconciler before it mutates project state.
package guard

import (
	"errors"
	"time"

	projectdomain "github.com/nimbase/controlplane/internal/project/domain"
)

var (
	ErrProjectNotCreated      = errors.New("project_not_created")
	ErrProvisioningIncomplete = errors.New("provisioning_incomplete")
	ErrProvisioningFailed     = errors.New("provisioning_failed")
	ErrProjectNotDeleted      = errors.New("project_not_deleted")
	ErrMissingGraceDeadline   = errors.New("missing_grace_deadline")
	ErrGraceStillOpen         = errors.New("grace_period_still_open")
)

// EnsureProjectCanActivate verifies every provisioning step has finished.
// A project with no steps recorded is still provisioning.
func EnsureProjectCanActivate(status projectdomain.Status, steps []projectdomain.ProvisioningStep) error {
	if status != projectdomain.StatusCreated {
		return ErrProjectNotCreated
	}
	if len(steps) == 0 {
		return ErrProvisioningIncomplete
	}
	for _, step := range steps {
		switch step.Status {
		case projectdomain.StepSucceeded, projectdomain.StepSkipped:
		case projectdomain.StepFailed:
			return ErrProvisioningFailed
		default:
			return ErrProvisioningIncomplete
		}
	}
	return nil
}

// EnsureProjectCanHardDelete verifies the grace period has fully elapsed.
func EnsureProjectCanHardDelete(status projectdomain.Status, graceEndsAt *time.Time, now time.Time) error {
	if status != projectdomain.StatusDeleted {
		return ErrProjectNotDeleted
	}
	if graceEndsAt == nil {
		return ErrMissingGraceDeadline
	}
	if now.Before(*graceEndsAt) {
		return ErrGraceStillOpen
	}
	return nil
}

// QuotaPeriodHasReset reports whether the quota period that produced the
// suspension is over. Either the reset deadline has passed, or the counter
// already rolled into a period that began after the suspension opened.
func QuotaPeriodHasReset(resetAt, suspendedAt, now time.Time) bool {
	if !resetAt.After(now) {
		return true
	}
	periodStart := resetAt.AddDate(0, -1, 0)
	return suspendedAt.Before(periodStart)
}
