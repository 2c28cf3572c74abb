// Package authorization enforces role-based access for operator-facing
// endpoints. Policies live in casbin backed by the primary database.
package authorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimbase/controlplane/internal/observability/metrics"
	"go.uber.org/fx"
)

var (
	// ErrForbidden wraps the metrics sentinel so denial is classifiable
	// wherever the error surfaces.
	ErrForbidden = fmt.Errorf("authorization: %w", metrics.ErrForbidden)

	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize reports whether actor may perform action on object. A nil
	// return means allowed.
	Authorize(ctx context.Context, actor string, object string, action string) error
}

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
