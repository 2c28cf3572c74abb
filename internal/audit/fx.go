package audit

import (
	"github.com/nimbase/controlplane/internal/audit/repository"
	"github.com/nimbase/controlplane/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
