package quota

import (
	"github.com/nimbase/controlplane/internal/quota/repository"
	"github.com/nimbase/controlplane/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
