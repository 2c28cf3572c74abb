package override

import (
	"github.com/nimbase/controlplane/internal/override/repository"
	"github.com/nimbase/controlplane/internal/override/service"
	"go.uber.org/fx"
)

var Module = fx.Module("override.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
