package suspension

import (
	"github.com/nimbase/controlplane/internal/suspension/repository"
	"github.com/nimbase/controlplane/internal/suspension/service"
	"go.uber.org/fx"
)

var Module = fx.Module("suspension.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
