package abuse

import (
	"github.com/nimbase/controlplane/internal/abuse/repository"
	"github.com/nimbase/controlplane/internal/abuse/service"
	"go.uber.org/fx"
)

var Module = fx.Module("abuse.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
