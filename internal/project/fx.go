package project

import (
	"github.com/nimbase/controlplane/internal/project/repository"
	"github.com/nimbase/controlplane/internal/project/service"
	"go.uber.org/fx"
)

var Module = fx.Module("project.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
