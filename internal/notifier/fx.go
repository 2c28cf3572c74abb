package notifier

import (
	"github.com/nimbase/controlplane/internal/notifier/repository"
	"github.com/nimbase/controlplane/internal/notifier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notifier.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewOutbox),
)
