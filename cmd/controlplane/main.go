package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	"github.com/nimbase/controlplane/internal/migration"
	"github.com/nimbase/controlplane/internal/observability"
	"github.com/nimbase/controlplane/internal/reconciler"
	"github.com/nimbase/controlplane/internal/server"
	"github.com/nimbase/controlplane/pkg/db"
	"go.uber.org/fx"
)

// The monolith serves the HTTP surface and runs the reconciler in-process.
// Deployments that want jobs isolated run apps/reconciler instead.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		reconciler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
