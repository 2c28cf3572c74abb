package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/internal/abuse"
	"github.com/nimbase/controlplane/internal/audit"
	"github.com/nimbase/controlplane/internal/authorization"
	"github.com/nimbase/controlplane/internal/clock"
	"github.com/nimbase/controlplane/internal/config"
	"github.com/nimbase/controlplane/internal/migration"
	"github.com/nimbase/controlplane/internal/notifier"
	"github.com/nimbase/controlplane/internal/observability"
	"github.com/nimbase/controlplane/internal/project"
	"github.com/nimbase/controlplane/internal/quota"
	"github.com/nimbase/controlplane/internal/ratelimit"
	"github.com/nimbase/controlplane/internal/reconciler"
	"github.com/nimbase/controlplane/internal/snapshot"
	"github.com/nimbase/controlplane/internal/suspension"
	"github.com/nimbase/controlplane/pkg/db"
	"go.uber.org/fx"
)

// Jobs-only deployment: no HTTP surface beyond what observability exposes.
// Several replicas may run at once; the redis sweep lock keeps them from
// working the same batch.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		authorization.Module,
		audit.Module,
		notifier.Module,
		project.Module,
		quota.Module,
		suspension.Module,
		abuse.Module,
		snapshot.Module,
		ratelimit.Module,

		reconciler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
