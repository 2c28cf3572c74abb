package reconciler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("reconciler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartReconciler),
)

func StartReconciler(lc fx.Lifecycle, rec *Reconciler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go rec.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
