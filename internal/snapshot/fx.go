package snapshot

import (
	"context"
	"time"

	"github.com/nimbase/controlplane/internal/config"
	"github.com/nimbase/controlplane/internal/snapshot/domain"
	"github.com/nimbase/controlplane/internal/snapshot/service"
	"go.uber.org/fx"
)

var Module = fx.Module("snapshot.service",
	fx.Provide(service.NewService),
	fx.Invoke(startSweeper),
)

// startSweeper evicts expired snapshot cache entries in the background so
// rarely-read projects do not pin memory until the next read.
func startSweeper(lc fx.Lifecycle, cfg config.Config, svc domain.Service) {
	if cfg.SnapshotSweepEvery <= 0 {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(cfg.SnapshotSweepEvery)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						svc.Sweep()
					case <-stop:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
