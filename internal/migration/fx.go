package migration

import (
	"strings"

	"github.com/nimbase/controlplane/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The migration driver is postgres-specific. Other dialects (sqlite
		// in tests) migrate through gorm instead.
		if !strings.EqualFold(cfg.DBType, "postgres") {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
