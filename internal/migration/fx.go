package migration

import (
	"context"

	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, catalog catalogdomain.Service, log *zap.Logger) error {
		log = log.Named("migration")

		if conn.Dialector.Name() == db.TypePostgres {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			log.Info("creating schema from models", zap.String("dialect", conn.Dialector.Name()))
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}

		return catalog.EnsureDefaults(context.Background())
	}),
)
