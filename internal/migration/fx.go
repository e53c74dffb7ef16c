package migration

import (
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// The embedded migrations are postgres SQL; other dialects manage
		// their schema out of band.
		if cfg.DBType != "postgres" {
			log.Named("migrations").Info("skipping embedded migrations", zap.String("db_type", cfg.DBType))
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
