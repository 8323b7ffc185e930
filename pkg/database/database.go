package database

import (
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/oops"
)

// Models lists every table the service owns, in migration order.
var Models = []interface{}{
	&model.Subscriber{},
	&model.DailyStat{},
	&model.ActivityLog{},
}

// Open connects to sqlite (a file path or ":memory:") or postgres (a URL).
func Open(driver, dsn string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		PrepareStmt:    false,
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, oops.New(nil, "unknown database driver %q", driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, oops.New(err, "failed to connect to %s database", driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, oops.New(err, "failed to get database instance")
	}

	if driver == "postgres" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	} else {
		// sqlite has a single writer, and every :memory: connection is its own database
		sqlDB.SetMaxOpenConns(1)
	}

	logging.Info().Str("driver", driver).Msg("Database connected")
	return db, nil
}

func Migrate(db *gorm.DB, models ...interface{}) error {
	if len(models) == 0 {
		models = Models
	}
	for _, m := range models {
		if !db.Migrator().HasTable(m) {
			if err := db.Migrator().CreateTable(m); err != nil {
				return oops.New(err, "failed to create table for %T", m)
			}
			logging.Debug().Msgf("Created table for %T", m)
		} else {
			if err := db.Migrator().AutoMigrate(m); err != nil {
				return oops.New(err, "failed to migrate table for %T", m)
			}
			logging.Debug().Msgf("Updated table for %T", m)
		}
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return oops.New(err, "failed to get database instance")
	}
	return sqlDB.Close()
}
