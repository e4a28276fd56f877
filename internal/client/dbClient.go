package client

import (
	"fmt"
	"time"

	"beatstore/internal/config"
	"beatstore/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase connects with the configured driver. SQLite is for local
// development and tests; production runs on MySQL.
func OpenDatabase(cfg config.Database) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch cfg.Driver {
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.URL), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		// Connection pool (important for webhooks)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
		return db, nil

	case "sqlite", "":
		return OpenSQLite(cfg.URL, gormCfg)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a single-connection SQLite database. One connection keeps
// writers serialized so conditional updates never see SQLITE_BUSY.
func OpenSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	dsn := path + "?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
