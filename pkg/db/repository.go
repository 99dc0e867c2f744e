// pkg/db/repository.go
package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smith3v/pdf-word-trainer/pkg/config"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Export DB variable
var DB *gorm.DB

func InitDB(cfg config.DatabaseConfig) error {
	dialector, err := Dialector(cfg)
	if err != nil {
		logger.Error("unsupported database driver", "driver", cfg.Driver, "error", err)
		return err
	}
	gormLogger, gormErr := newGormLogger(config.AppConfig.Logging.GormLevel, config.AppConfig.Logging.SlowQuery.Duration)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", config.AppConfig.Logging.GormLevel, "error", gormErr)
	}
	DB, err = gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	if err := Migrate(DB); err != nil {
		logger.Error("failed to migrate database", "error", err)
		return err
	}
	return nil
}

// Dialector picks the gorm driver for cfg. An explicit DSN wins over the
// host/user/password fields.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres", "postgresql", "pg":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "host=" + cfg.Host +
				" user=" + cfg.User +
				" password=" + cfg.Password +
				" dbname=" + cfg.DBName +
				" port=" + strconv.Itoa(cfg.Port) +
				" sslmode=" + cfg.SSLMode
		}
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		}
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.DBName
		}
		if dsn == "" {
			dsn = "pdf-word-trainer.db"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func Migrate(db *gorm.DB) error {
	if err := enableForeignKeys(db); err != nil {
		return err
	}
	return db.AutoMigrate(&Document{}, &WordEntry{}, &Flashcard{})
}

func enableForeignKeys(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if db.Dialector.Name() != "sqlite" {
		return nil
	}
	return db.Exec("PRAGMA foreign_keys = ON").Error
}
