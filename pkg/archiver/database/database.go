package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/config"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Connect opens the job registry and migrates its tables.
func Connect(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "v1_",
		},
		TranslateError: true,
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Printf("[db] connected (%s)", cfg.Driver)
	return db, nil
}

// Migrate creates or updates every table of the job registry.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ArchiveJob{},
		&models.ArchiveJobAttempt{},
		&models.ArchiveJobSetting{},
		&models.TspRecord{},
		&models.BackupRecord{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
