// Package gorm keeps the event log and the cold archive in a SQL database.
// Postgres is used in production, sqlite in tests.
package gorm

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	gormio "gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	DSN    string
	Log    *slog.Logger
	// SlowThreshold logs queries above it as warnings.
	SlowThreshold time.Duration
}

// Open connects to the database and migrates the aggstore tables.
func Open(cfg Config) (*gormio.DB, error) {
	var dialector gormio.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}

	db, err := gormio.Open(dialector, &gormio.Config{
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormlogger.New(
			slog.NewLogLogger(log.With(slog.String("component", "gorm")).Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             slow,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the aggstore tables.
func Migrate(db *gormio.DB) error {
	if err := db.AutoMigrate(&StreamRecord{}, &EventRecord{}, &ArchivedEventRecord{}, &KVRecord{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
