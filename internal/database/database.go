package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config selects the database backend.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open establishes the configured connection and performs schema migrations.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", dialector.Name()))
	}

	return db, nil
}

// Migrate creates or updates every table and applies the named one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	models := append(store.Models(), &users.User{}, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
