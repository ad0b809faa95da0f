// Package cli builds the conveyor command tree around an
// application-provided client. The application binary registers its
// job classes, constructs a *client.Client, and hands it to New; the
// returned cobra command provides the worker loop and the maintenance
// commands.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/conveyorhq/conveyor/pkg/storage"
)

// Config holds worker configuration sourced from environment
// variables. Command-line flags override these values.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"conveyor.db"`

	Queues               []string      `env:"CONVEYOR_QUEUES"                  envDefault:"default"`
	MaxProcesses         int           `env:"CONVEYOR_MAX_PROCESSES"           envDefault:"10"`
	MaxJobsPerProcess    int           `env:"CONVEYOR_MAX_JOBS_PER_PROCESS"    envDefault:"0"`
	MaxPendingPerProcess int           `env:"CONVEYOR_MAX_PENDING_PER_PROCESS" envDefault:"1"`
	StatsEvery           time.Duration `env:"CONVEYOR_STATS_EVERY"             envDefault:"60s"`
	LostTimeout          time.Duration `env:"CONVEYOR_LOST_TIMEOUT"            envDefault:"30m"`
	ResultRetention      time.Duration `env:"CONVEYOR_RESULT_RETENTION"        envDefault:"0"`
	MaxConns             int           `env:"CONVEYOR_MAX_CONNS"               envDefault:"25"`
}

// LoadConfig parses Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("conveyor: parse environment: %w", err)
	}
	return cfg, nil
}

// OpenDB opens the database named by DATABASE_URL. A postgres:// or
// postgresql:// URL selects the postgres driver; anything else is
// treated as a sqlite path.
func OpenDB(cfg Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	}
	return gorm.Open(sqlite.Open(cfg.DatabaseURL), gormCfg)
}

// OpenStore opens the configured database, bounds its connection pool
// and migrates the job tables.
func OpenStore(ctx context.Context, cfg Config) (*storage.GormStore, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewGormStoreWithPool(db,
		storage.MaxOpenConns(cfg.MaxConns),
		storage.MaxIdleConns(min(cfg.MaxConns, 10)),
	)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
