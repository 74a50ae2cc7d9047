package main

import (
	"context"
	"fmt"

	"github.com/warp/pos-engine/config"
	"github.com/warp/pos-engine/logger"
	"github.com/warp/pos-engine/store/postgres"
	"github.com/warp/pos-engine/store/sqlite"
	"github.com/warp/pos-engine/store/sqlstore"
)

// loadConfig reads the configuration and sets up the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DBDSN)
	default:
		return sqlite.New(ctx, cfg.DBDSN)
	}
}
