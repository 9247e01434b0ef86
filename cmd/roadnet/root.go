package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dd0wney/roadnet/pkg/config"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/dd0wney/roadnet/pkg/validation"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	port       int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "roadnet",
		Short: "Versioned road network store with point-in-time queries",
		Long: `roadnet stores successive versions of customer road networks. Each upload
is reconciled against the current graph so unchanged edges keep their identity,
and any past state of a network can be queried by instant.

Configuration is read from a YAML file (--config or ROADNET_CONFIG) and
overridden by ROADNET_* environment variables and command-line flags.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("ROADNET_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newCustomerCmd(opts),
		newArchiveCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the configuration and applies flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	validation.SetLimits(cfg.ValidationLimits())
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.Log.Level))
	logging.SetDefaultLogger(logger)
	return logger
}

// openStore connects the configured backend and migrates it when enabled.
func openStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (store.Store, error) {
	var s store.Store
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := store.NewPGStore(ctx, store.PGConfig{
			URL:         cfg.Database.URL,
			MaxConns:    int32(cfg.Database.MaxConns),
			MinConns:    int32(cfg.Database.MinConns),
			LockTimeout: cfg.Database.LockTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		s = pg
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		s = store.NewMemoryStore(cfg.Database.LockTimeout)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if cfg.Database.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return s, nil
}
