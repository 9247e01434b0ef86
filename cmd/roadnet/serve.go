package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dd0wney/roadnet/pkg/api"
	"github.com/dd0wney/roadnet/pkg/archive"
	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/config"
	"github.com/dd0wney/roadnet/pkg/events"
	"github.com/dd0wney/roadnet/pkg/graphql"
	"github.com/dd0wney/roadnet/pkg/health"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/server"
	"github.com/dd0wney/roadnet/pkg/service"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/spf13/cobra"
)

const systemMetricsInterval = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

The server provides endpoints for:
- Creating customers and issuing API keys
- Uploading and updating road network versions (GeoJSON)
- Querying a network as of any instant (REST and GraphQL)
- Health checks and Prometheus metrics

SIGINT and SIGTERM shut the server down gracefully. SIGHUP reloads the log level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	serveCmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Server port (overrides config)")
	return serveCmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	m := metrics.DefaultRegistry()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	backing, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	st := store.NewInstrumented(backing, m)

	authenticator, err := auth.NewAuthenticator(st, cfg.Auth.KeyCacheSize, logger, m)
	if err != nil {
		backing.Close()
		return err
	}

	var (
		publisher events.Publisher = events.NopPublisher{}
		nng       *events.NNGPublisher
	)
	if cfg.Events.Enabled {
		nng, err = events.NewNNGPublisher(cfg.Events.Listen, logger)
		if err != nil {
			backing.Close()
			return err
		}
		publisher = nng
	}

	archiver, err := newArchiver(ctx, cfg, logger, m)
	if err != nil {
		_ = publisher.Close()
		backing.Close()
		return err
	}

	svc := service.New(st, service.Options{
		Policy:    policy,
		Logger:    logger,
		Metrics:   m,
		Publisher: publisher,
		Archiver:  archiver,
	})

	schema, err := graphql.NewSchema(svc, nil)
	if err != nil {
		_ = publisher.Close()
		backing.Close()
		return err
	}

	checker := health.NewHealthChecker()
	checker.RegisterReadinessCheck("database", health.DatabaseCheck(st.Ping))
	checker.RegisterCheck("events", health.PublisherCheck(func() (bool, string, error) {
		if nng == nil {
			return false, "", nil
		}
		return true, nng.Addr(), nil
	}))
	checker.RegisterLivenessCheck("api", health.SimpleCheck("api"))
	checker.RegisterLivenessCheck("memory", health.MemoryCheck(memoryUsage))

	apiServer := api.NewServer(svc, authenticator, api.Options{
		Health:         checker,
		Metrics:        m,
		Logger:         logger,
		GraphQL:        graphql.NewGraphQLHandler(schema, graphql.DefaultMaxDepth, logger),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Version:        version,
	})

	gs := server.NewGracefulServer(server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, apiServer.Handler(), logger)

	// Hooks run in reverse order: the publisher closes before the store.
	gs.OnShutdown(func(ctx context.Context) error {
		backing.Close()
		return nil
	})
	gs.OnShutdown(func(ctx context.Context) error {
		return publisher.Close()
	})

	gs.SetConfigReloadFunc(func() error {
		fresh, err := opts.load()
		if err != nil {
			return err
		}
		logger.SetLevel(logging.ParseLevel(fresh.Log.Level))
		logger.Info("log level reloaded", logging.String("level", fresh.Log.Level))
		return nil
	})

	go updateSystemMetrics(m, gs.ShutdownChannel())

	logger.Info("roadnet starting",
		logging.String("version", version),
		logging.Int("port", cfg.Server.Port),
		logging.String("driver", cfg.Database.Driver),
		logging.String("matching", cfg.Matching.Policy),
		logging.Bool("events", cfg.Events.Enabled),
		logging.Bool("archive", cfg.Archive.Enabled),
	)
	return gs.Serve(ctx)
}

func newArchiver(ctx context.Context, cfg *config.Config, logger logging.Logger, m *metrics.Registry) (*archive.Archiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	objects, err := archive.NewS3Store(ctx, cfg.Archive.Bucket, cfg.Archive.Region)
	if err != nil {
		return nil, err
	}
	return archive.NewArchiver(objects, cfg.Archive.Prefix, logger, m), nil
}

func memoryUsage() (alloc, sys uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc, ms.Sys
}

func updateSystemMetrics(m *metrics.Registry, done <-chan struct{}) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	m.UpdateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			m.UpdateSystemMetrics()
		case <-done:
			return
		}
	}
}
